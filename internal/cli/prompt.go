package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"promptcraft/internal/tokenizer"
)

type promptReply struct {
	Prompt string            `json:"prompt"`
	Tokens *tokenizer.Report `json:"tokens"`
}

// sessionAction calls a per-session endpoint for the session named by args.
func (st *state) sessionAction(cmd *cobra.Command, args []string, method, action string, body, out any) ([]byte, error) {
	id, err := st.sessionID(args)
	if err != nil {
		return nil, err
	}
	c, err := st.client()
	if err != nil {
		return nil, err
	}
	return c.Do(cmd.Context(), method, "/v1/sessions/"+id+"/"+action, body, out)
}

func (st *state) printPrompt(cmd *cobra.Command, raw []byte, p promptReply) error {
	return st.print(cmd, raw, func() error {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, p.Prompt)
		if p.Tokens != nil {
			note := ""
			if p.Tokens.Over {
				note = " (over budget)"
			}
			fmt.Fprintf(w, "tokens: %d/%d%s\n", p.Tokens.Count, p.Tokens.Budget, note)
		}
		return nil
	})
}

func newPromptCmd(st *state) *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "prompt [session] <seed idea>",
		Short: "Refine a seed idea into a prompt",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := args[len(args)-1]
			var p promptReply
			raw, err := st.sessionAction(cmd, args[:len(args)-1], http.MethodPost, "prompt", map[string]string{"seed": seed, "style": style}, &p)
			if err != nil {
				return err
			}
			return st.printPrompt(cmd, raw, p)
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "photograph, illustration or oil painting (or 1-3)")
	return cmd
}

func newEditCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "edit [session] <prompt>",
		Short: "Replace the session prompt",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[len(args)-1]
			var p promptReply
			raw, err := st.sessionAction(cmd, args[:len(args)-1], http.MethodPut, "prompt", map[string]string{"prompt": text}, &p)
			if err != nil {
				return err
			}
			return st.printPrompt(cmd, raw, p)
		},
	}
}

func newShrinkCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "shrink [session]",
		Short: "Compress the session prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p promptReply
			raw, err := st.sessionAction(cmd, args, http.MethodPost, "shrink", nil, &p)
			if err != nil {
				return err
			}
			return st.printPrompt(cmd, raw, p)
		},
	}
}

func newClipCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "clip [session]",
		Short: "Rewrite the session prompt for the CLIP encoder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p promptReply
			raw, err := st.sessionAction(cmd, args, http.MethodPost, "clip", nil, &p)
			if err != nil {
				return err
			}
			return st.printPrompt(cmd, raw, p)
		},
	}
}

func newImproveCmd(st *state) *cobra.Command {
	var critique string
	cmd := &cobra.Command{
		Use:   "improve [session]",
		Short: "Fold a critique into the session prompt",
		Long:  "Fold a critique into the session prompt. Without --critique the session's last critique is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p promptReply
			raw, err := st.sessionAction(cmd, args, http.MethodPost, "improve", map[string]string{"critique": critique}, &p)
			if err != nil {
				return err
			}
			return st.printPrompt(cmd, raw, p)
		},
	}
	cmd.Flags().StringVar(&critique, "critique", "", "critique text")
	return cmd
}

func newTokensCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens <text>...",
		Short: "Count prompt tokens against the budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := st.client()
			if err != nil {
				return err
			}
			var out struct {
				tokenizer.Report
				Approximate bool `json:"approximate"`
			}
			raw, err := c.Do(cmd.Context(), http.MethodPost, "/v1/tokens", map[string]string{"text": strings.Join(args, " ")}, &out)
			if err != nil {
				return err
			}
			return st.print(cmd, raw, func() error {
				note := ""
				if out.Approximate {
					note = " (approximate)"
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d/%d tokens%s\n", out.Count, out.Budget, note)
				return err
			})
		},
	}
}

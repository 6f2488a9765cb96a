package cli

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"promptcraft/internal/session"
)

func newSessionCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, inspect and remove sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "new",
			Short: "Start a new session and print its id",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := st.client()
				if err != nil {
					return err
				}
				var snap session.Snapshot
				raw, err := c.Do(cmd.Context(), http.MethodPost, "/v1/sessions", nil, &snap)
				if err != nil {
					return err
				}
				return st.print(cmd, raw, func() error {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), snap.ID)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List live sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := st.client()
				if err != nil {
					return err
				}
				var out struct {
					Items []session.Snapshot `json:"items"`
				}
				raw, err := c.Do(cmd.Context(), http.MethodGet, "/v1/sessions", nil, &out)
				if err != nil {
					return err
				}
				return st.print(cmd, raw, func() error {
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tSTATE\tIMAGES\tPROMPT")
					for _, s := range out.Items {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.State, len(s.History), truncate(s.Prompt, 48))
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "show [id]",
			Short: "Show a session",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := st.sessionID(args)
				if err != nil {
					return err
				}
				c, err := st.client()
				if err != nil {
					return err
				}
				var snap session.Snapshot
				raw, err := c.Do(cmd.Context(), http.MethodGet, "/v1/sessions/"+id, nil, &snap)
				if err != nil {
					return err
				}
				return st.print(cmd, raw, func() error { return writeSnapshot(cmd, snap) })
			},
		},
		&cobra.Command{
			Use:   "rm [id]",
			Short: "Close a session",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := st.sessionID(args)
				if err != nil {
					return err
				}
				c, err := st.client()
				if err != nil {
					return err
				}
				if _, err := c.Do(cmd.Context(), http.MethodDelete, "/v1/sessions/"+id, nil, nil); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", id)
				return err
			},
		},
		newExportCmd(st),
	)
	return cmd
}

func newExportCmd(st *state) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export [id]",
		Short: "Download the session's images as a zip archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := st.sessionID(args)
			if err != nil {
				return err
			}
			c, err := st.client()
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("session-%s.zip", id)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := c.Download(cmd.Context(), "/v1/sessions/"+id+"/export.zip", f); err != nil {
				f.Close()
				_ = os.Remove(output)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", output)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default session-<id>.zip)")
	return cmd
}

func writeSnapshot(cmd *cobra.Command, s session.Snapshot) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "session  %s (%s)\n", s.ID, s.State)
	if s.Seed != "" {
		fmt.Fprintf(w, "seed     %s [%s]\n", s.Seed, s.Style)
	}
	if s.Prompt != "" {
		fmt.Fprintf(w, "prompt   %s\n", s.Prompt)
		fmt.Fprintf(w, "tokens   %d/%d\n", s.Tokens.Count, s.Tokens.Budget)
	}
	for i, img := range s.History {
		marker := " "
		if i == s.Selected {
			marker = "*"
		}
		fmt.Fprintf(w, "%s [%d] %-13s %s\n", marker, i, img.Source, img.URL)
	}
	if s.Critique != "" {
		fmt.Fprintf(w, "critique\n%s\n", s.Critique)
	}
	if s.LastError != "" {
		fmt.Fprintf(w, "error    %s\n", s.LastError)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

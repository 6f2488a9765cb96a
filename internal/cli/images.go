package cli

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"promptcraft/internal/domain"
	"promptcraft/internal/session"
)

type imageReply struct {
	Image   domain.ImageRef  `json:"image"`
	Session session.Snapshot `json:"session"`
}

func (st *state) printImage(cmd *cobra.Command, raw []byte, r imageReply) error {
	return st.print(cmd, raw, func() error {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, r.Image.URL)
		if r.Image.LocalPath != "" {
			fmt.Fprintf(w, "saved: %s\n", r.Image.LocalPath)
		}
		return nil
	})
}

func newGenerateCmd(st *state) *cobra.Command {
	var steps int
	var guided bool
	cmd := &cobra.Command{
		Use:   "generate [session]",
		Short: "Render the session prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Images []domain.ImageRef `json:"images"`
			}
			raw, err := st.sessionAction(cmd, args, http.MethodPost, "images", map[string]any{"steps": steps, "guided": guided}, &out)
			if err != nil {
				return err
			}
			return st.print(cmd, raw, func() error {
				for _, img := range out.Images {
					fmt.Fprintln(cmd.OutOrStdout(), img.URL)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "inference steps (default 4, or 28 when guided)")
	cmd.Flags().BoolVar(&guided, "guided", false, "condition on the selected image")
	return cmd
}

func newCritiqueCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "critique [session]",
		Short: "Critique the selected image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Critique string `json:"critique"`
			}
			raw, err := st.sessionAction(cmd, args, http.MethodPost, "critique", nil, &out)
			if err != nil {
				return err
			}
			return st.print(cmd, raw, func() error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), out.Critique)
				return err
			})
		},
	}
}

func newCheckTextCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "check-text [session]",
		Short: "Check text rendered in the selected image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out session.TextCheck
			raw, err := st.sessionAction(cmd, args, http.MethodPost, "check-text", nil, &out)
			if err != nil {
				return err
			}
			return st.print(cmd, raw, func() error {
				w := cmd.OutOrStdout()
				if out.OK {
					_, err := fmt.Fprintln(w, "text ok")
					return err
				}
				_, err := fmt.Fprintf(w, "text issues: %s\n", out.Detail)
				return err
			})
		},
	}
}

func newRefineCmd(st *state) *cobra.Command {
	var prompt string
	var face bool
	cmd := &cobra.Command{
		Use:   "refine [session]",
		Short: "Run img2img over the selected image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out imageReply
			body := map[string]any{"prompt": prompt, "face_restoration": face}
			raw, err := st.sessionAction(cmd, args, http.MethodPost, "refine", body, &out)
			if err != nil {
				return err
			}
			return st.printImage(cmd, raw, out)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt override (default: session prompt)")
	cmd.Flags().BoolVar(&face, "face", true, "restore faces with ADetailer")
	return cmd
}

func newUpscaleCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "upscale [session]",
		Short: "Upscale the selected image 4x",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out imageReply
			raw, err := st.sessionAction(cmd, args, http.MethodPost, "upscale", nil, &out)
			if err != nil {
				return err
			}
			return st.printImage(cmd, raw, out)
		},
	}
}

func newSDXLCmd(st *state) *cobra.Command {
	var prompt string
	var control bool
	cmd := &cobra.Command{
		Use:   "sdxl [session]",
		Short: "Render with the local SDXL pipeline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out imageReply
			raw, err := st.sessionAction(cmd, args, http.MethodPost, "sdxl", map[string]any{"prompt": prompt, "control": control}, &out)
			if err != nil {
				return err
			}
			return st.printImage(cmd, raw, out)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt override (default: session prompt)")
	cmd.Flags().BoolVar(&control, "control", false, "condition on the selected image with ControlNet")
	return cmd
}

func newSelectCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "select [session] <index>",
		Short: "Select the image critique and refinement act on",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[len(args)-1])
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			var snap session.Snapshot
			raw, err := st.sessionAction(cmd, args[:len(args)-1], http.MethodPut, "selection", map[string]int{"index": index}, &snap)
			if err != nil {
				return err
			}
			return st.print(cmd, raw, func() error { return writeSnapshot(cmd, snap) })
		},
	}
}

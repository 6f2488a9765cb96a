// Package cli implements craftctl, a command-line client for the
// promptcraft API.
package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultServer = "http://localhost:8080"

func Execute() error {
	return newRootCmd(nil).Execute()
}

type state struct {
	v          *viper.Viper
	httpClient *http.Client
}

func newRootCmd(httpClient *http.Client) *cobra.Command {
	st := &state{v: viper.New(), httpClient: httpClient}
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "craftctl",
		Short:         "craftctl drives promptcraft sessions from the terminal",
		Long:          "craftctl talks to a promptcraft server: refine a seed idea into a prompt, render it, critique the result and refine the image.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.loadConfig(cfgFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.craftctl.yaml)")
	flags.String("server", defaultServer, "promptcraft API base URL")
	flags.StringP("session", "s", "", "session id")
	flags.Bool("json", false, "print raw JSON responses")
	for _, name := range []string{"server", "session", "json"} {
		_ = st.v.BindPFlag(name, flags.Lookup(name))
	}
	st.v.SetEnvPrefix("CRAFT")
	st.v.AutomaticEnv()

	rootCmd.AddCommand(
		newSessionCmd(st),
		newPromptCmd(st),
		newEditCmd(st),
		newShrinkCmd(st),
		newClipCmd(st),
		newImproveCmd(st),
		newTokensCmd(st),
		newGenerateCmd(st),
		newCritiqueCmd(st),
		newCheckTextCmd(st),
		newRefineCmd(st),
		newUpscaleCmd(st),
		newSDXLCmd(st),
		newSelectCmd(st),
	)
	return rootCmd
}

func (st *state) loadConfig(cfgFile string) error {
	if cfgFile != "" {
		st.v.SetConfigFile(cfgFile)
		if err := st.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	st.v.AddConfigPath(home)
	st.v.SetConfigName(".craftctl")
	st.v.SetConfigType("yaml")
	if err := st.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func (st *state) client() (*Client, error) {
	return NewClient(st.v.GetString("server"), st.httpClient)
}

// sessionID takes the id from the first argument or --session/CRAFT_SESSION.
func (st *state) sessionID(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if id := st.v.GetString("session"); id != "" {
		return id, nil
	}
	return "", errors.New("session id required: pass it as an argument or set --session / CRAFT_SESSION")
}

// print writes raw as indented JSON when --json is set, otherwise calls text.
func (st *state) print(cmd *cobra.Command, raw []byte, text func() error) error {
	if st.v.GetBool("json") {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		}
		buf.WriteByte('\n')
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	return text()
}

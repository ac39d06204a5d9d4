package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cpuguy83/calslots/internal/auth"
	"github.com/cpuguy83/calslots/internal/config"
	"github.com/cpuguy83/calslots/internal/sync"
)

func newAuthCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in to calendar providers",
		Long: `Stores provider credentials so that serve and slots can run without
prompting.`,
	}
	cmd.AddCommand(
		newAuthGoogleCommand(root),
		newAuthMS365Command(root),
	)
	return cmd
}

func newAuthGoogleCommand(root *rootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "google",
		Short: "Authorize Google Calendar access and save the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := findSource(root, config.SourceGoogle, source)
			if err != nil {
				return err
			}
			gc, err := sync.GoogleAuthConfig(src)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if !isTerminal(in) {
				slog.Warn("stdin is not a terminal, reading the authorization code from it anyway")
			}

			if _, err := auth.GoogleLogin(cmd.Context(), gc, in, cmd.OutOrStdout()); err != nil {
				return err
			}
			cmd.Printf("\nToken saved to %s\n", gc.TokenFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "name of the google source to authorize (default: the first one)")
	return cmd
}

func newAuthMS365Command(root *rootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "ms365",
		Short: "Sign in to Microsoft 365 with a device code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := findSource(root, config.SourceMS365, source)
			if err != nil {
				return err
			}

			dc := sync.MS365AuthConfig(src)
			dc.Interactive = true
			dc.Prompt = cmd.OutOrStdout()

			a, err := auth.NewDeviceCodeAuth(dc)
			if err != nil {
				return err
			}
			defer a.Close()

			tok, err := a.GetToken(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Signed in as %s; token valid until %s\n", tok.AccountID, tok.ExpiresOn.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "name of the ms365 source to sign in (default: the first one)")
	return cmd
}

// findSource returns the configured source of type typ called name, or the
// first of that type when name is empty. Without a config file an unnamed
// lookup yields a bare source so the default credential paths apply.
func findSource(root *rootOptions, typ, name string) (config.SourceConfig, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return config.SourceConfig{}, err
	}

	for _, s := range cfg.Sources {
		if s.Type != typ {
			continue
		}
		if name == "" || s.Name == name {
			return s, nil
		}
	}
	if name != "" {
		return config.SourceConfig{}, fmt.Errorf("no %s source named %q in config", typ, name)
	}
	return config.SourceConfig{Name: typ, Type: typ}, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

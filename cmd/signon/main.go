package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/signon/internal/app"
	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/session"
)

// printOpener shows authorize URLs instead of launching a browser.
type printOpener struct{ w io.Writer }

func (p printOpener) Open(_ context.Context, url string) error {
	_, err := fmt.Fprintf(p.w, "Open this URL to sign in:\n\n  %s\n\n", url)
	return err
}

func main() {
	var (
		envFile string
		timeout time.Duration
	)

	root := &cobra.Command{
		Use:           "signon",
		Short:         "Client-side OpenID Connect session for bartab services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long one-shot commands may take")

	// setup loads config and builds the application for one-shot commands.
	setup := func(cmd *cobra.Command, opts app.Options) (*app.Application, context.Context, context.CancelFunc, error) {
		cfg, err := app.LoadConfig(envFile)
		if err != nil {
			return nil, nil, nil, err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
		stop := func() { cancelTimeout(); cancel() }

		application, err := app.New(ctx, cfg, opts)
		if err != nil {
			stop()
			return nil, nil, nil, fmt.Errorf("failed to initialize application: %w", err)
		}
		return application, ctx, stop, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve the session and serve the debug API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(envFile)
			if err != nil {
				return err
			}
			application, err := app.New(cmd.Context(), cfg, app.Options{Opener: printOpener{os.Stderr}})
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return application.Run(cmd.Context())
		},
	}

	var callback string
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in, silently if possible",
		Long: "Sign in. With --callback, completes a redirect login by handing over\n" +
			"the URL the browser landed on after the identity provider.",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, ctx, stop, err := setup(cmd, app.Options{Opener: printOpener{cmd.ErrOrStderr()}, CallbackURL: callback})
			if err != nil {
				return err
			}
			defer stop()
			defer application.Close(context.Background())

			sess := application.Session()
			snap, err := sess.Start(ctx)
			if err != nil {
				return err
			}
			if snap.State != session.Authenticated {
				snap, err = sess.Login(ctx)
				if errors.Is(err, identity.ErrNavigatedAway) {
					fmt.Fprintln(cmd.ErrOrStderr(), "Then run: signon login --callback '<redirected url>'")
					return nil
				}
				if err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
	loginCmd.Flags().StringVar(&callback, "callback", "", "redirect URL returned by the identity provider")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out the active account and forget its tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, ctx, stop, err := setup(cmd, app.Options{Opener: printOpener{cmd.ErrOrStderr()}})
			if err != nil {
				return err
			}
			defer stop()
			defer application.Close(context.Background())

			sess := application.Session()
			if _, err := sess.Start(ctx); err != nil {
				return err
			}
			snap, err := sess.Logout(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the session state and the signed-in user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, ctx, stop, err := setup(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer stop()
			defer application.Close(context.Background())

			snap, err := application.Session().Start(ctx)
			if err != nil {
				return err
			}
			out := map[string]any{"session": snap}
			if snap.State == session.Authenticated {
				p, err := application.Profiles().Profile(ctx)
				if err != nil {
					application.Logger().Warn("profile unavailable", "error", err)
				} else {
					out["profile"] = map[string]any{
						"display_name": p.DisplayNameOr("User"),
						"email":        p.EmailOr(""),
					}
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	root.AddCommand(runCmd, loginCmd, logoutCmd, whoamiCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

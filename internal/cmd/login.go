package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	"github.com/router-for-me/clipify/internal/tui"
	"github.com/router-for-me/clipify/sdk/auth"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type loginFlags struct {
	signup    bool
	noBrowser bool
	noTUI     bool
	wait      time.Duration
}

func newLoginCommand(opts *globalOptions, signup bool) *cobra.Command {
	flags := &loginFlags{signup: signup}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, opts, flags)
		},
	}
	if signup {
		cmd.Use = "signup"
		cmd.Short = "Create an account or sign in with another one"
	} else {
		cmd.Flags().BoolVar(&flags.signup, "signup", false, "ask the provider to show account selection")
	}
	cmd.Flags().BoolVar(&flags.noBrowser, "no-browser", false, "print the sign-in URL instead of opening the browser")
	cmd.Flags().BoolVar(&flags.noTUI, "no-tui", false, "wait with plain log output instead of the progress view")
	cmd.Flags().DurationVar(&flags.wait, "wait", clipify.AuthRequestTTL, "how long to wait for the browser callback")
	return cmd
}

func runLogin(cmd *cobra.Command, opts *globalOptions, flags *loginFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if flags.wait <= 0 {
		return fmt.Errorf("--wait must be positive")
	}

	sinkOut := out
	if !flags.noTUI {
		sinkOut = io.Discard
	}
	a, err := newApp(ctx, opts, consoleSink{out: sinkOut})
	if err != nil {
		return err
	}
	defer a.Close()

	if err = a.listener.StartListening(a.session); err != nil {
		return err
	}
	if a.cfg.Bridge.Enabled {
		bridge := a.newBridge()
		if errStart := bridge.Start(); errStart != nil {
			log.Warnf("login: %v", errStart)
		} else {
			defer func() { _ = bridge.Stop(context.Background()) }()
		}
	}

	authURL, err := a.session.Login(ctx, auth.LoginOptions{Signup: flags.signup, NoBrowser: flags.noBrowser})
	if authURL == nil {
		return err
	}
	if flags.noTUI && (err != nil || flags.noBrowser) {
		fmt.Fprintf(out, "Open this URL to sign in:\n\n  %s\n\n", authURL.URL)
	}

	waitCtx, cancel := context.WithTimeout(ctx, flags.wait)
	defer cancel()

	var state auth.SessionState
	if flags.noTUI {
		fmt.Fprintln(out, "Waiting for the browser sign-in to complete...")
		state, err = waitForLogin(waitCtx, a.session)
	} else {
		state, err = runLoginView(waitCtx, a, authURL.URL, out)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		a.flow.Reset()
		fmt.Fprintln(out, "Timed out waiting for the browser sign-in.")
		return errSilentExit
	case errors.Is(err, tui.ErrLoginAborted), errors.Is(err, context.Canceled):
		a.flow.Reset()
		return errSilentExit
	case err != nil:
		return err
	case !state.IsAuthenticated:
		return errSilentExit
	}
	return nil
}

// runLoginView shows the progress view. Log output is routed into the view
// while it runs unless logs already go to a file.
func runLoginView(ctx context.Context, a *app, authURL string, out io.Writer) (auth.SessionState, error) {
	logger := log.StandardLogger()
	hook := tui.NewLogHook(32)
	logger.AddHook(hook)
	if !a.cfg.LoggingToFile {
		prev := logger.Out
		logger.SetOutput(io.Discard)
		defer logger.SetOutput(prev)
	}
	defer func() {
		hooks := make(log.LevelHooks)
		for level, registered := range logger.Hooks {
			for _, h := range registered {
				if h != hook {
					hooks[level] = append(hooks[level], h)
				}
			}
		}
		logger.ReplaceHooks(hooks)
		hook.Close()
	}()

	return tui.RunLogin(ctx, a.session, authURL, hook, out)
}

// waitForLogin blocks until the session signs in, fails for good, or ctx ends.
func waitForLogin(ctx context.Context, session *auth.Session) (auth.SessionState, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := session.Subscribe(func(auth.SessionState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		state := session.State()
		if tui.LoginFinished(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-changed:
		}
	}
}

func newLogoutCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err = a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

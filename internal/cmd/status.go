package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	"github.com/router-for-me/clipify/internal/tui"
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sign-in status, recovering the session if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			a.session.CheckExistingAuth(ctx)
			state := a.session.State()
			record := a.session.Token()
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(state)
			}
			fmt.Fprintln(out, tui.RenderStatus(state, record, time.Now()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session state as JSON")
	return cmd
}

func newRefreshCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the stored access token now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, consoleSink{out: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !a.session.RefreshToken(ctx) {
				state := a.session.State()
				if state.IsAuthenticated {
					fmt.Fprintln(out, "Refresh failed; the current token stays valid until it expires.")
				}
				return errSilentExit
			}
			record := a.session.Token()
			fmt.Fprintf(out, "Token refreshed (%s), expires %s\n",
				clipify.MaskedToken(record), record.ExpiryTime().Local().Format(time.RFC1123))
			return nil
		},
	}
}

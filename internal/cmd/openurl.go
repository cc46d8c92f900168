package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/router-for-me/clipify/internal/deeplink"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newOpenURLCommand is the handler registered for the clipify:// scheme.
// It hands the link to whichever clipify process is listening.
func newOpenURLCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open-url <url>",
		Short: "Deliver a deep link to the running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.TrimSpace(args[0])
			u, err := url.Parse(raw)
			if err != nil || u.Scheme == "" {
				return fmt.Errorf("open-url: %q is not a URL", raw)
			}
			if !strings.EqualFold(u.Scheme, opts.cfg.DeepLink.Scheme) {
				return fmt.Errorf("open-url: unexpected scheme %q, want %q", u.Scheme, opts.cfg.DeepLink.Scheme)
			}

			path, err := deeplink.WriteInbox(opts.cfg.InboxDir(opts.resolvedDir), raw)
			if err != nil {
				return err
			}
			log.Debugf("open-url: queued %s", path)
			return nil
		},
	}
}

package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/router-for-me/clipify/internal/clipboard"
	"github.com/router-for-me/clipify/internal/config"
	"github.com/router-for-me/clipify/internal/logging"
	"github.com/router-for-me/clipify/internal/watcher"
	"github.com/router-for-me/clipify/sdk/auth"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent: deep-link listener, token auto-refresh and clipboard history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, opts)
		},
	}
}

func runAgent(ctx context.Context, opts *globalOptions) error {
	a, err := newApp(ctx, opts, consoleSink{out: os.Stdout})
	if err != nil {
		return err
	}
	defer a.Close()

	unsubscribe := a.session.Subscribe(logStateChanges())
	defer unsubscribe()

	if err = a.listener.StartListening(a.session); err != nil {
		return err
	}
	log.Infof("agent: listening for deep links in %s", a.inbox.Dir())

	if a.session.CheckExistingAuth(ctx) {
		log.Info("agent: restored previous session")
	} else {
		log.Info("agent: not signed in, run `clipify login` to sign in")
	}

	var monitor *clipboard.Monitor
	if a.cfg.Clipboard.Enabled {
		if monitor, err = newClipboardMonitor(a); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.session.Run(gctx) })
	if monitor != nil {
		g.Go(func() error { return monitor.Run(gctx) })
	}
	if _, errStat := os.Stat(opts.configFile); errStat == nil {
		w := watcher.NewWatcher(opts.configFile, a.cfg, applyReload(monitor))
		g.Go(func() error { return w.Run(gctx) })
	}
	if a.cfg.Bridge.Enabled {
		bridge := a.newBridge()
		g.Go(func() error { return bridge.Run(gctx) })
	}

	err = g.Wait()
	log.Info("agent: stopped")
	return err
}

func newClipboardMonitor(a *app) (*clipboard.Monitor, error) {
	if !clipboard.Supported() {
		log.Warn("agent: no clipboard utility found, clipboard history disabled")
		return nil, nil
	}
	path := filepath.Join(a.dataDir, clipboard.HistoryFile)
	history, err := clipboard.LoadHistory(path)
	if err != nil {
		return nil, err
	}
	history.SetMaxEntries(a.cfg.Clipboard.HistorySize)

	return clipboard.NewMonitor(clipboard.System{}, history, clipboard.MonitorOptions{
		Interval:    a.cfg.PollInterval(),
		HistoryPath: path,
		OnChange: func(e clipboard.Entry) {
			log.Infof("clipboard: new %s entry (%d chars)", e.ContentType, e.CharCount)
		},
	}), nil
}

// logStateChanges returns a subscriber that logs status transitions.
func logStateChanges() func(auth.SessionState) {
	var last auth.SessionStatus
	return func(state auth.SessionState) {
		if state.Status == last {
			return
		}
		last = state.Status
		if state.User != nil {
			log.Infof("session: %s (%s)", state.Status, state.User.Email)
			return
		}
		log.Infof("session: %s", state.Status)
	}
}

// applyReload applies the settings that can change while the agent runs.
// Everything else takes effect on the next start.
func applyReload(monitor *clipboard.Monitor) watcher.ReloadFunc {
	return func(newCfg, _ *config.Config) {
		logging.SetLogLevel(newCfg)
		if monitor != nil {
			monitor.History().SetMaxEntries(newCfg.Clipboard.HistorySize)
		}
		log.Info("config: reloaded; store, bridge and endpoint changes apply after restart")
	}
}

// Package cmd implements the clipify command line: interactive sign-in,
// session inspection, the deep-link entry point and the long-running agent.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/clipify/internal/config"
	"github.com/router-for-me/clipify/internal/logging"
	"github.com/router-for-me/clipify/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dataDir    string
	debug      bool

	cfg         *config.Config
	configFile  string
	resolvedDir string
}

// DefaultConfigPath returns <user config dir>/Clipify/config.yaml, or
// config.yaml in the working directory when the user config dir is unknown.
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(base, "Clipify", "config.yaml")
}

// NewRootCommand builds the clipify command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "clipify",
		Short:         "Clipify desktop agent",
		Long:          "Clipify keeps a clipboard history and signs in to the Clipify backend through the browser.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipSetupAnnotation] == "true" {
				return nil
			}
			return opts.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "configuration file (default "+DefaultConfigPath()+")")
	flags.StringVar(&opts.dataDir, "data-dir", "", "override the data directory")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newLoginCommand(opts, false),
		newLoginCommand(opts, true),
		newLogoutCommand(opts),
		newStatusCommand(opts),
		newRefreshCommand(opts),
		newOpenURLCommand(opts),
		newRunCommand(opts),
		newHistoryCommand(opts),
		newVersionCommand(),
	)
	return root
}

const skipSetupAnnotation = "clipify/skip-setup"

// setup loads configuration, resolves the data directory and configures logging.
func (o *globalOptions) setup() error {
	path := strings.TrimSpace(o.configPath)
	optional := path == ""
	if optional {
		path = DefaultConfigPath()
	}
	resolved, err := util.ResolvePath(path)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigOptional(resolved, optional)
	if err != nil {
		return err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.debug {
		cfg.Debug = true
	}

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}
	if err = logging.ConfigureLogOutput(cfg, dataDir); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	o.cfg = cfg
	o.configFile = resolved
	o.resolvedDir = dataDir
	log.Debugf("config: %s (environment %s, data dir %s)", resolved, cfg.Environment, dataDir)
	return nil
}

// Execute runs the root command and reports errors on stderr.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		if errors.Is(err, errSilentExit) {
			return 1
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// errSilentExit signals a failure that has already been reported to the user.
var errSilentExit = errors.New("exit")

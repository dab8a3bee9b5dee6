package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shail0iri/smartdesk/internal/config"
	"github.com/shail0iri/smartdesk/internal/logging"
)

var version = "dev"

var noColor bool

// cli carries the state shared by every command of one invocation.
type cli struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "smartdesk",
		Short:         "Generate and annotate synthetic support tickets with a local LLM",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv("NO_COLOR") != "" {
				noColor = true
			}
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			c.cfg = cfg

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, noColor)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			// Sync on stderr returns EINVAL on some platforms.
			_ = c.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/smartdesk/config.yaml)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		c.generateCmd(),
		c.annotateCmd(),
		c.statsCmd(),
		c.runsCmd(),
		c.doctorCmd(),
		c.checkpointCmd(),
		c.configCmd(),
	)
	return root
}

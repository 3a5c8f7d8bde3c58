// Package cli implements the jobsched command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"jobsched/internal/app"
	"jobsched/internal/config"
)

var (
	flagJobsFile string
	flagLogLevel string

	cfg    config.Config
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobsched",
		Short: "jobsched runs shell jobs on schedules and dependencies",
		Long: "jobsched runs shell commands on cron-like schedules, queues or cancels overlapping runs, " +
			"starts dependant jobs after success and keeps the run history in SQLite or PostgreSQL.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if flagJobsFile != "" {
				cfg.JobsFile = flagJobsFile
			}
			if flagLogLevel != "" {
				cfg.Log.ConsoleLevel = flagLogLevel
			}
			logger = app.NewLogger(cfg)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagJobsFile, "jobs", "", "Jobs file (or JOBS_FILE env)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Console log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newRenderCmd(),
		newHistoryCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.NewWithConfig(cfg, logger).Run()
		},
	}
}

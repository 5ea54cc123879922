package main

import (
	"fmt"
	"log/slog"

	"github.com/VsevolodSauta/jobqueue"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envFile string

	cfg    *jobqueue.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "deployq",
	Short: "Run command plans through keyed job queues",
	Long: `deployq enqueues the jobs of a YAML plan into per-key queues.

Jobs sharing a queue run one at a time, in plan order. Jobs on different
queues run in parallel. Configuration is read from JOBQUEUE_* environment
variables and an optional .env file.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file (default is ./.env when present)")
}

func setup(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else {
		// .env is optional
		_ = godotenv.Load()
	}

	c, err := jobqueue.LoadConfig()
	if err != nil {
		return err
	}
	cfg = c
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))
	return nil
}

// openJournal opens the Badger journal at the configured path, or an
// in-memory journal when no path is configured.
func openJournal(path string) (jobqueue.Journal, error) {
	if path == "" {
		return jobqueue.NewInMemoryJournal(), nil
	}
	journal, err := jobqueue.NewBadgerJournal(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}
	return journal, nil
}

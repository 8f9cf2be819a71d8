// Package cli wires configuration, storage and the HTTP server behind the
// masterlist command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stevemurr/masterlist/config"
	"github.com/stevemurr/masterlist/store"
)

// Run builds the root command and executes it with args.
func Run(ctx context.Context, args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewRootCmd returns the masterlist command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "masterlist",
		Short:         "Schema-as-data CRUD server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")
	config.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCmd(),
		newSchemasCmd(),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig merges the config file, environment and flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Log, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// openStore opens the configured backend, retrying idempotent calls.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	s, err := store.New(ctx, store.Options{
		Backend:      cfg.Store.Backend,
		DataDir:      cfg.DataDir,
		DSN:          cfg.Store.DSN,
		SQLiteDriver: cfg.Store.SQLiteDriver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store (backend=%s): %w", cfg.Store.Backend, err)
	}
	return store.WithRetry(s, store.DefaultRetryPolicy), nil
}

// Package cli wires the tezgah binary: the device server, one-shot sync,
// the dealer relay and the small admin commands around them.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tezgah/backend/internal/config"
	"tezgah/backend/internal/logging"
	"tezgah/backend/internal/store"
	"tezgah/backend/internal/store/memory"
	"tezgah/backend/internal/store/sqlite"
)

var errDatabaseRequired = errors.New("DATABASE_PATH (or database_path in --config) is required for this command")

// RootOptions holds the persistent flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tezgah",
		Short: "Point-of-sale inventory core with dealer-wide sync",
		Long: `tezgah runs the point-of-sale inventory core of a single till and the
relay that replicates stock changes between the tills of one dealer.

Configuration comes from an optional YAML file (--config) with environment
variables taking precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRelayCommand(opts))
	cmd.AddCommand(NewLicenseCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (o *RootOptions) load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadFile(o.ConfigPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, logging.Setup(cfg.LogLevel, cfg.LogFormat), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openDeviceStore opens the till database. Without a path it falls back to
// the seeded in-memory store, which is only useful for demos and tests.
func openDeviceStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Repository, error) {
	if cfg.DatabasePath == "" {
		logger.Warn().Msg("DATABASE_PATH not set, using seeded in-memory store")
		return memory.NewSeeded(), nil
	}
	db, err := sqlite.Open(ctx, cfg.DatabasePath, sqlite.Options{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	}, logger)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// openPersistentStore is openDeviceStore for commands whose writes would be
// lost on an in-memory store.
func openPersistentStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Repository, error) {
	if cfg.DatabasePath == "" {
		return nil, errDatabaseRequired
	}
	return openDeviceStore(ctx, cfg, logger)
}

func closeQuietly(logger zerolog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn().Err(err).Str("resource", name).Msg("close failed")
	}
}

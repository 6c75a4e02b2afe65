package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tezgah/backend/internal/cache"
	"tezgah/backend/internal/config"
	"tezgah/backend/internal/device"
	"tezgah/backend/internal/httpapi"
	"tezgah/backend/internal/service"
	"tezgah/backend/internal/store"
	"tezgah/backend/internal/store/sqlite"
	"tezgah/backend/internal/syncer"
	"tezgah/backend/internal/worker"
)

const shutdownTimeout = 8 * time.Second

type ServeOptions struct {
	*RootOptions
	Port      string
	Autostart bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the till HTTP API and the background sync worker",
		Long: `Serve the till command API over HTTP.

The API shares one database pool; the background sync worker gets its own
pool on the same file so a slow relay never holds interactive connections.

Example:
  DATABASE_PATH=./tezgah.db tezgah serve --port 8080 --sync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(commandContext(cmd), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&opts.Autostart, "sync", false, "start the background sync worker immediately")

	return cmd
}

func runServe(parent context.Context, cmd *cobra.Command, opts *ServeOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	if opts.Port != "" {
		cfg.Port = opts.Port
	}
	if cmd.Flags().Changed("sync") {
		cfg.SyncAutostart = opts.Autostart
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openDeviceStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(logger, "device store", repo.Close)

	workerRepo, closeWorkerRepo, err := openWorkerStore(ctx, cfg, repo, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(logger, "worker store", closeWorkerRepo)

	readCache := cache.New(cache.Options{})
	svc := service.New(repo, readCache, logger)
	dev := device.Identify(cfg.DeviceID, cfg.DeviceName)
	client := syncer.NewClient(nil)
	commandSync := syncer.New(repo, client, dev, readCache, logger)
	workerSync := syncer.New(workerRepo, client, dev, readCache, logger)

	manager := worker.NewManager(ctx, func(ctx context.Context) error {
		_, err := workerSync.PerformDeviceSync(ctx)
		return err
	}, logger)

	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN, repo)
	api := httpapi.New(httpapi.Deps{
		Service:       svc,
		Syncer:        commandSync,
		Worker:        manager,
		Auth:          auth,
		AllowedOrigin: cfg.AllowedOrigin,
		SyncInterval:  cfg.SyncInterval(),
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      40 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info().
		Str("device", dev.Identifier).
		Str("device_name", dev.Name).
		Bool("persistent", cfg.DatabasePath != "").
		Msg("till starting")

	if cfg.SyncAutostart {
		manager.Start(cfg.SyncInterval())
	}

	return serveUntilDone(ctx, server, logger, func(shutdownCtx context.Context) {
		manager.Stop()
		if err := manager.Wait(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("sync worker did not finish before shutdown")
		}
	})
}

// openWorkerStore gives the sync worker its own SQLite pool. The in-memory
// store has no pool to split, so the worker shares it.
func openWorkerStore(ctx context.Context, cfg config.Config, shared store.Repository, logger zerolog.Logger) (store.Repository, func() error, error) {
	if cfg.DatabasePath == "" {
		return shared, func() error { return nil }, nil
	}
	db, err := sqlite.Open(ctx, cfg.DatabasePath, sqlite.Options{MaxOpenConns: 1, MaxIdleConns: 1},
		logger.With().Str("pool", "worker").Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("open worker pool: %w", err)
	}
	return db, db.Close, nil
}

// serveUntilDone runs server until ctx is cancelled or the listener fails,
// then shuts it down and calls onShutdown with the same deadline.
func serveUntilDone(ctx context.Context, server *http.Server, logger zerolog.Logger, onShutdown func(context.Context)) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("shutdown error")
		}
		if onShutdown != nil {
			onShutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()
	logger.Info().Msg("server stopped")
	return err
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tezgah/backend/internal/config"
	"tezgah/backend/internal/relay"
	"tezgah/backend/internal/relay/postgres"
)

type RelayOptions struct {
	*RootOptions
	Port    string
	Dealers []string
}

func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the dealer sync relay",
		Long: `Run the relay that tills push their outbox to and pull other tills'
changes from.

Relayed changes live in Postgres when RELAY_DATABASE_URL is set and in
memory otherwise. Device presence lives in Redis when REDIS_ADDR is set and
reachable, and in memory otherwise.

Example:
  RELAY_DATABASE_URL=postgres://relay@localhost/relay tezgah relay --port 8090
  tezgah relay --dealer bayi-42=LIC-1234`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(commandContext(cmd), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Port, "port", "", "listen port (overrides RELAY_PORT)")
	cmd.Flags().StringArrayVar(&opts.Dealers, "dealer", nil, "register dealer-id=license-key at startup (repeatable)")

	cmd.AddCommand(newRelayDealerCommand(rootOpts))
	return cmd
}

func runRelay(parent context.Context, opts *RelayOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	if opts.Port != "" {
		cfg.RelayPort = opts.Port
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relayStore, err := openRelayStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(logger, "relay store", relayStore.Close)

	presence, closePresence := openPresence(ctx, cfg, logger)
	defer closeQuietly(logger, "presence", closePresence)

	for _, pair := range opts.Dealers {
		dealerID, key, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("--dealer expects dealer-id=license-key, got %q", pair)
		}
		err := relayStore.RegisterDealer(ctx, strings.TrimSpace(dealerID), strings.TrimSpace(dealerID), strings.TrimSpace(key))
		if err != nil && !errors.Is(err, relay.ErrDealerExists) {
			return fmt.Errorf("register dealer %s: %w", dealerID, err)
		}
	}

	server := &http.Server{
		Addr:              cfg.RelayAddress(),
		Handler:           relay.NewServer(relayStore, presence, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return serveUntilDone(ctx, server, logger, nil)
}

func openRelayStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (relay.Store, error) {
	if cfg.RelayDatabaseURL == "" {
		logger.Warn().Msg("RELAY_DATABASE_URL not set, relayed changes are kept in memory")
		return relay.NewMemoryStore(), nil
	}
	pg, err := postgres.New(ctx, cfg.RelayDatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres unavailable and RELAY_DATABASE_URL is set, refusing to start with in-memory fallback: %w", err)
	}
	logger.Info().Msg("relay store: postgres")
	return pg, nil
}

// openPresence prefers Redis but keeps the relay up without it; presence is
// advisory.
func openPresence(ctx context.Context, cfg config.Config, logger zerolog.Logger) (relay.Presence, func() error) {
	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		logger.Info().Msg("presence: memory")
		return relay.NewMemoryPresence(cfg.PresenceTTL()), noop
	}
	redisPresence := relay.NewRedisPresence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.PresenceTTL())
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisPresence.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-memory presence")
		_ = redisPresence.Close()
		return relay.NewMemoryPresence(cfg.PresenceTTL()), noop
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("presence: redis")
	return redisPresence, redisPresence.Close
}

type DealerAddOptions struct {
	*RootOptions
	Name       string
	LicenseKey string
}

func newRelayDealerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dealer",
		Short: "Manage dealers known to the relay",
	}

	opts := &DealerAddOptions{RootOptions: rootOpts}
	add := &cobra.Command{
		Use:   "add <dealer-id>",
		Short: "Register a dealer and its license key in the relay database",
		Long: `Register a dealer in the Postgres relay store. The license key is stored
as a bcrypt hash.

Example:
  RELAY_DATABASE_URL=postgres://relay@localhost/relay tezgah relay dealer add bayi-42 --name "Bayi 42" --license-key LIC-1234`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.RelayDatabaseURL == "" {
				return errors.New("RELAY_DATABASE_URL is required to register dealers")
			}
			relayStore, err := openRelayStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeQuietly(logger, "relay store", relayStore.Close)

			name := opts.Name
			if name == "" {
				name = args[0]
			}
			if err := relayStore.RegisterDealer(ctx, args[0], name, opts.LicenseKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dealer %s registered\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&opts.Name, "name", "", "dealer display name (defaults to the id)")
	add.Flags().StringVar(&opts.LicenseKey, "license-key", "", "license key the dealer's tills present (required)")
	_ = add.MarkFlagRequired("license-key")

	cmd.AddCommand(add)
	return cmd
}

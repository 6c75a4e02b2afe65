package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tezgah/backend/internal/cache"
	"tezgah/backend/internal/device"
	"tezgah/backend/internal/syncer"
)

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one push, pull and heartbeat cycle against the relay",
		Long: `Run a single device sync cycle and print how many changes were pushed
and pulled. The till must have a license recorded (see "tezgah license set").

Example:
  DATABASE_PATH=./tezgah.db tezgah sync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(commandContext(cmd), cmd, rootOpts)
		},
	}
}

func runSync(ctx context.Context, cmd *cobra.Command, opts *RootOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	repo, err := openPersistentStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(logger, "device store", repo.Close)

	dev := device.Identify(cfg.DeviceID, cfg.DeviceName)
	s := syncer.New(repo, syncer.NewClient(nil), dev, cache.New(cache.Options{}), logger)

	result, err := s.PerformDeviceSync(ctx)
	if errors.Is(err, syncer.ErrNoLicense) {
		return fmt.Errorf("%w: run \"tezgah license set\" first", err)
	}
	if err != nil {
		return err
	}
	state, err := s.State(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pushed=%d pulled=%d pending=%d\n", result.Pushed, result.Pulled, state.PendingCount)
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tezgah/backend/internal/device"
	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

type LicenseOptions struct {
	*RootOptions
	Key        string
	DealerID   string
	DealerName string
	APIBaseURL string
}

// NewLicenseCommand groups license maintenance. Activation against the
// licensing service happens elsewhere; this only records the result.
func NewLicenseCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Inspect or record the till license",
	}
	cmd.AddCommand(newLicenseSetCommand(rootOpts))
	cmd.AddCommand(newLicenseShowCommand(rootOpts))
	return cmd
}

func newLicenseSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LicenseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Record the license used to reach the dealer relay",
		Long: `Record the dealer license on this till.

Example:
  tezgah license set --key LIC-1234 --dealer-id bayi-42 --api-url https://relay.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLicenseSet(commandContext(cmd), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "license key (required)")
	cmd.Flags().StringVar(&opts.DealerID, "dealer-id", "", "dealer id (required)")
	cmd.Flags().StringVar(&opts.DealerName, "dealer-name", "", "dealer display name")
	cmd.Flags().StringVar(&opts.APIBaseURL, "api-url", "", "relay base URL (required)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("dealer-id")
	_ = cmd.MarkFlagRequired("api-url")

	return cmd
}

func runLicenseSet(ctx context.Context, cmd *cobra.Command, opts *LicenseOptions) error {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.APIBaseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("api-url must be an absolute http(s) URL, got %q", opts.APIBaseURL)
	}

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
	license := domain.License{
		LicenseKey:  strings.TrimSpace(opts.Key),
		DealerID:    strings.TrimSpace(opts.DealerID),
		DealerName:  strings.TrimSpace(opts.DealerName),
		MACAddress:  dev.Identifier,
		ActivatedAt: time.Now().UTC(),
		IsActive:    true,
		APIBaseURL:  baseURL,
	}
	if err := repo.SaveLicense(ctx, license); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "license recorded for dealer %s on device %s\n", license.DealerID, license.MACAddress)
	return nil
}

func newLicenseShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the recorded license without its key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			repo, err := openPersistentStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeQuietly(logger, "device store", repo.Close)

			license, err := repo.License(ctx)
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "no license recorded")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dealer=%s device=%s relay=%s active=%t\n",
				license.DealerID, license.MACAddress, license.APIBaseURL, license.IsActive)
			return nil
		},
	}
}

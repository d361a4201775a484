package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opstray-io/opstray/internal/clients"
	"github.com/opstray-io/opstray/internal/config"
)

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Renew the OpenBao token or leases",
}

var renewTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Renew the OpenBao token",
	RunE:  runRenewToken,
}

var renewLeasesCmd = &cobra.Command{
	Use:   "leases",
	Short: "Renew leases under the configured prefixes",
	RunE:  runRenewLeases,
}

func init() {
	renewCmd.AddCommand(renewLeasesCmd)
	renewCmd.AddCommand(renewTokenCmd)
}

func openBaoClient() (*clients.OpenBao, *config.Settings, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	c, err := clients.NewFactory(settings).OpenBao()
	if err != nil {
		return nil, nil, err
	}
	return c, settings, nil
}

func runRenewToken(cmd *cobra.Command, args []string) error {
	c, _, err := openBaoClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ttl, err := c.RenewSelf(ctx)
	if err != nil {
		return fmt.Errorf("renew token: %w", err)
	}
	fmt.Printf("Token renewed, TTL %s.\n", (time.Duration(ttl) * time.Second))
	return nil
}

func runRenewLeases(cmd *cobra.Command, args []string) error {
	c, settings, err := openBaoClient()
	if err != nil {
		return err
	}
	if len(settings.LeasePrefixes) == 0 {
		fmt.Println("No lease_prefixes configured; nothing to renew.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	renewed, failed := 0, 0
	for _, prefix := range settings.LeasePrefixes {
		leases, err := c.ListLeases(ctx, prefix)
		if err != nil {
			return fmt.Errorf("list leases under %s: %w", prefix, err)
		}
		for _, lease := range leases {
			ttl, err := c.RenewLease(ctx, lease.ID)
			if err != nil {
				fmt.Printf("  %s %s: %v\n", styleError.Render("✗"), lease.ID, err)
				failed++
				continue
			}
			fmt.Printf("  %s %s (TTL %s)\n", styleSuccess.Render("✓"), lease.ID, time.Duration(ttl)*time.Second)
			renewed++
		}
	}

	fmt.Printf("Renewed %d lease(s).\n", renewed)
	if failed > 0 {
		return fmt.Errorf("%d lease renewal(s) failed", failed)
	}
	return nil
}

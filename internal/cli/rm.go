package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opstray-io/opstray/internal/daemon"
)

var rmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Delete a secret or KV entry",
}

var rmSecretCmd = &cobra.Command{
	Use:   "secret <mount> <path>",
	Short: "Delete an OpenBao KV v2 secret",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(os.Stderr, func(d *daemon.Daemon) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.DeleteSecret(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s/%s.\n", args[0], args[1])
			return nil
		})
	},
}

var rmKVCmd = &cobra.Command{
	Use:   "kv <key>",
	Short: "Delete a Consul KV entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(os.Stderr, func(d *daemon.Daemon) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.DeleteKV(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s.\n", args[0])
			return nil
		})
	},
}

func init() {
	rmCmd.AddCommand(rmKVCmd)
	rmCmd.AddCommand(rmSecretCmd)
}

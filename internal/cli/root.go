// Package cli implements the opstray CLI commands.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "opstray",
	Short: "Browse and operate OpenBao, Consul, Nomad, Boundary, OpenTofu and Packer",
	Long: `Opstray is a control-plane companion for small infrastructure stacks.
The opstrayd daemon keeps cached resource listings, renews tokens and leases,
and watches Nomad jobs for failures; this CLI browses the same resources and
runs workspace and image operations from the terminal.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add subcommands (alphabetical)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(packerCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(tofuCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(versionCmd)
}

package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opstray-io/opstray/internal/daemon"
)

var connectListenPort int

var connectCmd = &cobra.Command{
	Use:   "connect <target-id>",
	Short: "Open a Boundary proxy session to a target",
	Long: `Open a Boundary proxy session to a target. The session stays up
until interrupted; Ctrl+C closes it gracefully.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().IntVarP(&connectListenPort, "listen-port", "p", 0,
		"local listen port (0 = let boundary pick)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	return withDaemon(os.Stderr, func(d *daemon.Daemon) error {
		h, err := d.Connect(args[0], connectListenPort)
		if err != nil {
			return err
		}
		return streamOperation(d, h)
	})
}

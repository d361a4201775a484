package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/opstray-io/opstray/internal/daemon"
	"github.com/opstray-io/opstray/internal/tui"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse resources interactively",
	Long:  `Open the interactive resource browser over every enabled backend.`,
	RunE:  runBrowse,
}

func runBrowse(cmd *cobra.Command, args []string) error {
	// Logs would tear up the alternate screen; drop them for the session.
	return withDaemon(io.Discard, func(d *daemon.Daemon) error {
		return tui.Run(d)
	})
}

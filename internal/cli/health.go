package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opstray-io/opstray/internal/daemon"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the configured backends",
	Long:  `Probe every enabled backend and report reachability. Disabled backends are listed but not contacted.`,
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	return withDaemon(os.Stderr, func(d *daemon.Daemon) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		unhealthy := 0
		for _, s := range d.Health(ctx) {
			marker := styleLabel.Render("–")
			switch {
			case !s.Enabled:
				// keep the dash
			case s.Healthy:
				marker = styleSuccess.Render("●")
			default:
				marker = styleError.Render("●")
				unhealthy++
			}
			line := fmt.Sprintf("%s %s", marker, styleValue.Render(s.Name))
			if s.Detail != "" {
				line += " " + styleLabel.Render(s.Detail)
			}
			fmt.Println(line)
		}

		if unhealthy > 0 {
			return fmt.Errorf("%d backend(s) unhealthy", unhealthy)
		}
		return nil
	})
}

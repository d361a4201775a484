package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opstray-io/opstray/internal/clients"
	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon"
	"github.com/opstray-io/opstray/internal/daemon/registry"
)

var tofuCmd = &cobra.Command{
	Use:   "tofu",
	Short: "Run OpenTofu operations on configured workspaces",
	Long: `Run OpenTofu operations on workspaces found under the configured
work_dirs. Output is streamed; Ctrl+C cancels the run gracefully.`,
}

var tofuListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered workspaces",
	RunE:  runTofuList,
}

var tofuInitCmd = &cobra.Command{
	Use:   "init <workspace>",
	Short: "Run tofu init",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTofuOp(args[0], func(d *daemon.Daemon) (registry.Handle, error) {
			return d.InitWorkspace(args[0])
		})
	},
}

var tofuPlanCmd = &cobra.Command{
	Use:   "plan <workspace>",
	Short: "Run tofu plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTofuOp(args[0], func(d *daemon.Daemon) (registry.Handle, error) {
			return d.PlanWorkspace(args[0])
		})
	},
}

var tofuApplyCmd = &cobra.Command{
	Use:   "apply <workspace>",
	Short: "Run tofu apply -auto-approve",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTofuOp(args[0], func(d *daemon.Daemon) (registry.Handle, error) {
			return d.ApplyWorkspace(args[0])
		})
	},
}

func init() {
	tofuCmd.AddCommand(tofuApplyCmd)
	tofuCmd.AddCommand(tofuInitCmd)
	tofuCmd.AddCommand(tofuListCmd)
	tofuCmd.AddCommand(tofuPlanCmd)
}

func runTofuList(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	tofu, err := clients.NewFactory(settings).OpenTofu()
	if err != nil {
		return err
	}

	workspaces := tofu.Workspaces()
	if len(workspaces) == 0 {
		fmt.Println("No workspaces found. Check opentofu.work_dirs in settings.")
		return nil
	}
	for _, ws := range workspaces {
		fmt.Printf("%s %s %s\n",
			styleValue.Render(ws.Name),
			styleLabel.Render("["+ws.Status+"]"),
			styleLabel.Render(ws.Dir))
	}
	return nil
}

func runTofuOp(name string, submit func(d *daemon.Daemon) (registry.Handle, error)) error {
	return withDaemon(os.Stderr, func(d *daemon.Daemon) error {
		h, err := submit(d)
		if err != nil {
			return err
		}
		return streamOperation(d, h)
	})
}

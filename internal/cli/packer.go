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

var packerCmd = &cobra.Command{
	Use:   "packer",
	Short: "Run Packer operations on configured templates",
}

var packerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered templates",
	RunE:  runPackerList,
}

var packerValidateCmd = &cobra.Command{
	Use:   "validate <template>",
	Short: "Run packer validate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPackerOp(func(d *daemon.Daemon) (registry.Handle, error) {
			return d.ValidateTemplate(args[0])
		})
	},
}

var packerBuildCmd = &cobra.Command{
	Use:   "build <template>",
	Short: "Run packer build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPackerOp(func(d *daemon.Daemon) (registry.Handle, error) {
			return d.BuildTemplate(args[0])
		})
	},
}

func init() {
	packerCmd.AddCommand(packerBuildCmd)
	packerCmd.AddCommand(packerListCmd)
	packerCmd.AddCommand(packerValidateCmd)
}

func runPackerList(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	packer, err := clients.NewFactory(settings).Packer()
	if err != nil {
		return err
	}

	templates := packer.Templates()
	if len(templates) == 0 {
		fmt.Println("No templates found. Check packer.work_dirs in settings.")
		return nil
	}
	for _, t := range templates {
		fmt.Printf("%s %s\n", styleValue.Render(t.Name), styleLabel.Render(t.Dir))
	}
	return nil
}

func runPackerOp(submit func(d *daemon.Daemon) (registry.Handle, error)) error {
	return withDaemon(os.Stderr, func(d *daemon.Daemon) error {
		h, err := submit(d)
		if err != nil {
			return err
		}
		return streamOperation(d, h)
	})
}

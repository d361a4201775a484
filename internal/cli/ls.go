package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opstray-io/opstray/internal/daemon"
)

var lsCmd = &cobra.Command{
	Use:   "ls [namespace] [path]",
	Short: "List cached resource namespaces and their contents",
	Long: `List one level of a resource namespace.

Without arguments, the enabled namespaces are listed. With a namespace, its
root level is listed; with a namespace and a path, the level below that path.
Container entries end in "/" and can be passed back as the path argument.

Examples:
  opstray ls
  opstray ls openbao_secrets
  opstray ls openbao_secrets secret/
  opstray ls consul_services`,
	Args: cobra.MaximumNArgs(2),
	RunE: runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	return withDaemon(os.Stderr, func(d *daemon.Daemon) error {
		if len(args) == 0 {
			for _, ns := range d.Namespaces() {
				fmt.Println(styleContainer.Render(ns))
			}
			return nil
		}

		namespace := args[0]
		path := ""
		if len(args) == 2 {
			path = args[1]
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		children, err := d.Expand(ctx, namespace, path)
		for _, c := range children {
			name := c.Label
			if name == "" {
				name = c.Path
			}
			if c.IsContainer {
				fmt.Println(styleContainer.Render(name))
			} else {
				fmt.Println(name)
			}
		}
		if err != nil {
			// Retained children (if any) were printed above; the listing
			// itself still failed.
			return fmt.Errorf("list %s %q: %w", namespace, path, err)
		}
		if len(children) == 0 {
			fmt.Println(styleLabel.Render("(empty)"))
		}
		return nil
	})
}

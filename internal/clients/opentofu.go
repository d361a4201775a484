package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/tree"
)

// OpenTofu drives local OpenTofu workspaces through the CLI. Listings come
// from the filesystem; plan and apply are built as commands for the process
// registry.
type OpenTofu struct {
	binary   string
	workDirs []string
}

// NewOpenTofu builds a client from tool settings.
func NewOpenTofu(s config.ToolSettings) *OpenTofu {
	binary := s.Binary
	if binary == "" {
		binary = "tofu"
	}
	return &OpenTofu{binary: binary, workDirs: s.WorkDirs}
}

// Workspace is one local OpenTofu workspace directory.
type Workspace struct {
	Name   string
	Dir    string
	Status string
}

// Workspaces scans the configured work directories for workspaces. A
// directory counts as a workspace when it contains a .tf file or a
// .terraform directory.
func (c *OpenTofu) Workspaces() []Workspace {
	var workspaces []Workspace
	for _, root := range c.workDirs {
		root = expandHome(root)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if !isWorkspace(dir) {
				continue
			}
			workspaces = append(workspaces, Workspace{
				Name:   entry.Name(),
				Dir:    dir,
				Status: workspaceStatus(dir),
			})
		}
	}
	sort.Slice(workspaces, func(i, j int) bool { return workspaces[i].Name < workspaces[j].Name })
	return workspaces
}

func isWorkspace(dir string) bool {
	if matches, _ := filepath.Glob(filepath.Join(dir, "*.tf")); len(matches) > 0 {
		return true
	}
	_, err := os.Stat(filepath.Join(dir, ".terraform"))
	return err == nil
}

func workspaceStatus(dir string) string {
	if _, err := os.Stat(filepath.Join(dir, ".terraform")); err != nil {
		return "not_initialized"
	}
	data, err := os.ReadFile(filepath.Join(dir, "terraform.tfstate"))
	if err != nil {
		return "initialized"
	}
	var state struct {
		Resources []json.RawMessage `json:"resources"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return "unknown"
	}
	if len(state.Resources) > 0 {
		return "applied"
	}
	return "initialized"
}

// Find returns the workspace with the given name.
func (c *OpenTofu) Find(name string) (Workspace, bool) {
	for _, ws := range c.Workspaces() {
		if ws.Name == name {
			return ws, true
		}
	}
	return Workspace{}, false
}

// InitCommand builds "tofu init" for a workspace.
func (c *OpenTofu) InitCommand(ctx context.Context, ws Workspace) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary, "init", "-no-color")
	cmd.Dir = ws.Dir
	return cmd
}

// PlanCommand builds "tofu plan" for a workspace.
func (c *OpenTofu) PlanCommand(ctx context.Context, ws Workspace) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary, "plan", "-no-color")
	cmd.Dir = ws.Dir
	return cmd
}

// ApplyCommand builds "tofu apply -auto-approve" for a workspace.
func (c *OpenTofu) ApplyCommand(ctx context.Context, ws Workspace) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary, "apply", "-auto-approve", "-no-color")
	cmd.Dir = ws.Dir
	return cmd
}

// DestroyCommand builds "tofu destroy -auto-approve" for a workspace.
func (c *OpenTofu) DestroyCommand(ctx context.Context, ws Workspace) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary, "destroy", "-auto-approve", "-no-color")
	cmd.Dir = ws.Dir
	return cmd
}

// WorkspacesLister lists workspaces as leaves labeled with their status.
// Listing never hits the network, so errors only come from the filesystem
// and are already folded into empty listings.
func (c *OpenTofu) WorkspacesLister() tree.Lister {
	return func(ctx context.Context, path string) ([]tree.Child, error) {
		workspaces := c.Workspaces()
		children := make([]tree.Child, 0, len(workspaces))
		for _, ws := range workspaces {
			children = append(children, tree.Child{
				Path:  ws.Name,
				Label: fmt.Sprintf("%s [%s]", ws.Name, ws.Status),
			})
		}
		return children, nil
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

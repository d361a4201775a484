package clients

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/tree"
)

// Packer drives local Packer templates through the CLI.
type Packer struct {
	binary   string
	workDirs []string
}

// NewPacker builds a client from tool settings.
func NewPacker(s config.ToolSettings) *Packer {
	binary := s.Binary
	if binary == "" {
		binary = "packer"
	}
	return &Packer{binary: binary, workDirs: s.WorkDirs}
}

// Template is one local template directory.
type Template struct {
	Name  string
	Dir   string
	Files []string
}

// Templates scans the configured work directories for template directories,
// i.e. directories containing *.pkr.hcl or *.pkr.json files.
func (c *Packer) Templates() []Template {
	var templates []Template
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
			files := templateFiles(dir)
			if len(files) == 0 {
				continue
			}
			templates = append(templates, Template{Name: entry.Name(), Dir: dir, Files: files})
		}
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates
}

func templateFiles(dir string) []string {
	var files []string
	for _, pattern := range []string{"*.pkr.hcl", "*.pkr.json"} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		for _, m := range matches {
			files = append(files, filepath.Base(m))
		}
	}
	sort.Strings(files)
	return files
}

// Find returns the template with the given name.
func (c *Packer) Find(name string) (Template, bool) {
	for _, t := range c.Templates() {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

// InitCommand builds "packer init ." for a template.
func (c *Packer) InitCommand(ctx context.Context, t Template) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary, "init", ".")
	cmd.Dir = t.Dir
	return cmd
}

// ValidateCommand builds "packer validate ." for a template.
func (c *Packer) ValidateCommand(ctx context.Context, t Template) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary, "validate", ".")
	cmd.Dir = t.Dir
	return cmd
}

// BuildCommand builds "packer build ." for a template.
func (c *Packer) BuildCommand(ctx context.Context, t Template) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary, "build", "-color=false", ".")
	cmd.Dir = t.Dir
	return cmd
}

// TemplatesLister lists templates as leaves labeled with their file count.
func (c *Packer) TemplatesLister() tree.Lister {
	return func(ctx context.Context, path string) ([]tree.Child, error) {
		templates := c.Templates()
		children := make([]tree.Child, 0, len(templates))
		for _, t := range templates {
			children = append(children, tree.Child{
				Path:  t.Name,
				Label: t.Name + " (" + strings.Join(t.Files, ", ") + ")",
			})
		}
		return children, nil
	}
}

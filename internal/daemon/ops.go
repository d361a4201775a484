package daemon

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/registry"
	"github.com/opstray-io/opstray/internal/daemon/runner"
)

// Registry exposes the operation registry for listing and cancellation.
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

// submitCommand runs a tool command in a PTY under the registry. The command
// is built inside the operation so its lifetime matches the handle's; the
// runner handles graceful termination when the operation is cancelled. The
// handle ID travels through a channel because the operation may start before
// Submit returns.
func (d *Daemon) submitCommand(name, description string, build func() *exec.Cmd) registry.Handle {
	idCh := make(chan string, 1)
	handle := d.registry.Submit(name, description, true, func(ctx context.Context) (string, error) {
		e, err := runner.Start(runner.Options{Name: name, Cmd: build()})
		if err != nil {
			return "", err
		}
		d.trackExecution(<-idCh, e)
		return e.Wait(ctx)
	})
	idCh <- handle.ID
	return handle
}

// InitWorkspace runs "tofu init" for a workspace.
func (d *Daemon) InitWorkspace(name string) (registry.Handle, error) {
	tofu, err := d.factory.OpenTofu()
	if err != nil {
		return registry.Handle{}, err
	}
	ws, ok := tofu.Find(name)
	if !ok {
		return registry.Handle{}, fmt.Errorf("unknown workspace %q", name)
	}
	return d.submitCommand("tofu init", "init "+name, func() *exec.Cmd {
		return tofu.InitCommand(context.Background(), ws)
	}), nil
}

// PlanWorkspace runs "tofu plan" for a workspace.
func (d *Daemon) PlanWorkspace(name string) (registry.Handle, error) {
	tofu, err := d.factory.OpenTofu()
	if err != nil {
		return registry.Handle{}, err
	}
	ws, ok := tofu.Find(name)
	if !ok {
		return registry.Handle{}, fmt.Errorf("unknown workspace %q", name)
	}
	return d.submitCommand("tofu plan", "plan "+name, func() *exec.Cmd {
		return tofu.PlanCommand(context.Background(), ws)
	}), nil
}

// ApplyWorkspace runs "tofu apply -auto-approve" for a workspace. The
// workspace listing is invalidated afterwards so its status label refreshes.
func (d *Daemon) ApplyWorkspace(name string) (registry.Handle, error) {
	tofu, err := d.factory.OpenTofu()
	if err != nil {
		return registry.Handle{}, err
	}
	ws, ok := tofu.Find(name)
	if !ok {
		return registry.Handle{}, fmt.Errorf("unknown workspace %q", name)
	}
	idCh := make(chan string, 1)
	handle := d.registry.Submit("tofu apply", "apply "+name, true, func(ctx context.Context) (string, error) {
		e, err := runner.Start(runner.Options{Name: "tofu apply", Cmd: tofu.ApplyCommand(context.Background(), ws)})
		if err != nil {
			return "", err
		}
		d.trackExecution(<-idCh, e)
		out, err := e.Wait(ctx)
		if t, ok := d.Tree(NSOpenTofu); ok {
			t.Invalidate("", false)
		}
		return out, err
	})
	idCh <- handle.ID
	return handle, nil
}

// BuildTemplate runs "packer build" for a template.
func (d *Daemon) BuildTemplate(name string) (registry.Handle, error) {
	packer, err := d.factory.Packer()
	if err != nil {
		return registry.Handle{}, err
	}
	t, ok := packer.Find(name)
	if !ok {
		return registry.Handle{}, fmt.Errorf("unknown template %q", name)
	}
	return d.submitCommand("packer build", "build "+name, func() *exec.Cmd {
		return packer.BuildCommand(context.Background(), t)
	}), nil
}

// ValidateTemplate runs "packer validate" for a template.
func (d *Daemon) ValidateTemplate(name string) (registry.Handle, error) {
	packer, err := d.factory.Packer()
	if err != nil {
		return registry.Handle{}, err
	}
	t, ok := packer.Find(name)
	if !ok {
		return registry.Handle{}, fmt.Errorf("unknown template %q", name)
	}
	return d.submitCommand("packer validate", "validate "+name, func() *exec.Cmd {
		return packer.ValidateCommand(context.Background(), t)
	}), nil
}

// Connect opens a Boundary proxy session to a target. The session runs until
// cancelled through the registry.
func (d *Daemon) Connect(targetID string, listenPort int) (registry.Handle, error) {
	boundary, err := d.factory.Boundary()
	if err != nil {
		return registry.Handle{}, err
	}
	return d.submitCommand("boundary connect", "connect "+targetID, func() *exec.Cmd {
		return boundary.ConnectCommand(context.Background(), targetID, listenPort)
	}), nil
}

// StopJob deregisters a Nomad job and refreshes the jobs tree. Quick enough
// to run inline; no registry handle involved.
func (d *Daemon) StopJob(ctx context.Context, jobID string) error {
	c, err := d.factory.Nomad()
	if err != nil {
		return err
	}
	if err := c.StopJob(ctx, jobID); err != nil {
		return err
	}
	if t, ok := d.Tree(NSNomadJobs); ok {
		t.Invalidate("", true)
	}
	return nil
}

// RenewTokenNow triggers the token-renew task outside its schedule.
func (d *Daemon) RenewTokenNow() error {
	return d.TriggerTask(config.TaskTokenRenew)
}

// DeleteSecret deletes a KV v2 secret, prunes its cached node, and marks the
// parent listing stale so the entry disappears on next expand.
func (d *Daemon) DeleteSecret(ctx context.Context, mount, path string) error {
	c, err := d.factory.OpenBao()
	if err != nil {
		return err
	}
	if err := c.DeleteSecret(ctx, mount, path); err != nil {
		return err
	}
	if t, ok := d.Tree(NSOpenBaoSecrets); ok {
		node := mount + "/" + path
		t.Prune(node)
		t.Invalidate(parentPath(node), false)
	}
	return nil
}

// DeleteKV deletes a Consul KV entry and refreshes its parent listing.
func (d *Daemon) DeleteKV(ctx context.Context, key string) error {
	c, err := d.factory.Consul()
	if err != nil {
		return err
	}
	if err := c.KVDelete(ctx, key); err != nil {
		return err
	}
	if t, ok := d.Tree(NSConsulKV); ok {
		t.Prune(key)
		t.Invalidate(parentPath(key), false)
	}
	return nil
}

// parentPath returns the container node holding the given node. Container
// paths keep their trailing slash; the root is the empty path.
func parentPath(p string) string {
	p = strings.TrimSuffix(p, "/")
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i+1]
}

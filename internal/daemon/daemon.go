// Package daemon wires the resource trees, scheduler, change detector, and
// process registry into one facade. The tray, TUI, and CLI all talk to a
// Daemon; nothing below this package knows which frontend is asking.
package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opstray-io/opstray/internal/clients"
	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/alert"
	"github.com/opstray-io/opstray/internal/daemon/registry"
	"github.com/opstray-io/opstray/internal/daemon/runner"
	"github.com/opstray-io/opstray/internal/daemon/schedule"
	"github.com/opstray-io/opstray/internal/daemon/tree"
	"github.com/opstray-io/opstray/pkg/logging"
)

// Resource tree namespaces.
const (
	NSOpenBaoSecrets = "openbao_secrets"
	NSConsulServices = "consul_services"
	NSConsulKV       = "consul_kv"
	NSNomadJobs      = "nomad_jobs"
	NSNomadNodes     = "nomad_nodes"
	NSBoundary       = "boundary_targets"
	NSOpenTofu       = "opentofu_workspaces"
	NSPacker         = "packer_templates"
)

// EventType discriminates daemon events.
type EventType int

const (
	// EventNodeUpdated fires after a tree node finishes loading.
	EventNodeUpdated EventType = iota
	// EventAlert fires for each state transition the job poller detects.
	EventAlert
	// EventProcessChanged fires on every operation handle transition.
	EventProcessChanged
	// EventSettingsReloaded fires after settings are applied.
	EventSettingsReloaded
)

// Event is one daemon notification. Frontends that fall behind lose events;
// they can always re-query the authoritative state.
type Event struct {
	Type      EventType
	Namespace string
	Path      string
	Alert     alert.Alert
	Handle    registry.Handle
}

const sweepInterval = time.Minute

// Daemon is the facade over every background component.
type Daemon struct {
	factory   *clients.Factory
	scheduler *schedule.Runner
	registry  *registry.Registry

	mu       sync.Mutex
	settings *config.Settings
	trees    map[string]*tree.Tree
	detector *alert.Detector

	execMu sync.Mutex
	execs  map[string]*runner.Execution

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// New builds a daemon from the given settings and starts its background
// loops. Call Close to stop them.
func New(settings *config.Settings) (*Daemon, error) {
	d := &Daemon{
		factory:   clients.NewFactory(settings),
		scheduler: schedule.NewRunner(schedule.RealClock()),
		settings:  settings,
		trees:     make(map[string]*tree.Tree),
		detector:  alert.NewDetector(policyFrom(settings)),
		execs:     make(map[string]*runner.Execution),
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
	}

	d.registry = registry.New(settings.Retention(), registry.WithOnChange(func(h registry.Handle) {
		if h.Status.Terminal() {
			d.dropExecution(h.ID)
		}
		d.emit(Event{Type: EventProcessChanged, Handle: h})
	}))

	d.rebuildTrees()
	if err := d.scheduleTasks(); err != nil {
		d.registry.Close()
		return nil, err
	}

	d.wg.Add(1)
	go d.sweepLoop()

	return d, nil
}

// Events delivers daemon notifications. The channel is never closed; stop
// reading after Close.
func (d *Daemon) Events() <-chan Event {
	return d.events
}

func (d *Daemon) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		logging.Debug("Daemon", "event dropped, slow consumer")
	}
}

func policyFrom(s *config.Settings) alert.Policy {
	p := alert.Policy{
		FailureStatuses: s.Alerts.FailureStatuses,
		AlertOnRemoval:  s.Alerts.AlertOnRemoval,
	}
	if len(p.FailureStatuses) == 0 {
		p = alert.DefaultPolicy()
	}
	return p
}

// rebuildTrees replaces the tree set according to the current settings.
// Callers hold no locks; the method takes d.mu itself.
func (d *Daemon) rebuildTrees() {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.settings
	ttl := s.TreeTTL()
	d.trees = make(map[string]*tree.Tree)

	add := func(ns string, lister tree.Lister) {
		d.trees[ns] = tree.New(ns, lister,
			tree.WithTTL(ttl),
			tree.WithOnUpdate(func(path string) {
				d.emit(Event{Type: EventNodeUpdated, Namespace: ns, Path: path})
			}),
		)
	}

	if s.OpenBao.Enabled {
		add(NSOpenBaoSecrets, d.lazyLister(func() (tree.Lister, error) {
			c, err := d.factory.OpenBao()
			if err != nil {
				return nil, err
			}
			return c.SecretsLister(), nil
		}))
	}
	if s.Consul.Enabled {
		add(NSConsulServices, d.lazyLister(func() (tree.Lister, error) {
			c, err := d.factory.Consul()
			if err != nil {
				return nil, err
			}
			return c.ServicesLister(), nil
		}))
		add(NSConsulKV, d.lazyLister(func() (tree.Lister, error) {
			c, err := d.factory.Consul()
			if err != nil {
				return nil, err
			}
			return c.KVLister(), nil
		}))
	}
	if s.Nomad.Enabled {
		add(NSNomadJobs, d.lazyLister(func() (tree.Lister, error) {
			c, err := d.factory.Nomad()
			if err != nil {
				return nil, err
			}
			return c.JobsLister(), nil
		}))
		add(NSNomadNodes, d.lazyLister(func() (tree.Lister, error) {
			c, err := d.factory.Nomad()
			if err != nil {
				return nil, err
			}
			return c.NodesLister(), nil
		}))
	}
	if s.Boundary.Enabled {
		add(NSBoundary, d.lazyLister(func() (tree.Lister, error) {
			c, err := d.factory.Boundary()
			if err != nil {
				return nil, err
			}
			return c.TargetsLister(), nil
		}))
	}
	if s.OpenTofu.Enabled {
		add(NSOpenTofu, d.lazyLister(func() (tree.Lister, error) {
			c, err := d.factory.OpenTofu()
			if err != nil {
				return nil, err
			}
			return c.WorkspacesLister(), nil
		}))
	}
	if s.Packer.Enabled {
		add(NSPacker, d.lazyLister(func() (tree.Lister, error) {
			c, err := d.factory.Packer()
			if err != nil {
				return nil, err
			}
			return c.TemplatesLister(), nil
		}))
	}
}

// lazyLister defers client construction to the first listing so that a
// misconfigured backend surfaces as a load error on its own tree instead of
// failing daemon startup.
func (d *Daemon) lazyLister(build func() (tree.Lister, error)) tree.Lister {
	var once sync.Once
	var lister tree.Lister
	var buildErr error
	return func(ctx context.Context, path string) ([]tree.Child, error) {
		once.Do(func() { lister, buildErr = build() })
		if buildErr != nil {
			return nil, buildErr
		}
		return lister(ctx, path)
	}
}

// Namespaces lists the active tree namespaces, sorted.
func (d *Daemon) Namespaces() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.trees))
	for ns := range d.trees {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Tree returns the tree for a namespace.
func (d *Daemon) Tree(namespace string) (*tree.Tree, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.trees[namespace]
	return t, ok
}

// Expand lists the children of a node, loading on miss.
func (d *Daemon) Expand(ctx context.Context, namespace, path string) ([]tree.Child, error) {
	t, ok := d.Tree(namespace)
	if !ok {
		return nil, fmt.Errorf("unknown namespace %q", namespace)
	}
	return t.Expand(ctx, path)
}

// Peek reports a node's status and cached children without triggering a load.
func (d *Daemon) Peek(namespace, path string) (tree.Status, []tree.Child, error) {
	t, ok := d.Tree(namespace)
	if !ok {
		return tree.StatusNotLoaded, nil, fmt.Errorf("unknown namespace %q", namespace)
	}
	status, children := t.Peek(path)
	return status, children, nil
}

// Invalidate marks a node (optionally its subtree) stale.
func (d *Daemon) Invalidate(namespace, path string, recursive bool) error {
	t, ok := d.Tree(namespace)
	if !ok {
		return fmt.Errorf("unknown namespace %q", namespace)
	}
	t.Invalidate(path, recursive)
	return nil
}

func (d *Daemon) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.registry.Sweep()
		}
	}
}

// Settings returns the currently applied settings.
func (d *Daemon) Settings() *config.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// ApplySettings swaps in new settings: clients are rebuilt, trees replaced,
// task schedules updated, and the job poller's baseline reset.
func (d *Daemon) ApplySettings(settings *config.Settings) {
	d.mu.Lock()
	d.settings = settings
	d.detector = alert.NewDetector(policyFrom(settings))
	d.mu.Unlock()

	logging.SetLevel(logging.ParseLevel(settings.LogLevel))

	d.factory.Reset(settings)
	d.rebuildTrees()

	for _, id := range []string{config.TaskTokenRenew, config.TaskLeaseRenew, config.TaskJobPoll} {
		task := settings.Task(id)
		if err := d.scheduler.SetInterval(id, task.Interval()); err != nil {
			logging.Warn("Daemon", "set interval for %s: %v", id, err)
			continue
		}
		_ = d.scheduler.SetEnabled(id, task.Enabled)
	}

	d.emit(Event{Type: EventSettingsReloaded})
	logging.Info("Daemon", "settings applied")
}

// ReloadSettings re-reads settings.yaml and applies it.
func (d *Daemon) ReloadSettings() error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	d.ApplySettings(settings)
	return nil
}

// ResetSettings writes factory defaults to settings.yaml and applies them.
func (d *Daemon) ResetSettings() error {
	defaults := config.NewSettings()
	if err := config.SaveSettings(defaults); err != nil {
		return err
	}
	d.ApplySettings(defaults)
	return nil
}

// Close stops the scheduler, cancels running operations, and waits for every
// background goroutine.
func (d *Daemon) Close() {
	close(d.done)
	d.scheduler.Stop()
	d.registry.Close()
	d.wg.Wait()
}

func (d *Daemon) trackExecution(id string, e *runner.Execution) {
	d.execMu.Lock()
	d.execs[id] = e
	d.execMu.Unlock()
}

func (d *Daemon) dropExecution(id string) {
	d.execMu.Lock()
	delete(d.execs, id)
	d.execMu.Unlock()
}

// Execution returns the live PTY execution behind a running operation, for
// frontends that want to attach to its output.
func (d *Daemon) Execution(id string) (*runner.Execution, bool) {
	d.execMu.Lock()
	defer d.execMu.Unlock()
	e, ok := d.execs[id]
	return e, ok
}

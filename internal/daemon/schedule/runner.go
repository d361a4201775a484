// Package schedule runs a small set of independent periodic tasks (credential
// renewal, lease renewal, resource-state polling) on their own intervals. Each
// task has its own goroutine and timer so that one task failing or hanging
// never perturbs another task's schedule.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opstray-io/opstray/pkg/logging"
)

// Clock abstracts time for the runner so tests can drive schedules manually.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

const defaultExecTimeout = 30 * time.Second

// State describes what a task is currently doing.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// TaskSpec describes a recurring unit of work.
type TaskSpec struct {
	ID       string
	Interval time.Duration
	Timeout  time.Duration // per-execution timeout; zero = 30s default
	Enabled  bool
}

// TaskStatus is a point-in-time snapshot of one task, for display.
type TaskStatus struct {
	ID        string
	Interval  time.Duration
	Enabled   bool
	State     State
	LastRunAt time.Time
	LastError string
	NextDueAt time.Time
}

type task struct {
	spec      TaskSpec
	fn        func(ctx context.Context) error
	enabled   bool
	running   bool
	lastRunAt time.Time
	lastError string
	nextDueAt time.Time
	trigger   chan struct{} // forces an immediate run
	kick      chan struct{} // re-arms the timer after enable/interval changes
}

// Runner owns the task table and one goroutine per task.
type Runner struct {
	clock  Clock
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
}

// NewRunner creates a runner. Pass RealClock() outside tests.
func NewRunner(clock Clock) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		clock:  clock,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
}

// Schedule registers a recurring task and starts its timer goroutine.
func (r *Runner) Schedule(spec TaskSpec, fn func(ctx context.Context) error) error {
	if spec.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", spec.ID)
	}
	if spec.Timeout <= 0 {
		spec.Timeout = defaultExecTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("task %s: runner is stopped", spec.ID)
	}
	if _, exists := r.tasks[spec.ID]; exists {
		return fmt.Errorf("task %s: already scheduled", spec.ID)
	}

	t := &task{
		spec:    spec,
		fn:      fn,
		enabled: spec.Enabled,
		trigger: make(chan struct{}, 1),
		kick:    make(chan struct{}, 1),
	}
	r.tasks[spec.ID] = t

	r.wg.Add(1)
	go r.loop(t)
	return nil
}

// SetEnabled enables or disables a task's ticks. Disabling cancels the
// pending firing but preserves lastRunAt/lastError and does not interrupt a
// currently running execution; re-enabling schedules the next run one full
// interval from now.
func (r *Runner) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		t.enabled = enabled
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: not scheduled", id)
	}
	signal(t.kick)
	return nil
}

// SetInterval changes a task's interval; the new interval takes effect for
// the next firing.
func (r *Runner) SetInterval(id string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", id)
	}
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		t.spec.Interval = interval
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: not scheduled", id)
	}
	signal(t.kick)
	return nil
}

// Trigger forces an immediate run regardless of the schedule or the enabled
// flag; a user asking for "renew now" bypasses both.
func (r *Runner) Trigger(id string) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: not scheduled", id)
	}
	signal(t.trigger)
	return nil
}

// Snapshot returns the task table sorted by id.
func (r *Runner) Snapshot() []TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TaskStatus, 0, len(r.tasks))
	for _, t := range r.tasks {
		state := StateIdle
		switch {
		case t.running:
			state = StateRunning
		case !t.enabled:
			state = StateDisabled
		}
		out = append(out, TaskStatus{
			ID:        t.spec.ID,
			Interval:  t.spec.Interval,
			Enabled:   t.enabled,
			State:     state,
			LastRunAt: t.lastRunAt,
			LastError: t.lastError,
			NextDueAt: t.nextDueAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop cancels all tasks and blocks until their current executions finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

// loop arms the task's timer, waits for a tick, trigger, or re-arm signal,
// and runs the task body. Each iteration re-reads the interval and enabled
// flag so SetEnabled/SetInterval take effect at the next arming.
func (r *Runner) loop(t *task) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		interval := t.spec.Interval
		enabled := t.enabled
		if enabled {
			t.nextDueAt = r.clock.Now().Add(interval)
		} else {
			t.nextDueAt = time.Time{}
		}
		r.mu.Unlock()

		var tick <-chan time.Time
		if enabled {
			tick = r.clock.After(interval)
		}

		select {
		case <-r.ctx.Done():
			return
		case <-t.kick:
			continue
		case <-t.trigger:
			r.run(t)
		case <-tick:
			r.run(t)
		}
	}
}

// run executes one task body under its per-execution timeout. Failures are
// recorded on the task and logged; they never propagate to other tasks.
func (r *Runner) run(t *task) {
	r.mu.Lock()
	t.running = true
	t.lastRunAt = r.clock.Now()
	fn := t.fn
	timeout := t.spec.Timeout
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	err := fn(ctx)
	cancel()

	r.mu.Lock()
	t.running = false
	if err != nil {
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
	r.mu.Unlock()

	if err != nil {
		logging.Error("Schedule", err, "task %s failed", t.spec.ID)
	} else {
		logging.Debug("Schedule", "task %s completed", t.spec.ID)
	}
}

// signal performs a non-blocking send on a buffered notification channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Package registry tracks long-running operations (builds, applies, connects)
// with status, cancellation, and retention-based cleanup. Each submitted
// operation runs on its own goroutine; the registry is the single writer of
// every handle's terminal state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opstray-io/opstray/pkg/logging"
)

// Status of a tracked operation.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Handle is a point-in-time snapshot of one tracked operation. Result and
// Err are mutually exclusive and populated only in a terminal state.
type Handle struct {
	ID          string
	Name        string
	Description string
	Status      Status
	StartedAt   time.Time
	FinishedAt  time.Time
	Cancellable bool
	Result      string
	Err         string
}

// Runtime returns how long the operation has been (or was) running.
func (h Handle) Runtime() time.Duration {
	if h.StartedAt.IsZero() {
		return 0
	}
	end := h.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(h.StartedAt)
}

// OperationFunc is a long-running operation. Implementations that want to be
// truly cancellable must honor ctx; those that ignore it run to completion
// and keep their natural terminal status.
type OperationFunc func(ctx context.Context) (string, error)

type process struct {
	handle          Handle
	cancel          context.CancelFunc
	cancelRequested bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithOnChange registers a callback invoked (outside the registry's lock)
// whenever a handle changes state. Used to emit ProcessChanged events.
func WithOnChange(fn func(Handle)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// Registry owns the handle table.
type Registry struct {
	retention time.Duration
	onChange  func(Handle)

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu    sync.Mutex
	procs map[string]*process
}

// New creates a registry. Terminal handles older than retention are removed
// by Sweep; non-terminal handles are never removed.
func New(retention time.Duration, opts ...Option) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		retention:  retention,
		baseCtx:    ctx,
		baseCancel: cancel,
		procs:      make(map[string]*process),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit starts fn on its own goroutine and returns immediately with the
// new handle.
func (r *Registry) Submit(name, description string, cancellable bool, fn OperationFunc) Handle {
	id := uuid.NewString()[:8]
	ctx, cancel := context.WithCancel(r.baseCtx)

	p := &process{
		handle: Handle{
			ID:          id,
			Name:        name,
			Description: description,
			Status:      StatusPending,
			Cancellable: cancellable,
		},
		cancel: cancel,
	}

	r.mu.Lock()
	r.procs[id] = p
	snapshot := p.handle
	r.mu.Unlock()
	r.emit(snapshot)

	r.wg.Add(1)
	go r.run(p, ctx, fn)

	logging.Info("Registry", "started %s (%s)", name, id)
	return snapshot
}

func (r *Registry) run(p *process, ctx context.Context, fn OperationFunc) {
	defer r.wg.Done()

	r.mu.Lock()
	p.handle.Status = StatusRunning
	p.handle.StartedAt = time.Now()
	snapshot := p.handle
	r.mu.Unlock()
	r.emit(snapshot)

	var result string
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("operation panicked: %v", rec)
			}
		}()
		result, err = fn(ctx)
	}()

	r.finish(p, result, err)
}

// finish is the single authoritative terminal-transition point. A concurrent
// Cancel only ever marks intent; whichever outcome fn reports decides the
// final status exactly once.
func (r *Registry) finish(p *process, result string, err error) {
	r.mu.Lock()
	if p.handle.Status.Terminal() {
		// Unreachable given the single-writer design; scream, don't swallow.
		r.mu.Unlock()
		logging.Error("Registry", nil, "double terminal transition on %s", p.handle.ID)
		return
	}

	switch {
	case err == nil:
		p.handle.Status = StatusCompleted
		p.handle.Result = result
	case p.cancelRequested && errors.Is(err, context.Canceled):
		p.handle.Status = StatusCancelled
	default:
		p.handle.Status = StatusFailed
		p.handle.Err = err.Error()
	}
	p.handle.FinishedAt = time.Now()
	snapshot := p.handle
	r.mu.Unlock()

	p.cancel() // release the context's resources
	r.emit(snapshot)

	switch snapshot.Status {
	case StatusFailed:
		logging.Warn("Registry", "%s (%s) failed: %s", snapshot.Name, snapshot.ID, snapshot.Err)
	case StatusCancelled:
		logging.Info("Registry", "%s (%s) cancelled", snapshot.Name, snapshot.ID)
	default:
		logging.Info("Registry", "%s (%s) completed in %s", snapshot.Name, snapshot.ID, snapshot.Runtime().Round(time.Millisecond))
	}
}

// Cancel requests cooperative cancellation. It returns false for unknown,
// already-terminal, or non-cancellable handles; the latter is reported so
// the caller can tell the user the request was ignored.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	p, ok := r.procs[id]
	if !ok || p.handle.Status.Terminal() {
		r.mu.Unlock()
		return false
	}
	if !p.handle.Cancellable {
		name := p.handle.Name
		r.mu.Unlock()
		logging.Warn("Registry", "cancel ignored: %s (%s) is not cancellable", name, id)
		return false
	}
	p.cancelRequested = true
	cancel := p.cancel
	r.mu.Unlock()

	cancel()
	return true
}

// Get returns a handle snapshot by id.
func (r *Registry) Get(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	if !ok {
		return Handle{}, false
	}
	return p.handle, true
}

// List returns handle snapshots, newest first. With statuses given, only
// matching handles are returned.
func (r *Registry) List(statuses ...Status) []Handle {
	filter := make(map[Status]struct{}, len(statuses))
	for _, s := range statuses {
		filter[s] = struct{}{}
	}

	r.mu.Lock()
	out := make([]Handle, 0, len(r.procs))
	for _, p := range r.procs {
		if len(filter) > 0 {
			if _, ok := filter[p.handle.Status]; !ok {
				continue
			}
		}
		out = append(out, p.handle)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Running returns all non-terminal handles.
func (r *Registry) Running() []Handle {
	return r.List(StatusPending, StatusRunning)
}

// Sweep removes terminal handles that finished longer than the retention
// window ago and returns how many were removed. Non-terminal handles are
// never removed, whatever their age.
func (r *Registry) Sweep() int {
	cutoff := time.Now().Add(-r.retention)

	r.mu.Lock()
	removed := 0
	for id, p := range r.procs {
		if p.handle.Status.Terminal() && !p.handle.FinishedAt.IsZero() && p.handle.FinishedAt.Before(cutoff) {
			delete(r.procs, id)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		logging.Debug("Registry", "swept %d finished operations", removed)
	}
	return removed
}

// Close cancels every running operation's context and waits for the
// goroutines to finish.
func (r *Registry) Close() {
	r.baseCancel()
	r.wg.Wait()
}

func (r *Registry) emit(h Handle) {
	if r.onChange != nil {
		r.onChange(h)
	}
}

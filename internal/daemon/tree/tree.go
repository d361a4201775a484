// Package tree implements the lazily-populated resource cache behind every
// browsable namespace (secret mounts, service catalogs, job lists). Nodes are
// created on first reference, loaded on demand through a Lister, cached with
// an optional TTL, and invalidated explicitly after writes or deletes.
package tree

import (
	"context"
	"sync"
	"time"
)

// Status describes the load state of a node.
type Status int

const (
	StatusNotLoaded Status = iota
	StatusLoading
	StatusLoaded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNotLoaded:
		return "not_loaded"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Child describes one entry of a listing. Path is the opaque key a caller
// passes back to Expand to descend; the tree never parses it.
type Child struct {
	Path        string
	IsContainer bool
	Label       string
}

// Lister fetches one level of a hierarchical namespace. A "not found" from
// the backend is a successful empty listing, not an error; implementations
// return ([]Child{}, nil) for it and reserve errors for transport and auth
// failures.
type Lister func(ctx context.Context, path string) ([]Child, error)

const defaultLoadTimeout = 15 * time.Second

// Option configures a Tree.
type Option func(*Tree)

// WithTTL sets the duration after which a loaded node is considered stale
// and reloaded on next access. Zero means cached listings never expire.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tree) { t.ttl = ttl }
}

// WithLoadTimeout bounds each Lister call.
func WithLoadTimeout(d time.Duration) Option {
	return func(t *Tree) { t.timeout = d }
}

// WithOnUpdate registers a callback invoked (outside the tree's lock) after
// a node finishes loading or is invalidated. Used to emit NodeUpdated events.
func WithOnUpdate(fn func(path string)) Option {
	return func(t *Tree) { t.onUpdate = fn }
}

type node struct {
	status    Status
	children  []Child
	loadedAt  time.Time
	lastError string
	gen       uint64        // bumped by Invalidate; stale loads discard their result
	inflight  chan struct{} // closed when the current load finishes; nil unless Loading
}

// Tree owns a forest of lazily-populated nodes for one namespace.
type Tree struct {
	name     string
	lister   Lister
	ttl      time.Duration
	timeout  time.Duration
	onUpdate func(path string)

	mu     sync.Mutex
	nodes  map[string]*node
	genSeq uint64
}

// New creates a tree for one namespace backed by the given lister.
func New(name string, lister Lister, opts ...Option) *Tree {
	t := &Tree{
		name:    name,
		lister:  lister,
		timeout: defaultLoadTimeout,
		nodes:   make(map[string]*node),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the namespace name this tree serves.
func (t *Tree) Name() string { return t.name }

// Expand returns the children of path, loading them through the lister when
// the node is unloaded or stale. Concurrent calls for the same path coalesce
// onto a single lister invocation and all receive the same result. If the
// caller's context is cancelled the wait is abandoned but the load itself
// carries on and its result is cached for subsequent calls.
//
// On a load failure the previously cached children (if any) are returned
// alongside the error: stale-but-present data beats no data, and the error
// lets the caller render a retry affordance.
func (t *Tree) Expand(ctx context.Context, path string) ([]Child, error) {
	t.mu.Lock()
	n := t.nodeLocked(path)

	if n.status == StatusLoaded && !t.staleLocked(n) {
		children := cloneChildren(n.children)
		t.mu.Unlock()
		return children, nil
	}

	if n.status != StatusLoading {
		n.status = StatusLoading
		n.inflight = make(chan struct{})
		gen := n.gen
		go t.load(path, gen, n.inflight)
	}
	wait := n.inflight
	t.mu.Unlock()

	select {
	case <-wait:
		return t.loadResult(path)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek reports a node's status and cached children without ever triggering
// a load. Unknown paths report StatusNotLoaded.
func (t *Tree) Peek(path string) (Status, []Child) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[path]
	if !ok {
		return StatusNotLoaded, nil
	}
	return n.status, cloneChildren(n.children)
}

// Invalidate marks a node NotLoaded and discards its cached children so the
// next Expand reloads it. With recursive set, the whole cached subtree is
// invalidated by walking the recorded child descriptors.
func (t *Tree) Invalidate(path string, recursive bool) {
	t.mu.Lock()
	invalidated := t.invalidateLocked(path, recursive, nil)
	t.mu.Unlock()

	if t.onUpdate != nil {
		for _, p := range invalidated {
			t.onUpdate(p)
		}
	}
}

// Prune removes a node and its cached subtree entirely. Used after a delete
// operation removes the underlying resource.
func (t *Tree) Prune(path string) {
	t.mu.Lock()
	t.pruneLocked(path)
	t.mu.Unlock()

	if t.onUpdate != nil {
		t.onUpdate(path)
	}
}

// LastError returns the failure message recorded for a node, empty if the
// last load succeeded or the node was never loaded.
func (t *Tree) LastError(path string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[path]; ok {
		return n.lastError
	}
	return ""
}

// Stale reports whether a loaded node is past its TTL. It is a signal, not
// an error: the cached children stay available until the next Expand.
func (t *Tree) Stale(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[path]
	if !ok || n.status != StatusLoaded {
		return false
	}
	return t.staleLocked(n)
}

// nodeLocked returns the node for path, creating it lazily.
func (t *Tree) nodeLocked(path string) *node {
	n, ok := t.nodes[path]
	if !ok {
		t.genSeq++
		n = &node{status: StatusNotLoaded, gen: t.genSeq}
		t.nodes[path] = n
	}
	return n
}

func (t *Tree) staleLocked(n *node) bool {
	return t.ttl > 0 && time.Since(n.loadedAt) > t.ttl
}

// load performs the single lister call for an in-flight node. It is detached
// from any caller's context: waiters may come and go, the load always runs to
// completion and its result is cached.
func (t *Tree) load(path string, gen uint64, done chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	children, err := t.lister(ctx, path)
	cancel()

	t.mu.Lock()
	n := t.nodeLocked(path)
	if n.gen != gen {
		// Invalidated while loading: drop the result, next Expand reloads.
		n.status = StatusNotLoaded
	} else if err != nil {
		// Retain previous children so a transient failure doesn't blank a
		// previously-successful view.
		n.status = StatusError
		n.lastError = err.Error()
	} else {
		n.status = StatusLoaded
		n.children = cloneChildren(children)
		n.loadedAt = time.Now()
		n.lastError = ""
	}
	n.inflight = nil
	t.mu.Unlock()

	close(done)

	if t.onUpdate != nil {
		t.onUpdate(path)
	}
}

// loadResult reads a node's state after its in-flight load finished.
func (t *Tree) loadResult(path string) ([]Child, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[path]
	if !ok {
		return nil, nil
	}
	if n.status == StatusError {
		return cloneChildren(n.children), &LoadError{Path: path, Message: n.lastError}
	}
	return cloneChildren(n.children), nil
}

// invalidateLocked resets a node and optionally its recorded subtree,
// returning the paths touched.
func (t *Tree) invalidateLocked(path string, recursive bool, acc []string) []string {
	n, ok := t.nodes[path]
	if !ok {
		return acc
	}

	childPaths := make([]string, 0, len(n.children))
	for _, c := range n.children {
		childPaths = append(childPaths, c.Path)
	}

	// A load already in flight keeps its Loading status so concurrent
	// expanders stay attached to it; the gen bump makes it discard its
	// result on completion.
	if n.inflight == nil {
		n.status = StatusNotLoaded
	}
	n.children = nil
	n.loadedAt = time.Time{}
	n.lastError = ""
	t.genSeq++
	n.gen = t.genSeq
	acc = append(acc, path)

	if recursive {
		for _, p := range childPaths {
			acc = t.invalidateLocked(p, true, acc)
		}
	}
	return acc
}

func (t *Tree) pruneLocked(path string) {
	n, ok := t.nodes[path]
	if !ok {
		return
	}
	for _, c := range n.children {
		t.pruneLocked(c.Path)
	}
	delete(t.nodes, path)
}

func cloneChildren(children []Child) []Child {
	if children == nil {
		return nil
	}
	out := make([]Child, len(children))
	copy(out, children)
	return out
}

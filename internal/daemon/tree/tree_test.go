package tree

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLister records how many times each path was listed and serves
// canned children.
type countingLister struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string][]Child
	errs    map[string]error
	gate    chan struct{} // when set, lister blocks until the gate closes
}

func newCountingLister() *countingLister {
	return &countingLister{
		calls:   make(map[string]int),
		results: make(map[string][]Child),
		errs:    make(map[string]error),
	}
}

func (l *countingLister) list(_ context.Context, path string) ([]Child, error) {
	l.mu.Lock()
	l.calls[path]++
	gate := l.gate
	result := l.results[path]
	err := l.errs[path]
	l.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return result, err
}

func (l *countingLister) callCount(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[path]
}

func TestExpandLoadsAndCaches(t *testing.T) {
	l := newCountingLister()
	l.results["secret/"] = []Child{
		{Path: "secret/app1/", IsContainer: true, Label: "app1/"},
		{Path: "secret/app1/db", Label: "db"},
	}

	tr := New("openbao", l.list)

	children, err := tr.Expand(context.Background(), "secret/")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.True(t, children[0].IsContainer)

	// Second expand is served from cache.
	_, err = tr.Expand(context.Background(), "secret/")
	require.NoError(t, err)
	assert.Equal(t, 1, l.callCount("secret/"))

	status, cached := tr.Peek("secret/")
	assert.Equal(t, StatusLoaded, status)
	assert.Len(t, cached, 2)
}

func TestConcurrentExpandCoalesces(t *testing.T) {
	l := newCountingLister()
	l.results["jobs/"] = []Child{{Path: "jobs/web", Label: "web"}}
	l.gate = make(chan struct{})

	tr := New("nomad", l.list)

	const waiters = 8
	var wg sync.WaitGroup
	var success atomic.Int32
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			children, err := tr.Expand(context.Background(), "jobs/")
			if err == nil && len(children) == 1 && children[0].Path == "jobs/web" {
				success.Add(1)
			}
		}()
	}

	// Let the waiters pile up on the single in-flight load, then release it.
	require.Eventually(t, func() bool { return l.callCount("jobs/") == 1 },
		time.Second, time.Millisecond)
	close(l.gate)
	wg.Wait()

	assert.Equal(t, 1, l.callCount("jobs/"), "all expanders must share one lister call")
	assert.Equal(t, int32(waiters), success.Load())
}

func TestInvalidateForcesReload(t *testing.T) {
	l := newCountingLister()
	l.results["secret/"] = []Child{{Path: "secret/app1/", IsContainer: true, Label: "app1/"}}
	l.results["secret/app1/"] = []Child{{Path: "secret/app1/user", Label: "user"}}

	tr := New("openbao", l.list)

	_, err := tr.Expand(context.Background(), "secret/")
	require.NoError(t, err)
	_, err = tr.Expand(context.Background(), "secret/app1/")
	require.NoError(t, err)

	tr.Invalidate("secret/", false)

	status, children := tr.Peek("secret/")
	assert.Equal(t, StatusNotLoaded, status)
	assert.Empty(t, children)

	_, err = tr.Expand(context.Background(), "secret/")
	require.NoError(t, err)
	assert.Equal(t, 2, l.callCount("secret/"))
	// Non-recursive invalidation leaves the child's own cache alone.
	assert.Equal(t, 1, l.callCount("secret/app1/"))
	status, _ = tr.Peek("secret/app1/")
	assert.Equal(t, StatusLoaded, status)
}

func TestInvalidateRecursive(t *testing.T) {
	l := newCountingLister()
	l.results["kv/"] = []Child{{Path: "kv/config/", IsContainer: true, Label: "config/"}}
	l.results["kv/config/"] = []Child{{Path: "kv/config/db", Label: "db"}}

	tr := New("consul", l.list)

	_, err := tr.Expand(context.Background(), "kv/")
	require.NoError(t, err)
	_, err = tr.Expand(context.Background(), "kv/config/")
	require.NoError(t, err)

	tr.Invalidate("kv/", true)

	status, _ := tr.Peek("kv/")
	assert.Equal(t, StatusNotLoaded, status)
	status, _ = tr.Peek("kv/config/")
	assert.Equal(t, StatusNotLoaded, status)
}

func TestErrorRetainsPreviousChildren(t *testing.T) {
	l := newCountingLister()
	l.results["svc/"] = []Child{{Path: "svc/web", Label: "web"}}

	tr := New("consul", l.list, WithTTL(time.Nanosecond))

	_, err := tr.Expand(context.Background(), "svc/")
	require.NoError(t, err)

	// Next expand is past the TTL and the backend is now down.
	l.mu.Lock()
	l.errs["svc/"] = errors.New("connection refused")
	l.mu.Unlock()
	time.Sleep(time.Millisecond)

	children, err := tr.Expand(context.Background(), "svc/")
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "svc/", loadErr.Path)
	assert.Len(t, children, 1, "stale-but-present data beats no data")

	status, cached := tr.Peek("svc/")
	assert.Equal(t, StatusError, status)
	assert.Len(t, cached, 1)
	assert.Equal(t, "connection refused", tr.LastError("svc/"))
}

func TestTTLExpiryReloads(t *testing.T) {
	l := newCountingLister()
	l.results["secret/"] = []Child{{Path: "secret/a", Label: "a"}}

	tr := New("openbao", l.list, WithTTL(10*time.Millisecond))

	_, err := tr.Expand(context.Background(), "secret/")
	require.NoError(t, err)
	assert.False(t, tr.Stale("secret/"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, tr.Stale("secret/"))

	_, err = tr.Expand(context.Background(), "secret/")
	require.NoError(t, err)
	assert.Equal(t, 2, l.callCount("secret/"))
}

func TestPeekNeverLoads(t *testing.T) {
	l := newCountingLister()
	tr := New("openbao", l.list)

	status, children := tr.Peek("secret/")
	assert.Equal(t, StatusNotLoaded, status)
	assert.Nil(t, children)
	assert.Equal(t, 0, l.callCount("secret/"))
}

func TestCallerCancellationAbandonsWaitNotLoad(t *testing.T) {
	l := newCountingLister()
	l.results["secret/"] = []Child{{Path: "secret/a", Label: "a"}}
	l.gate = make(chan struct{})

	tr := New("openbao", l.list)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Expand(ctx, "secret/")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return l.callCount("secret/") == 1 },
		time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// The load keeps running and its result is cached for the next caller.
	close(l.gate)
	children, err := tr.Expand(context.Background(), "secret/")
	require.NoError(t, err)
	assert.Len(t, children, 1)
	assert.Equal(t, 1, l.callCount("secret/"))
}

func TestNotFoundIsEmptyListing(t *testing.T) {
	l := newCountingLister()
	l.results["secret/empty/"] = []Child{}

	tr := New("openbao", l.list)

	children, err := tr.Expand(context.Background(), "secret/empty/")
	require.NoError(t, err)
	assert.Empty(t, children)

	status, _ := tr.Peek("secret/empty/")
	assert.Equal(t, StatusLoaded, status)
}

func TestPruneRemovesSubtree(t *testing.T) {
	l := newCountingLister()
	l.results["secret/"] = []Child{{Path: "secret/app1/", IsContainer: true, Label: "app1/"}}
	l.results["secret/app1/"] = []Child{{Path: "secret/app1/user", Label: "user"}}

	tr := New("openbao", l.list)

	_, err := tr.Expand(context.Background(), "secret/")
	require.NoError(t, err)
	_, err = tr.Expand(context.Background(), "secret/app1/")
	require.NoError(t, err)

	tr.Prune("secret/")

	status, _ := tr.Peek("secret/")
	assert.Equal(t, StatusNotLoaded, status)
	status, _ = tr.Peek("secret/app1/")
	assert.Equal(t, StatusNotLoaded, status)
}

func TestOnUpdateFires(t *testing.T) {
	l := newCountingLister()
	l.results["secret/"] = []Child{{Path: "secret/a", Label: "a"}}

	var mu sync.Mutex
	var updated []string
	tr := New("openbao", l.list, WithOnUpdate(func(path string) {
		mu.Lock()
		updated = append(updated, path)
		mu.Unlock()
	}))

	_, err := tr.Expand(context.Background(), "secret/")
	require.NoError(t, err)
	tr.Invalidate("secret/", false)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"secret/", "secret/"}, updated)
}

package schedule

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

// fakeClock drives task timers manually.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock and fires every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// waitTimers blocks until at least n timers are armed, i.e. the task loops
// reached their select.
func waitTimers(t *testing.T, c *fakeClock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.pendingTimers() >= n },
		time.Second, time.Millisecond)
}

func taskByID(statuses []TaskStatus, id string) TaskStatus {
	for _, s := range statuses {
		if s.ID == id {
			return s
		}
	}
	return TaskStatus{}
}

func TestFailingTaskDoesNotAffectSibling(t *testing.T) {
	clock := newFakeClock()
	r := NewRunner(clock)
	defer r.Stop()

	var aRuns, bRuns atomic.Int32
	require.NoError(t, r.Schedule(
		TaskSpec{ID: "renew", Interval: time.Minute, Enabled: true},
		func(context.Context) error {
			aRuns.Add(1)
			return errors.New("permission denied")
		}))
	require.NoError(t, r.Schedule(
		TaskSpec{ID: "poll", Interval: time.Minute, Enabled: true},
		func(context.Context) error {
			bRuns.Add(1)
			return nil
		}))

	waitTimers(t, clock, 2)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return aRuns.Load() == 1 && bRuns.Load() == 1 },
		time.Second, time.Millisecond)

	// Both loops must re-arm and fire again despite A failing every time.
	waitTimers(t, clock, 2)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return aRuns.Load() == 2 && bRuns.Load() == 2 },
		time.Second, time.Millisecond)

	statuses := r.Snapshot()
	a := taskByID(statuses, "renew")
	b := taskByID(statuses, "poll")
	assert.Equal(t, "permission denied", a.LastError)
	assert.Empty(t, b.LastError)
	assert.False(t, b.LastRunAt.IsZero())
	assert.True(t, b.LastRunAt.After(clock.Now().Add(-time.Minute)))
}

func TestDisableSuppressesTicks(t *testing.T) {
	clock := newFakeClock()
	r := NewRunner(clock)
	defer r.Stop()

	var runs atomic.Int32
	require.NoError(t, r.Schedule(
		TaskSpec{ID: "renew", Interval: time.Minute, Enabled: true},
		func(context.Context) error {
			runs.Add(1)
			return nil
		}))

	waitTimers(t, clock, 1)
	require.NoError(t, r.SetEnabled("renew", false))

	// Wait until the loop re-armed with ticks suppressed (NextDueAt is
	// cleared by the loop, not by SetEnabled itself).
	require.Eventually(t, func() bool {
		s := taskByID(r.Snapshot(), "renew")
		return s.State == StateDisabled && s.NextDueAt.IsZero()
	}, time.Second, time.Millisecond)

	clock.Advance(5 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load(), "disabled task must not fire")

	// Re-enabling schedules the next run a full interval from now.
	require.NoError(t, r.SetEnabled("renew", true))
	waitTimers(t, clock, 1)
	clock.Advance(30 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return runs.Load() == 1 },
		time.Second, time.Millisecond)
}

func TestTriggerRunsImmediately(t *testing.T) {
	clock := newFakeClock()
	r := NewRunner(clock)
	defer r.Stop()

	var runs atomic.Int32
	require.NoError(t, r.Schedule(
		TaskSpec{ID: "poll", Interval: time.Hour, Enabled: false},
		func(context.Context) error {
			runs.Add(1)
			return nil
		}))

	// Trigger bypasses both the schedule and the enabled flag.
	require.NoError(t, r.Trigger("poll"))
	require.Eventually(t, func() bool { return runs.Load() == 1 },
		time.Second, time.Millisecond)

	assert.Error(t, r.Trigger("unknown"))
}

func TestStopWaitsForTasks(t *testing.T) {
	clock := newFakeClock()
	r := NewRunner(clock)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, r.Schedule(
		TaskSpec{ID: "slow", Interval: time.Minute, Enabled: true, Timeout: time.Hour},
		func(ctx context.Context) error {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}))

	require.NoError(t, r.Trigger("slow"))
	<-started
	close(release)
	r.Stop()

	assert.Error(t, r.Schedule(TaskSpec{ID: "late", Interval: time.Minute}, func(context.Context) error { return nil }))
}

func TestScheduleValidation(t *testing.T) {
	r := NewRunner(newFakeClock())
	defer r.Stop()

	assert.Error(t, r.Schedule(TaskSpec{ID: "bad"}, func(context.Context) error { return nil }))
	require.NoError(t, r.Schedule(TaskSpec{ID: "dup", Interval: time.Minute}, func(context.Context) error { return nil }))
	assert.Error(t, r.Schedule(TaskSpec{ID: "dup", Interval: time.Minute}, func(context.Context) error { return nil }))
}

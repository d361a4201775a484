package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/tree"
)

// testSettings enables only Nomad, pointed at the given server, with every
// task disabled so nothing fires unless a test triggers it.
func testSettings(nomadURL string) *config.Settings {
	s := config.NewSettings()
	s.OpenBao.Enabled = false
	s.Consul.Enabled = false
	s.Boundary.Enabled = false
	s.Nomad.Address = nomadURL
	for id, task := range s.Tasks {
		task.Enabled = false
		s.Tasks[id] = task
	}
	return s
}

func waitEvent(t *testing.T, d *Daemon, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-d.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event of type %d observed", want)
		}
	}
}

func TestExpandThroughFacade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"ID":"web","Status":"running"}]`))
	}))
	defer srv.Close()

	d, err := New(testSettings(srv.URL))
	require.NoError(t, err)
	defer d.Close()

	children, err := d.Expand(context.Background(), NSNomadJobs, "")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "web/", children[0].Path)

	ev := waitEvent(t, d, EventNodeUpdated)
	assert.Equal(t, NSNomadJobs, ev.Namespace)
	assert.Equal(t, "", ev.Path)
}

func TestExpandUnknownNamespace(t *testing.T) {
	d, err := New(testSettings("http://127.0.0.1:1"))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Expand(context.Background(), "no_such_tree", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown namespace")
}

func TestNamespacesFollowEnabledBackends(t *testing.T) {
	d, err := New(testSettings("http://127.0.0.1:1"))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, []string{NSNomadJobs, NSNomadNodes}, d.Namespaces())

	next := testSettings("http://127.0.0.1:1")
	next.Consul.Enabled = true
	next.Consul.Address = "http://127.0.0.1:2"
	d.ApplySettings(next)

	assert.Equal(t,
		[]string{NSConsulKV, NSConsulServices, NSNomadJobs, NSNomadNodes},
		d.Namespaces())
	waitEvent(t, d, EventSettingsReloaded)
}

func TestJobPollEmitsAlertAndInvalidatesTree(t *testing.T) {
	var dead atomic.Bool
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if dead.Load() {
			w.Write([]byte(`[{"ID":"batch","Status":"dead"}]`))
		} else {
			w.Write([]byte(`[{"ID":"batch","Status":"running"}]`))
		}
	}))
	defer srv.Close()

	d, err := New(testSettings(srv.URL))
	require.NoError(t, err)
	defer d.Close()

	// Populate the jobs tree so the invalidation is observable.
	_, err = d.Expand(context.Background(), NSNomadJobs, "")
	require.NoError(t, err)
	expanded := requests.Load()

	// First poll primes the baseline, second detects the transition.
	require.NoError(t, d.TriggerTask(config.TaskJobPoll))
	require.Eventually(t, func() bool { return requests.Load() > expanded }, time.Second, time.Millisecond)
	dead.Store(true)
	require.NoError(t, d.TriggerTask(config.TaskJobPoll))

	ev := waitEvent(t, d, EventAlert)
	assert.Equal(t, "batch", ev.Alert.ResourceID)
	assert.Equal(t, "running", ev.Alert.From)
	assert.Equal(t, "dead", ev.Alert.To)

	jobsTree, ok := d.Tree(NSNomadJobs)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		status, _ := jobsTree.Peek("")
		return status == tree.StatusNotLoaded
	}, time.Second, time.Millisecond, "alerting poll invalidates the cached listing")
}

func TestDisabledBackendTaskIsSilentNoop(t *testing.T) {
	d, err := New(testSettings("http://127.0.0.1:1"))
	require.NoError(t, err)
	defer d.Close()

	// OpenBao is disabled; the renew task must succeed without contacting it.
	require.NoError(t, d.TriggerTask(config.TaskTokenRenew))

	require.Eventually(t, func() bool {
		for _, task := range d.Tasks() {
			if task.ID == config.TaskTokenRenew {
				return !task.LastRunAt.IsZero()
			}
		}
		return false
	}, time.Second, time.Millisecond)

	for _, task := range d.Tasks() {
		if task.ID == config.TaskTokenRenew {
			assert.Empty(t, task.LastError)
		}
	}
}

func TestHealthSkipsDisabledBackends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"10.0.0.1:4647"`))
	}))
	defer srv.Close()

	d, err := New(testSettings(srv.URL))
	require.NoError(t, err)
	defer d.Close()

	statuses := d.Health(context.Background())
	byName := map[string]BackendStatus{}
	for _, s := range statuses {
		byName[s.Name] = s
	}

	assert.False(t, byName["openbao"].Enabled)
	assert.False(t, byName["openbao"].Healthy)
	assert.True(t, byName["nomad"].Enabled)
	assert.True(t, byName["nomad"].Healthy)
	assert.Contains(t, byName["nomad"].Detail, "10.0.0.1:4647")
}

func TestDeleteKVPrunesNode(t *testing.T) {
	var deleted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted.Store(true)
			w.Write([]byte(`true`))
			return
		}
		w.Write([]byte(`["app/", "top-level"]`))
	}))
	defer srv.Close()

	s := testSettings("http://127.0.0.1:1")
	s.Nomad.Enabled = false
	s.Consul.Enabled = true
	s.Consul.Address = srv.URL

	d, err := New(s)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Expand(context.Background(), NSConsulKV, "")
	require.NoError(t, err)

	require.NoError(t, d.DeleteKV(context.Background(), "top-level"))
	assert.True(t, deleted.Load())

	kvTree, ok := d.Tree(NSConsulKV)
	require.True(t, ok)
	status, _ := kvTree.Peek("")
	assert.Equal(t, tree.StatusNotLoaded, status, "parent listing reloads on next expand")
	status, _ = kvTree.Peek("top-level")
	assert.Equal(t, tree.StatusNotLoaded, status)
}

func TestStopJobRefreshesTree(t *testing.T) {
	var stopped atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			stopped.Store(true)
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(`[{"ID":"web","Status":"running"}]`))
	}))
	defer srv.Close()

	d, err := New(testSettings(srv.URL))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Expand(context.Background(), NSNomadJobs, "")
	require.NoError(t, err)

	require.NoError(t, d.StopJob(context.Background(), "web"))
	assert.True(t, stopped.Load())

	jobsTree, _ := d.Tree(NSNomadJobs)
	status, _ := jobsTree.Peek("")
	assert.Equal(t, tree.StatusNotLoaded, status)
}

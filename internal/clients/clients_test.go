package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opstray-io/opstray/internal/config"
)

func backendFor(url string) config.BackendSettings {
	return config.BackendSettings{Enabled: true, Address: url, Token: "test-token"}
}

func TestOpenBaoListMounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		assert.Equal(t, "/v1/sys/mounts", r.URL.Path)
		w.Write([]byte(`{"data":{
			"secret/":{"type":"kv","options":{"version":"2"}},
			"legacy/":{"type":"kv","options":{"version":"1"}},
			"cubbyhole/":{"type":"cubbyhole"}
		}}`))
	}))
	defer srv.Close()

	c, err := NewOpenBao(backendFor(srv.URL))
	require.NoError(t, err)

	mounts, err := c.ListMounts(context.Background())
	require.NoError(t, err)
	require.Len(t, mounts, 3)
	assert.Equal(t, "cubbyhole", mounts[0].Path, "sorted by path")

	var kv2 []string
	for _, m := range mounts {
		if m.KVv2 {
			kv2 = append(kv2, m.Path)
		}
	}
	assert.Equal(t, []string{"secret"}, kv2)
}

func TestOpenBaoListSecretsMissingPathIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[]}`))
	}))
	defer srv.Close()

	c, err := NewOpenBao(backendFor(srv.URL))
	require.NoError(t, err)

	keys, err := c.ListSecrets(context.Background(), "secret", "no/such/path")
	require.NoError(t, err, "a missing path is an empty listing, not an error")
	assert.Empty(t, keys)
}

func TestOpenBaoRenewSelf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/auth/token/renew-self", r.URL.Path)
		w.Write([]byte(`{"auth":{"lease_duration":2764800}}`))
	}))
	defer srv.Close()

	c, err := NewOpenBao(backendFor(srv.URL))
	require.NoError(t, err)

	ttl, err := c.RenewSelf(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2764800, ttl)
}

func TestOpenBaoHealthSealed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"initialized":true,"sealed":true}`))
	}))
	defer srv.Close()

	c, err := NewOpenBao(backendFor(srv.URL))
	require.NoError(t, err)

	info, err := c.Health(context.Background())
	require.NoError(t, err, "sealed is a state, not a transport error")
	assert.True(t, info.Sealed)
}

func TestOpenBaoSecretsListerTwoLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sys/mounts":
			w.Write([]byte(`{"data":{"secret/":{"type":"kv","options":{"version":"2"}}}}`))
		case "/v1/secret/metadata/":
			w.Write([]byte(`{"data":{"keys":["app/","database-creds"]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c, err := NewOpenBao(backendFor(srv.URL))
	require.NoError(t, err)
	lister := c.SecretsLister()

	roots, err := lister(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "secret/", roots[0].Path)
	assert.True(t, roots[0].IsContainer)

	children, err := lister(context.Background(), "secret/")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "secret/app/", children[0].Path)
	assert.True(t, children[0].IsContainer)
	assert.Equal(t, "secret/database-creds", children[1].Path)
	assert.False(t, children[1].IsContainer)
}

func TestAPIErrorMessageExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":["permission denied"]}`))
	}))
	defer srv.Close()

	c, err := NewOpenBao(backendFor(srv.URL))
	require.NoError(t, err)

	_, err = c.ListMounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
	assert.Contains(t, err.Error(), "permission denied")
	assert.False(t, IsNotFound(err))
}

func TestConsulServiceHealthWorstStatusWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health/service/web", r.URL.Path)
		w.Write([]byte(`[
			{"Node":{"Node":"n1"},"Service":{"Address":"10.0.0.1","Port":80},
			 "Checks":[{"Status":"passing"},{"Status":"critical"}]},
			{"Node":{"Node":"n2"},"Service":{"Address":"10.0.0.2","Port":80},
			 "Checks":[{"Status":"passing"}]}
		]`))
	}))
	defer srv.Close()

	c, err := NewConsul(backendFor(srv.URL))
	require.NoError(t, err)

	instances, err := c.ServiceHealth(context.Background(), "web")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "critical", instances[0].Status)
	assert.Equal(t, "passing", instances[1].Status)
}

func TestConsulKVListerSkipsListedFolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/kv/config/", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("keys"))
		assert.Equal(t, "/", r.URL.Query().Get("separator"))
		w.Write([]byte(`["config/","config/app/","config/feature-flag"]`))
	}))
	defer srv.Close()

	c, err := NewConsul(backendFor(srv.URL))
	require.NoError(t, err)

	children, err := c.KVLister()(context.Background(), "config/")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "config/app/", children[0].Path)
	assert.True(t, children[0].IsContainer)
	assert.Equal(t, "feature-flag", children[1].Label)
}

func TestConsulKVMissingPrefixIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewConsul(backendFor(srv.URL))
	require.NoError(t, err)

	keys, err := c.KVKeys(context.Background(), "ghost/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNomadJobStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Equal(t, "platform", r.URL.Query().Get("namespace"))
		w.Write([]byte(`[
			{"ID":"web","Name":"web","Type":"service","Status":"running"},
			{"ID":"batch","Name":"batch","Type":"batch","Status":"dead"}
		]`))
	}))
	defer srv.Close()

	settings := backendFor(srv.URL)
	settings.Namespace = "platform"
	c, err := NewNomad(settings)
	require.NoError(t, err)

	statuses, err := c.JobStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"web": "running", "batch": "dead"}, statuses)
}

func TestNomadJobsListerLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/jobs":
			w.Write([]byte(`[{"ID":"web","Status":"running"}]`))
		case "/v1/job/web/allocations":
			w.Write([]byte(`[{"ID":"abcdef1234","Name":"web.task[0]","NodeName":"worker-1","ClientStatus":"running"}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c, err := NewNomad(backendFor(srv.URL))
	require.NoError(t, err)
	lister := c.JobsLister()

	jobs, err := lister(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "web/", jobs[0].Path)
	assert.Equal(t, "web [running]", jobs[0].Label)

	allocs, err := lister(context.Background(), "web/")
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, "web/abcdef1234", allocs[0].Path)
	assert.Contains(t, allocs[0].Label, "abcdef12 on worker-1")
}

func TestBoundaryTargetsLister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/scopes":
			assert.Equal(t, "global", r.URL.Query().Get("scope_id"))
			w.Write([]byte(`{"items":[{"id":"o_1234","name":"eng","type":"org"}]}`))
		case "/v1/targets":
			assert.Equal(t, "o_1234", r.URL.Query().Get("scope_id"))
			w.Write([]byte(`{"items":[{"id":"ttcp_5678","name":"bastion","type":"tcp"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c, err := NewBoundary(backendFor(srv.URL), "")
	require.NoError(t, err)
	lister := c.TargetsLister()

	scopes, err := lister(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, "scope:o_1234/", scopes[0].Path)
	assert.True(t, scopes[0].IsContainer)

	targets, err := lister(context.Background(), "scope:o_1234/")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "scope:o_1234/ttcp_5678", targets[0].Path)
	assert.Equal(t, "bastion (tcp)", targets[0].Label)
}

func TestOpenTofuWorkspaceScan(t *testing.T) {
	root := t.TempDir()

	applied := filepath.Join(root, "staging")
	require.NoError(t, os.MkdirAll(filepath.Join(applied, ".terraform"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(applied, "main.tf"), []byte(`resource "x" "y" {}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(applied, "terraform.tfstate"), []byte(`{"resources":[{}]}`), 0o644))

	fresh := filepath.Join(root, "prod")
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fresh, "main.tf"), []byte(``), 0o644))

	// Not a workspace: no .tf files, no .terraform.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))

	c := NewOpenTofu(config.ToolSettings{Enabled: true, WorkDirs: []string{root}})
	workspaces := c.Workspaces()
	require.Len(t, workspaces, 2)
	assert.Equal(t, "prod", workspaces[0].Name)
	assert.Equal(t, "not_initialized", workspaces[0].Status)
	assert.Equal(t, "staging", workspaces[1].Name)
	assert.Equal(t, "applied", workspaces[1].Status)
}

func TestPackerTemplateScan(t *testing.T) {
	root := t.TempDir()

	base := filepath.Join(root, "base-image")
	require.NoError(t, os.MkdirAll(base, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "ubuntu.pkr.hcl"), []byte(``), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	c := NewPacker(config.ToolSettings{Enabled: true, WorkDirs: []string{root}})
	templates := c.Templates()
	require.Len(t, templates, 1)
	assert.Equal(t, "base-image", templates[0].Name)
	assert.Equal(t, []string{"ubuntu.pkr.hcl"}, templates[0].Files)
}

func TestFactoryDisabledBackend(t *testing.T) {
	settings := config.NewSettings()
	settings.Boundary.Enabled = false
	f := NewFactory(settings)

	_, err := f.Boundary()
	require.Error(t, err)
	var disabled *ErrDisabled
	require.ErrorAs(t, err, &disabled)
	assert.Equal(t, "boundary", disabled.Backend)
}

func TestFactoryResetDropsCachedClients(t *testing.T) {
	settings := config.NewSettings()
	f := NewFactory(settings)

	first, err := f.OpenBao()
	require.NoError(t, err)
	again, err := f.OpenBao()
	require.NoError(t, err)
	assert.Same(t, first, again, "clients are cached between calls")

	next := config.NewSettings()
	next.OpenBao.Address = "http://127.0.0.1:8201"
	f.Reset(next)

	rebuilt, err := f.OpenBao()
	require.NoError(t, err)
	assert.NotSame(t, first, rebuilt)
}

package clients

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/tree"
)

// OpenBao is a client for the OpenBao (Vault-compatible) HTTP API.
type OpenBao struct {
	http *HTTPClient
}

// NewOpenBao builds a client from backend settings, resolving the token from
// the keyring when configured.
func NewOpenBao(s config.BackendSettings) (*OpenBao, error) {
	token, err := s.ResolveToken("openbao")
	if err != nil {
		return nil, fmt.Errorf("resolve openbao token: %w", err)
	}
	headers := map[string]string{}
	if token != "" {
		headers["X-Vault-Token"] = token
	}
	if s.Namespace != "" {
		headers["X-Vault-Namespace"] = s.Namespace
	}
	return &OpenBao{http: newHTTPClient(s.Address, s.TLSSkipVerify, headers)}, nil
}

// HealthInfo is the subset of /v1/sys/health the tray surfaces.
type HealthInfo struct {
	Initialized bool   `json:"initialized"`
	Sealed      bool   `json:"sealed"`
	Standby     bool   `json:"standby"`
	Version     string `json:"version"`
	ClusterName string `json:"cluster_name"`
}

// Health queries /v1/sys/health. OpenBao answers with non-200 codes for
// sealed or standby nodes, so those are decoded rather than treated as
// errors.
func (c *OpenBao) Health(ctx context.Context) (HealthInfo, error) {
	var info HealthInfo
	err := c.http.get(ctx, "/v1/sys/health", nil, &info)
	if err != nil {
		var apiErr *APIError
		// 503 sealed, 501 uninitialized, 429 standby all carry a body.
		if errors.As(err, &apiErr) && (apiErr.StatusCode == 503 || apiErr.StatusCode == 501 || apiErr.StatusCode == 429) {
			return HealthInfo{Sealed: apiErr.StatusCode == 503, Initialized: apiErr.StatusCode != 501}, nil
		}
		return info, err
	}
	return info, nil
}

// SealStatus queries /v1/sys/seal-status.
func (c *OpenBao) SealStatus(ctx context.Context) (sealed bool, err error) {
	var out struct {
		Sealed bool `json:"sealed"`
	}
	if err := c.http.get(ctx, "/v1/sys/seal-status", nil, &out); err != nil {
		return false, err
	}
	return out.Sealed, nil
}

// TokenInfo describes the client's own token.
type TokenInfo struct {
	DisplayName string   `json:"display_name"`
	TTLSeconds  int      `json:"ttl"`
	Renewable   bool     `json:"renewable"`
	Policies    []string `json:"policies"`
}

// LookupSelf queries /v1/auth/token/lookup-self.
func (c *OpenBao) LookupSelf(ctx context.Context) (TokenInfo, error) {
	var out struct {
		Data TokenInfo `json:"data"`
	}
	if err := c.http.get(ctx, "/v1/auth/token/lookup-self", nil, &out); err != nil {
		return TokenInfo{}, err
	}
	return out.Data, nil
}

// RenewSelf renews the client's own token and returns the granted TTL in
// seconds.
func (c *OpenBao) RenewSelf(ctx context.Context) (int, error) {
	var out struct {
		Auth struct {
			LeaseDuration int `json:"lease_duration"`
		} `json:"auth"`
	}
	if err := c.http.post(ctx, "/v1/auth/token/renew-self", nil, &out); err != nil {
		return 0, err
	}
	return out.Auth.LeaseDuration, nil
}

// Mount is one secrets engine mount.
type Mount struct {
	Path string
	Type string
	KVv2 bool
}

// ListMounts queries /v1/sys/mounts, sorted by path.
func (c *OpenBao) ListMounts(ctx context.Context) ([]Mount, error) {
	var out struct {
		Data map[string]struct {
			Type    string            `json:"type"`
			Options map[string]string `json:"options"`
		} `json:"data"`
	}
	if err := c.http.get(ctx, "/v1/sys/mounts", nil, &out); err != nil {
		return nil, err
	}
	mounts := make([]Mount, 0, len(out.Data))
	for path, m := range out.Data {
		mounts = append(mounts, Mount{
			Path: strings.TrimSuffix(path, "/"),
			Type: m.Type,
			KVv2: m.Type == "kv" && m.Options["version"] == "2",
		})
	}
	sort.Slice(mounts, func(i, j int) bool { return mounts[i].Path < mounts[j].Path })
	return mounts, nil
}

// ListSecrets lists the keys under path in a KV v2 mount. Keys ending in "/"
// are folders. A missing path is an empty listing.
func (c *OpenBao) ListSecrets(ctx context.Context, mount, path string) ([]string, error) {
	var out struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	p := fmt.Sprintf("/v1/%s/metadata/%s", mount, strings.TrimPrefix(path, "/"))
	if err := c.http.do(ctx, "LIST", p, nil, nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out.Data.Keys, nil
}

// ReadSecret reads the current version of a KV v2 secret.
func (c *OpenBao) ReadSecret(ctx context.Context, mount, path string) (map[string]interface{}, error) {
	var out struct {
		Data struct {
			Data map[string]interface{} `json:"data"`
		} `json:"data"`
	}
	p := fmt.Sprintf("/v1/%s/data/%s", mount, strings.TrimPrefix(path, "/"))
	if err := c.http.get(ctx, p, nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Data, nil
}

// WriteSecret writes a new version of a KV v2 secret.
func (c *OpenBao) WriteSecret(ctx context.Context, mount, path string, data map[string]interface{}) error {
	p := fmt.Sprintf("/v1/%s/data/%s", mount, strings.TrimPrefix(path, "/"))
	return c.http.post(ctx, p, map[string]interface{}{"data": data}, nil)
}

// DeleteSecret soft-deletes the latest version of a KV v2 secret.
func (c *OpenBao) DeleteSecret(ctx context.Context, mount, path string) error {
	p := fmt.Sprintf("/v1/%s/data/%s", mount, strings.TrimPrefix(path, "/"))
	return c.http.delete(ctx, p)
}

// Lease is one active lease.
type Lease struct {
	ID string
}

// ListLeases lists lease IDs under a prefix. A missing prefix is an empty
// listing.
func (c *OpenBao) ListLeases(ctx context.Context, prefix string) ([]Lease, error) {
	var out struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	p := "/v1/sys/leases/lookup/" + strings.Trim(prefix, "/")
	if err := c.http.do(ctx, "LIST", p, nil, nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	leases := make([]Lease, 0, len(out.Data.Keys))
	for _, k := range out.Data.Keys {
		leases = append(leases, Lease{ID: strings.Trim(prefix, "/") + "/" + k})
	}
	return leases, nil
}

// RenewLease renews a lease and returns the granted duration in seconds.
func (c *OpenBao) RenewLease(ctx context.Context, leaseID string) (int, error) {
	var out struct {
		LeaseDuration int `json:"lease_duration"`
	}
	body := map[string]string{"lease_id": leaseID}
	if err := c.http.put(ctx, "/v1/sys/leases/renew", body, &out); err != nil {
		return 0, err
	}
	return out.LeaseDuration, nil
}

// ListPolicies lists ACL policy names.
func (c *OpenBao) ListPolicies(ctx context.Context) ([]string, error) {
	var out struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	if err := c.http.do(ctx, "LIST", "/v1/sys/policies/acl", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Keys, nil
}

// SecretsLister navigates mounts and KV v2 secrets as a resource tree. The
// root lists KV mounts as containers; below a mount, folder keys (trailing
// slash) are containers and plain keys are leaves.
func (c *OpenBao) SecretsLister() tree.Lister {
	return func(ctx context.Context, path string) ([]tree.Child, error) {
		if path == "" {
			mounts, err := c.ListMounts(ctx)
			if err != nil {
				return nil, err
			}
			var children []tree.Child
			for _, m := range mounts {
				if !m.KVv2 {
					continue
				}
				children = append(children, tree.Child{
					Path:        m.Path + "/",
					IsContainer: true,
					Label:       m.Path + " (kv)",
				})
			}
			return children, nil
		}

		mount, rest, _ := strings.Cut(strings.TrimSuffix(path, "/"), "/")
		keys, err := c.ListSecrets(ctx, mount, rest)
		if err != nil {
			return nil, err
		}
		children := make([]tree.Child, 0, len(keys))
		for _, key := range keys {
			children = append(children, tree.Child{
				Path:        path + key,
				IsContainer: strings.HasSuffix(key, "/"),
				Label:       strings.TrimSuffix(key, "/"),
			})
		}
		return children, nil
	}
}

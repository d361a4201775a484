package clients

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/tree"
)

// Consul is a client for the Consul HTTP API.
type Consul struct {
	http *HTTPClient
}

// NewConsul builds a client from backend settings.
func NewConsul(s config.BackendSettings) (*Consul, error) {
	token, err := s.ResolveToken("consul")
	if err != nil {
		return nil, fmt.Errorf("resolve consul token: %w", err)
	}
	headers := map[string]string{}
	if token != "" {
		headers["X-Consul-Token"] = token
	}
	if s.Namespace != "" {
		headers["X-Consul-Namespace"] = s.Namespace
	}
	return &Consul{http: newHTTPClient(s.Address, s.TLSSkipVerify, headers)}, nil
}

// Leader returns the cluster leader address, or an error if unreachable. The
// tray uses this as the health probe.
func (c *Consul) Leader(ctx context.Context) (string, error) {
	var leader string
	if err := c.http.get(ctx, "/v1/status/leader", nil, &leader); err != nil {
		return "", err
	}
	return strings.Trim(leader, `"`), nil
}

// Node is one catalog node.
type Node struct {
	Name    string `json:"Node"`
	Address string `json:"Address"`
}

// Nodes lists catalog nodes.
func (c *Consul) Nodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	if err := c.http.get(ctx, "/v1/catalog/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Services lists catalog service names with their tags, sorted by name.
func (c *Consul) Services(ctx context.Context) (map[string][]string, error) {
	services := map[string][]string{}
	if err := c.http.get(ctx, "/v1/catalog/services", nil, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// ServiceInstance is one instance of a service with its aggregated check
// status.
type ServiceInstance struct {
	Node    string
	Address string
	Port    int
	Status  string
}

// ServiceHealth lists a service's instances via /v1/health/service, reducing
// each instance's checks to its worst status.
func (c *Consul) ServiceHealth(ctx context.Context, service string) ([]ServiceInstance, error) {
	var entries []struct {
		Node struct {
			Node string `json:"Node"`
		} `json:"Node"`
		Service struct {
			Address string `json:"Address"`
			Port    int    `json:"Port"`
		} `json:"Service"`
		Checks []struct {
			Status string `json:"Status"`
		} `json:"Checks"`
	}
	if err := c.http.get(ctx, "/v1/health/service/"+service, nil, &entries); err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(entries))
	for _, e := range entries {
		status := "passing"
		for _, check := range e.Checks {
			if worseThan(check.Status, status) {
				status = check.Status
			}
		}
		instances = append(instances, ServiceInstance{
			Node:    e.Node.Node,
			Address: e.Service.Address,
			Port:    e.Service.Port,
			Status:  status,
		})
	}
	return instances, nil
}

func worseThan(a, b string) bool {
	rank := map[string]int{"passing": 0, "warning": 1, "critical": 2}
	return rank[a] > rank[b]
}

// KVKeys lists keys under prefix one level deep, using Consul's separator
// listing. Keys ending in "/" are folders. A missing prefix is an empty
// listing.
func (c *Consul) KVKeys(ctx context.Context, prefix string) ([]string, error) {
	params := url.Values{"keys": {"true"}, "separator": {"/"}}
	var keys []string
	if err := c.http.get(ctx, "/v1/kv/"+prefix, params, &keys); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

// KVDelete removes a key.
func (c *Consul) KVDelete(ctx context.Context, key string) error {
	return c.http.delete(ctx, "/v1/kv/"+key)
}

// ServicesLister navigates services and their instances. The root lists
// service names as containers; below a service, instances are leaves labeled
// with their health status.
func (c *Consul) ServicesLister() tree.Lister {
	return func(ctx context.Context, path string) ([]tree.Child, error) {
		if path == "" {
			services, err := c.Services(ctx)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(services))
			for name := range services {
				names = append(names, name)
			}
			sort.Strings(names)

			children := make([]tree.Child, 0, len(names))
			for _, name := range names {
				children = append(children, tree.Child{
					Path:        name + "/",
					IsContainer: true,
					Label:       name,
				})
			}
			return children, nil
		}

		service := strings.TrimSuffix(path, "/")
		instances, err := c.ServiceHealth(ctx, service)
		if err != nil {
			return nil, err
		}
		children := make([]tree.Child, 0, len(instances))
		for _, inst := range instances {
			children = append(children, tree.Child{
				Path:  fmt.Sprintf("%s%s:%d", path, inst.Node, inst.Port),
				Label: fmt.Sprintf("%s:%d [%s]", inst.Node, inst.Port, inst.Status),
			})
		}
		return children, nil
	}
}

// KVLister navigates the KV store one folder level at a time.
func (c *Consul) KVLister() tree.Lister {
	return func(ctx context.Context, path string) ([]tree.Child, error) {
		keys, err := c.KVKeys(ctx, path)
		if err != nil {
			return nil, err
		}
		children := make([]tree.Child, 0, len(keys))
		for _, key := range keys {
			if key == path {
				// Consul echoes the listed folder itself.
				continue
			}
			children = append(children, tree.Child{
				Path:        key,
				IsContainer: strings.HasSuffix(key, "/"),
				Label:       strings.TrimSuffix(strings.TrimPrefix(key, path), "/"),
			})
		}
		return children, nil
	}
}

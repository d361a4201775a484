package clients

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/tree"
)

// Nomad is a client for the Nomad HTTP API.
type Nomad struct {
	http      *HTTPClient
	namespace string
}

// NewNomad builds a client from backend settings.
func NewNomad(s config.BackendSettings) (*Nomad, error) {
	token, err := s.ResolveToken("nomad")
	if err != nil {
		return nil, fmt.Errorf("resolve nomad token: %w", err)
	}
	headers := map[string]string{}
	if token != "" {
		headers["X-Nomad-Token"] = token
	}
	return &Nomad{
		http:      newHTTPClient(s.Address, s.TLSSkipVerify, headers),
		namespace: s.Namespace,
	}, nil
}

func (c *Nomad) params() url.Values {
	if c.namespace == "" {
		return nil
	}
	return url.Values{"namespace": {c.namespace}}
}

// Leader returns the cluster leader address; used as the health probe.
func (c *Nomad) Leader(ctx context.Context) (string, error) {
	var leader string
	if err := c.http.get(ctx, "/v1/status/leader", nil, &leader); err != nil {
		return "", err
	}
	return strings.Trim(leader, `"`), nil
}

// Job is one job listing entry.
type Job struct {
	ID     string `json:"ID"`
	Name   string `json:"Name"`
	Type   string `json:"Type"`
	Status string `json:"Status"`
}

// Jobs lists all jobs in the configured namespace.
func (c *Nomad) Jobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := c.http.get(ctx, "/v1/jobs", c.params(), &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Allocation is one allocation listing entry.
type Allocation struct {
	ID           string `json:"ID"`
	Name         string `json:"Name"`
	NodeName     string `json:"NodeName"`
	ClientStatus string `json:"ClientStatus"`
}

// JobAllocations lists a job's allocations.
func (c *Nomad) JobAllocations(ctx context.Context, jobID string) ([]Allocation, error) {
	var allocs []Allocation
	if err := c.http.get(ctx, "/v1/job/"+url.PathEscape(jobID)+"/allocations", c.params(), &allocs); err != nil {
		return nil, err
	}
	return allocs, nil
}

// StopJob deregisters a job without purging it.
func (c *Nomad) StopJob(ctx context.Context, jobID string) error {
	return c.http.do(ctx, "DELETE", "/v1/job/"+url.PathEscape(jobID), c.params(), nil, nil)
}

// RestartJob forces a new evaluation, effectively rescheduling the job.
func (c *Nomad) RestartJob(ctx context.Context, jobID string) error {
	return c.http.post(ctx, "/v1/job/"+url.PathEscape(jobID)+"/evaluate", nil, nil)
}

// ClientNode is one client node listing entry.
type ClientNode struct {
	ID     string `json:"ID"`
	Name   string `json:"Name"`
	Status string `json:"Status"`
	Drain  bool   `json:"Drain"`
}

// ClientNodes lists the cluster's client nodes.
func (c *Nomad) ClientNodes(ctx context.Context) ([]ClientNode, error) {
	var nodes []ClientNode
	if err := c.http.get(ctx, "/v1/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// JobStatuses returns jobID -> status for every job; this is the snapshot the
// change detector diffs.
func (c *Nomad) JobStatuses(ctx context.Context) (map[string]string, error) {
	jobs, err := c.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]string, len(jobs))
	for _, j := range jobs {
		statuses[j.ID] = j.Status
	}
	return statuses, nil
}

// JobsLister navigates jobs and their allocations. The root lists jobs as
// containers labeled with their status; below a job, allocations are leaves.
func (c *Nomad) JobsLister() tree.Lister {
	return func(ctx context.Context, path string) ([]tree.Child, error) {
		if path == "" {
			jobs, err := c.Jobs(ctx)
			if err != nil {
				return nil, err
			}
			children := make([]tree.Child, 0, len(jobs))
			for _, j := range jobs {
				children = append(children, tree.Child{
					Path:        j.ID + "/",
					IsContainer: true,
					Label:       fmt.Sprintf("%s [%s]", j.ID, j.Status),
				})
			}
			return children, nil
		}

		jobID := strings.TrimSuffix(path, "/")
		allocs, err := c.JobAllocations(ctx, jobID)
		if err != nil {
			return nil, err
		}
		children := make([]tree.Child, 0, len(allocs))
		for _, a := range allocs {
			short := a.ID
			if len(short) > 8 {
				short = short[:8]
			}
			children = append(children, tree.Child{
				Path:  path + a.ID,
				Label: fmt.Sprintf("%s on %s [%s]", short, a.NodeName, a.ClientStatus),
			})
		}
		return children, nil
	}
}

// NodesLister lists client nodes as leaves.
func (c *Nomad) NodesLister() tree.Lister {
	return func(ctx context.Context, path string) ([]tree.Child, error) {
		nodes, err := c.ClientNodes(ctx)
		if err != nil {
			return nil, err
		}
		children := make([]tree.Child, 0, len(nodes))
		for _, n := range nodes {
			label := fmt.Sprintf("%s [%s]", n.Name, n.Status)
			if n.Drain {
				label += " (draining)"
			}
			children = append(children, tree.Child{Path: n.ID, Label: label})
		}
		return children, nil
	}
}

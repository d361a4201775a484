package clients

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/internal/daemon/tree"
)

// Boundary talks to the Boundary controller over HTTP for listings and
// shells out to the boundary binary for connect sessions.
type Boundary struct {
	http    *HTTPClient
	address string
	token   string
	binary  string
}

// NewBoundary builds a client from backend settings.
func NewBoundary(s config.BackendSettings, binary string) (*Boundary, error) {
	token, err := s.ResolveToken("boundary")
	if err != nil {
		return nil, fmt.Errorf("resolve boundary token: %w", err)
	}
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	if binary == "" {
		binary = "boundary"
	}
	return &Boundary{
		http:    newHTTPClient(s.Address, s.TLSSkipVerify, headers),
		address: s.Address,
		token:   token,
		binary:  binary,
	}, nil
}

// Scope is one Boundary scope (org or project).
type Scope struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Scopes lists the scopes under parent ("global" at the top).
func (c *Boundary) Scopes(ctx context.Context, parent string) ([]Scope, error) {
	if parent == "" {
		parent = "global"
	}
	var out struct {
		Items []Scope `json:"items"`
	}
	params := url.Values{"scope_id": {parent}}
	if err := c.http.get(ctx, "/v1/scopes", params, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Target is one connectable target.
type Target struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Address string `json:"address"`
}

// Targets lists the targets in a scope. A scope with no targets endpoint
// visibility yields an empty listing.
func (c *Boundary) Targets(ctx context.Context, scopeID string) ([]Target, error) {
	var out struct {
		Items []Target `json:"items"`
	}
	params := url.Values{"scope_id": {scopeID}}
	if err := c.http.get(ctx, "/v1/targets", params, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out.Items, nil
}

// ConnectCommand builds the CLI invocation for a proxy session to a target.
// The command is handed to the process registry; it runs until cancelled.
func (c *Boundary) ConnectCommand(ctx context.Context, targetID string, listenPort int) *exec.Cmd {
	args := []string{"connect", "-target-id", targetID, "-format", "json"}
	if c.address != "" {
		args = append(args, "-addr", c.address)
	}
	if c.token != "" {
		args = append(args, "-token", c.token)
	}
	if listenPort > 0 {
		args = append(args, "-listen-port", fmt.Sprint(listenPort))
	}
	return exec.CommandContext(ctx, c.binary, args...)
}

// TargetsLister navigates scopes and their targets. Scope containers carry a
// "scope:" path prefix so the lister can tell the two levels apart.
func (c *Boundary) TargetsLister() tree.Lister {
	return func(ctx context.Context, path string) ([]tree.Child, error) {
		if path == "" {
			scopes, err := c.Scopes(ctx, "global")
			if err != nil {
				return nil, err
			}
			children := make([]tree.Child, 0, len(scopes))
			for _, s := range scopes {
				label := s.Name
				if label == "" {
					label = s.ID
				}
				children = append(children, tree.Child{
					Path:        "scope:" + s.ID + "/",
					IsContainer: true,
					Label:       label,
				})
			}
			return children, nil
		}

		scopeID := strings.TrimSuffix(strings.TrimPrefix(path, "scope:"), "/")
		targets, err := c.Targets(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		children := make([]tree.Child, 0, len(targets))
		for _, t := range targets {
			label := t.Name
			if label == "" {
				label = t.ID
			}
			children = append(children, tree.Child{
				Path:  path + t.ID,
				Label: fmt.Sprintf("%s (%s)", label, t.Type),
			})
		}
		return children, nil
	}
}

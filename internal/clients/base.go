// Package clients contains the thin REST/CLI wrappers for the supported
// backends (OpenBao, Consul, Nomad, Boundary, OpenTofu, Packer) and the
// factory that constructs them from settings. Each wrapper is one line per
// endpoint on top of the shared HTTP client; the interesting behavior lives
// in the daemon packages that consume them.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from a backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404. Listing a path that doesn't exist
// is a successful empty listing as far as the resource tree is concerned, so
// listers branch on this instead of surfacing the error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

const requestTimeout = 30 * time.Second

// HTTPClient is the shared REST plumbing: base URL, static headers, JSON
// encode/decode, and error mapping.
type HTTPClient struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

func newHTTPClient(address string, skipVerify bool, headers map[string]string) *HTTPClient {
	transport := &http.Transport{}
	if skipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(address, "/"),
		headers: headers,
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
	}
}

// do performs one request. body (if non-nil) is JSON-encoded; out (if
// non-nil) receives the decoded JSON response.
func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

func (c *HTTPClient) put(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *HTTPClient) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// errorMessage extracts a human-readable message from an error body. OpenBao
// and Boundary use {"errors": [...]} / {"message": ...}; anything else falls
// back to the raw body or the HTTP status line.
func errorMessage(data []byte, status string) string {
	var withErrors struct {
		Errors  []string `json:"errors"`
		Message string   `json:"message"`
	}
	if err := json.Unmarshal(data, &withErrors); err == nil {
		if len(withErrors.Errors) > 0 {
			return strings.Join(withErrors.Errors, "; ")
		}
		if withErrors.Message != "" {
			return withErrors.Message
		}
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return msg
	}
	return status
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client is the Go client for the flowgated API, used by the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/flowgate/pkg/httpclient"
)

// Envelope mirrors the daemon's response shape.
type Envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Where string          `json:"where,omitempty"`
}

// Client is a client for the flowgated API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authKey    string
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithAuthKey sets the bearer token for authentication.
func WithAuthKey(key string) Option {
	return func(c *Client) error {
		c.authKey = key
		return nil
	}
}

// WithTimeout overrides the default request timeout. Triggers and batches
// can take minutes when the remote service has to cold-start.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		hc := httpclient.DefaultConfig()
		hc.Timeout = timeout
		hc.MaxAttempts = 1
		hc.UserAgent = "flowgate-cli/1.0"
		httpClient, err := httpclient.New(hc)
		if err != nil {
			return err
		}
		c.httpClient = httpClient
		return nil
	}
}

// New creates a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.httpClient == nil {
		// Lifecycle-wrapped calls block on cold starts, so the default
		// timeout is deliberately long.
		if err := WithTimeout(5 * time.Minute)(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// do issues one request and decodes the envelope. An ok:false envelope is
// returned as an error carrying the daemon's message.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.authKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode, string(raw))
	}
	if !envelope.OK && envelope.Error != "" {
		if envelope.Where != "" {
			return envelope.Data, fmt.Errorf("%s: %s", envelope.Where, envelope.Error)
		}
		return envelope.Data, fmt.Errorf("%s", envelope.Error)
	}
	return envelope.Data, nil
}

// Status returns the daemon's service and platform status.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/status", nil, nil)
}

// Start brings the workflow service up.
func (c *Client) Start(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/start", nil, nil)
}

// Stop brings the workflow service down.
func (c *Client) Stop(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/stop", nil, nil)
}

// Trigger invokes one workflow with the lifecycle wrapper.
func (c *Client) Trigger(ctx context.Context, workflowID string, payload any, keepAlive bool) (json.RawMessage, error) {
	query := url.Values{}
	if keepAlive {
		query.Set("keep_alive", "true")
	}
	return c.do(ctx, http.MethodPost, "/v1/trigger/"+workflowID, query, payload)
}

// BatchItem is one invocation inside a batch request.
type BatchItem struct {
	WorkflowID string `json:"workflow_id"`
	Payload    any    `json:"payload,omitempty"`
}

// Batch runs several workflows against one start/stop cycle.
func (c *Client) Batch(ctx context.Context, items []BatchItem) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/batch", nil, map[string]any{"items": items})
}

// Bootstrap deploys the managed workflow catalog.
func (c *Client) Bootstrap(ctx context.Context, overrides any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/bootstrap", nil, overrides)
}

// ListWorkflows returns the proxied workflow listing.
func (c *Client) ListWorkflows(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/workflows", nil, nil)
}

// ListExecutions returns recent executions.
func (c *Client) ListExecutions(ctx context.Context, workflowID string, limit int) (json.RawMessage, error) {
	query := url.Values{}
	if workflowID != "" {
		query.Set("workflow_id", workflowID)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	return c.do(ctx, http.MethodGet, "/v1/executions", query, nil)
}

// History returns recent lifecycle events.
func (c *Client) History(ctx context.Context, limit int) (json.RawMessage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	return c.do(ctx, http.MethodGet, "/v1/history", query, nil)
}

// Version returns the daemon's build information.
func (c *Client) Version(ctx context.Context) (json.RawMessage, error) {
	endpoint := c.baseURL + "/v1/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return json.RawMessage(raw), err
}

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

// Package n8n is the client for the workflow server: management API CRUD,
// credential resolution, webhook invocation, and health polling.
package n8n

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

	"github.com/tombee/flowgate/pkg/errors"
	"github.com/tombee/flowgate/pkg/httpclient"
)

// Config configures the management client.
type Config struct {
	// BaseURL is the management API base URL without trailing slash.
	BaseURL string

	// APIKey is sent as X-N8N-API-KEY plus a duplicate
	// Authorization: Bearer header for older server versions.
	APIKey string

	// BasicUser/BasicPass take precedence over APIKey when both are set.
	BasicUser string
	BasicPass string

	// Timeout bounds each management call. Default: 30s.
	Timeout time.Duration
}

// Client issues authenticated calls against the workflow server's
// management API. All operations return either decoded data or a typed
// error; transient failures (5xx, timeouts) are retried by the underlying
// transport, permanent ones (4xx) are surfaced immediately.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a management client. The HTTP stack retries mutations
// too: the management API treats them idempotently.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.UserAgent = "flowgate/1.0"
	hc.RetryAllMethods = true

	httpClient, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg: Config{
			BaseURL:   strings.TrimRight(cfg.BaseURL, "/"),
			APIKey:    cfg.APIKey,
			BasicUser: cfg.BasicUser,
			BasicPass: cfg.BasicPass,
			Timeout:   cfg.Timeout,
		},
		http: httpClient,
	}, nil
}

// authorize applies the configured authentication scheme in fixed
// precedence: basic auth wins when user and password are both set,
// otherwise the API key headers, otherwise a "not configured" error.
// A call is never sent unauthenticated.
func (c *Client) authorize(req *http.Request) error {
	if c.cfg.BasicUser != "" && c.cfg.BasicPass != "" {
		req.SetBasicAuth(c.cfg.BasicUser, c.cfg.BasicPass)
		return nil
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-N8N-API-KEY", c.cfg.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		return nil
	}
	return &errors.ConfigError{
		Key:    "n8n.api_key",
		Reason: "no API key or basic auth credentials configured",
	}
}

// do issues a management request and returns the raw response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if c.cfg.BaseURL == "" {
		return nil, &errors.ConfigError{Key: "n8n.base_url", Reason: "management API base URL is not configured"}
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errors.RemoteError{
			System:  "n8n",
			Message: fmt.Sprintf("%s %s failed", method, path),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.RemoteError{System: "n8n", Message: "reading response body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errors.RemoteError{
			System:     "n8n",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s %s", method, path),
			Body:       string(respBody),
		}
	}

	// Some endpoints return an empty body on success.
	if len(respBody) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(respBody), nil
}

// ListWorkflows returns the raw workflow listing.
func (c *Client) ListWorkflows(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/rest/workflows", nil, nil)
}

// GetWorkflow returns a single workflow document.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/rest/workflows/"+workflowID, nil, nil)
}

// CreateWorkflow submits a workflow spec and returns the new workflow's ID
// alongside the raw response. The server becomes the sole owner of the
// persisted document.
func (c *Client) CreateWorkflow(ctx context.Context, spec WorkflowSpec) (FlexibleID, json.RawMessage, error) {
	raw, err := c.do(ctx, http.MethodPost, "/rest/workflows", nil, spec)
	if err != nil {
		return "", nil, err
	}

	id := extractWorkflowID(raw)
	if id == "" {
		return "", raw, &errors.RemoteError{
			System:  "n8n",
			Message: "cannot determine workflow id from create response",
			Body:    string(raw),
		}
	}
	return id, raw, nil
}

// UpdateWorkflow patches an existing workflow.
func (c *Client) UpdateWorkflow(ctx context.Context, workflowID string, patch any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, "/rest/workflows/"+workflowID, nil, patch)
}

// DeleteWorkflow removes a workflow.
func (c *Client) DeleteWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, "/rest/workflows/"+workflowID, nil, nil)
}

// ActivateWorkflow enables a workflow's triggers.
func (c *Client) ActivateWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/rest/workflows/"+workflowID+"/activate", nil, nil)
}

// DeactivateWorkflow disables a workflow's triggers.
func (c *Client) DeactivateWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/rest/workflows/"+workflowID+"/deactivate", nil, nil)
}

// RunOnce requests a one-off execution. Not every server version supports
// /run; a 404 or 405 is reported as an ok:false envelope with a hint
// instead of an error so a deploy-with-test doesn't abort.
func (c *Client) RunOnce(ctx context.Context, workflowID string, runData any) (json.RawMessage, error) {
	if runData == nil {
		runData = map[string]any{}
	}
	raw, err := c.do(ctx, http.MethodPost, "/rest/workflows/"+workflowID+"/run", nil, runData)
	if err != nil {
		if status := errors.StatusCode(err); status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
			hint := map[string]any{
				"ok":    false,
				"hint":  "this n8n version may not support /run; use the UI 'Execute Workflow' instead",
				"error": err.Error(),
			}
			encoded, _ := json.Marshal(hint)
			return encoded, nil
		}
		return nil, err
	}
	return raw, nil
}

// ListExecutions returns recent executions, optionally scoped to one
// workflow.
func (c *Client) ListExecutions(ctx context.Context, workflowID string, limit int) (json.RawMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", limit))
	if workflowID != "" {
		query.Set("workflowId", workflowID)
	}
	return c.do(ctx, http.MethodGet, "/rest/executions", query, nil)
}

// ListCredentials returns all stored credentials. Both the bare-array and
// {"data": [...]} response shapes are accepted.
func (c *Client) ListCredentials(ctx context.Context) ([]Credential, error) {
	raw, err := c.do(ctx, http.MethodGet, "/rest/credentials", nil, nil)
	if err != nil {
		return nil, err
	}

	var creds []Credential
	if err := json.Unmarshal(raw, &creds); err == nil {
		return creds, nil
	}

	var wrapped struct {
		Data []Credential `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &errors.RemoteError{System: "n8n", Message: "unexpected credentials response shape", Body: string(raw)}
	}
	return wrapped.Data, nil
}

// CredentialByName linear-scans the credential listing for a display-name
// match.
func (c *Client) CredentialByName(ctx context.Context, name string) (*Credential, error) {
	creds, err := c.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	for i := range creds {
		if creds[i].Name == name {
			return &creds[i], nil
		}
	}
	return nil, &errors.NotFoundError{Resource: "credential", ID: name}
}

// extractWorkflowID digs the workflow ID out of a create response,
// tolerating the id / _id / data.id shapes seen across server versions.
func extractWorkflowID(raw json.RawMessage) FlexibleID {
	var flat struct {
		ID  FlexibleID `json:"id"`
		Alt FlexibleID `json:"_id"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil {
		if flat.ID != "" {
			return flat.ID
		}
		if flat.Alt != "" {
			return flat.Alt
		}
	}

	var nested struct {
		Data struct {
			ID FlexibleID `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		return nested.Data.ID
	}
	return ""
}

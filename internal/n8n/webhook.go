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

package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/flowgate/pkg/errors"
	"github.com/tombee/flowgate/pkg/httpclient"
)

// WebhookClient invokes workflows through the server's public trigger
// endpoint. The timeout is generous to accommodate long-running
// automations; invocations are never retried (a workflow may have already
// fired side effects).
type WebhookClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewWebhookClient creates a webhook client for the scheme://host base URL.
func NewWebhookClient(baseURL string, timeout time.Duration) (*WebhookClient, error) {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = timeout
	hc.MaxAttempts = 1
	hc.UserAgent = "flowgate/1.0"

	httpClient, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}

	return &WebhookClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: timeout,
	}, nil
}

// Invoke POSTs the payload to /webhook/{workflowID} and returns the raw
// JSON response.
func (c *WebhookClient) Invoke(ctx context.Context, workflowID string, payload any) (json.RawMessage, error) {
	// A bare scheme means the webhook host was never configured.
	if c.baseURL == "" || strings.HasSuffix(c.baseURL, ":") || strings.HasSuffix(c.baseURL, "://") {
		return nil, &errors.ConfigError{Key: "n8n.webhook_host", Reason: "webhook host is not configured"}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encoding payload")
	}

	endpoint := c.baseURL + "/webhook/" + workflowID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errors.RemoteError{
			System:  "n8n",
			Message: fmt.Sprintf("webhook invocation of %s failed", workflowID),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.RemoteError{System: "n8n", Message: "reading webhook response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errors.RemoteError{
			System:     "n8n",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("webhook invocation of %s", workflowID),
			Body:       string(body),
		}
	}

	if len(body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(body) {
		wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
		return wrapped, nil
	}
	return body, nil
}

// HealthClient polls the workflow server's readiness endpoint.
type HealthClient struct {
	url  string
	http *http.Client
}

// NewHealthClient creates a health client for the scheme://host base URL.
func NewHealthClient(baseURL string, timeout time.Duration) (*HealthClient, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = timeout
	hc.MaxAttempts = 1
	hc.UserAgent = "flowgate/1.0"

	httpClient, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}

	return &HealthClient{
		url:  strings.TrimRight(baseURL, "/") + "/healthz",
		http: httpClient,
	}, nil
}

// Healthy returns nil when the server answers 200 on /healthz.
func (c *HealthClient) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &errors.RemoteError{System: "n8n", Message: "health check failed", Cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &errors.RemoteError{
			System:     "n8n",
			StatusCode: resp.StatusCode,
			Message:    "health check",
		}
	}
	return nil
}

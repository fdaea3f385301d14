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

// Package railway talks to the hosting platform's GraphQL control API to
// start and stop the compute service running the workflow server.
package railway

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

// DefaultEndpoint is the public control API endpoint.
const DefaultEndpoint = "https://backboard.railway.app/graphql"

// Config configures the control API client.
type Config struct {
	// Endpoint is the GraphQL endpoint. Default: DefaultEndpoint.
	Endpoint string

	// Token is the API token, sent as Authorization: Bearer.
	Token string

	// ServiceID identifies the service to start and stop.
	ServiceID string

	// Timeout bounds each control call. Default: 30s.
	Timeout time.Duration
}

// Client issues start/stop mutations against the platform control API.
// Mutations are retried on transient failures; the platform treats a
// repeated start or stop of the same service as a no-op.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a control API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
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

	return &Client{cfg: cfg, http: httpClient}, nil
}

// ServiceID returns the configured service identifier.
func (c *Client) ServiceID() string {
	return c.cfg.ServiceID
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// execute runs one GraphQL document and returns the data payload.
// A non-empty errors array is a hard failure even on HTTP 200.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if c.cfg.Token == "" {
		return nil, &errors.ConfigError{Key: "platform.token", Reason: "platform API token is not configured"}
	}

	encoded, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, errors.Wrap(err, "encoding GraphQL request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errors.RemoteError{System: "railway", Message: "control API request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.RemoteError{System: "railway", Message: "reading control API response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errors.RemoteError{
			System:     "railway",
			StatusCode: resp.StatusCode,
			Message:    "control API request",
			Body:       string(body),
		}
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &errors.RemoteError{System: "railway", Message: "decoding control API response", Body: string(body), Cause: err}
	}

	if len(decoded.Errors) > 0 {
		messages := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			messages = append(messages, e.Message)
		}
		return nil, &errors.RemoteError{
			System:  "railway",
			Message: fmt.Sprintf("control API returned errors: %s", strings.Join(messages, "; ")),
			Body:    string(body),
		}
	}

	return decoded.Data, nil
}

// requireServiceID fails fast when no service is configured.
func (c *Client) requireServiceID() error {
	if c.cfg.ServiceID == "" {
		return &errors.ConfigError{Key: "platform.service_id", Reason: "service ID is not configured"}
	}
	return nil
}

// StartService asks the platform to start the configured service. Starting
// an already-running service is accepted by the platform.
func (c *Client) StartService(ctx context.Context) error {
	if err := c.requireServiceID(); err != nil {
		return err
	}
	query := fmt.Sprintf(`mutation { serviceStart(id: %q) }`, c.cfg.ServiceID)
	_, err := c.execute(ctx, query, nil)
	return err
}

// StopService asks the platform to stop the configured service.
func (c *Client) StopService(ctx context.Context) error {
	if err := c.requireServiceID(); err != nil {
		return err
	}
	query := fmt.Sprintf(`mutation { serviceStop(id: %q) }`, c.cfg.ServiceID)
	_, err := c.execute(ctx, query, nil)
	return err
}

// Probe verifies the token by fetching the caller's identity.
func (c *Client) Probe(ctx context.Context) (string, error) {
	data, err := c.execute(ctx, `query { me { id } }`, nil)
	if err != nil {
		return "", err
	}
	var decoded struct {
		Me struct {
			ID string `json:"id"`
		} `json:"me"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", &errors.RemoteError{System: "railway", Message: "decoding identity response", Body: string(data), Cause: err}
	}
	return decoded.Me.ID, nil
}

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

// Package config loads and validates flowgate configuration from a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/flowgate/internal/tracing"
	flowgateerrors "github.com/tombee/flowgate/pkg/errors"
)

// Config represents the complete flowgate configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	N8N       N8NConfig       `yaml:"n8n"`
	Platform  PlatformConfig  `yaml:"platform"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
	Tracing   tracing.Config  `yaml:"tracing"`
}

// ServerConfig configures the daemon's HTTP listener.
type ServerConfig struct {
	// Addr is the TCP listen address. Default: 127.0.0.1:8080.
	Addr string `yaml:"addr"`

	// AuthKey is the bearer token required on façade requests.
	// Empty disables authentication.
	AuthKey string `yaml:"auth_key"`

	// TriggerRatePerSecond limits lifecycle-wrapped trigger requests.
	// Zero disables rate limiting.
	TriggerRatePerSecond float64 `yaml:"trigger_rate_per_second"`

	// TriggerBurst is the rate limiter burst size. Default: 1 when
	// rate limiting is enabled.
	TriggerBurst int `yaml:"trigger_burst"`
}

// N8NConfig configures access to the workflow server.
type N8NConfig struct {
	// BaseURL is the management API base URL (no trailing slash),
	// e.g. https://n8n.example.com.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates management calls via the X-N8N-API-KEY header
	// (a duplicate Authorization: Bearer header is sent for compatibility).
	APIKey string `yaml:"api_key"`

	// BasicUser/BasicPass authenticate via basic auth. When both are set
	// they take precedence over APIKey.
	BasicUser string `yaml:"basic_user"`
	BasicPass string `yaml:"basic_pass"`

	// WebhookHost is the host serving webhook and health endpoints,
	// e.g. my-n8n.up.railway.app.
	WebhookHost string `yaml:"webhook_host"`

	// WebhookProtocol is http or https. Default: https.
	WebhookProtocol string `yaml:"webhook_protocol"`

	// ManagementTimeout bounds each management API call. Default: 30s.
	ManagementTimeout time.Duration `yaml:"management_timeout"`

	// InvokeTimeout bounds webhook invocations; generous to accommodate
	// long-running automations. Default: 2m.
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`
}

// WebhookBaseURL returns the scheme://host base for webhook and health calls.
func (c N8NConfig) WebhookBaseURL() string {
	protocol := c.WebhookProtocol
	if protocol == "" {
		protocol = "https"
	}
	return protocol + "://" + c.WebhookHost
}

// PlatformConfig configures the hosting platform control API.
type PlatformConfig struct {
	// Endpoint is the GraphQL endpoint.
	// Default: https://backboard.railway.app/graphql.
	Endpoint string `yaml:"endpoint"`

	// Token is the platform API token (Authorization: Bearer).
	Token string `yaml:"token"`

	// ServiceID identifies the compute service running the workflow server.
	ServiceID string `yaml:"service_id"`

	// Timeout bounds each control API call. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// LifecycleConfig configures the start/stop controller.
type LifecycleConfig struct {
	// StartupWait is how long to wait after a start mutation before the
	// first health poll. Default: 10s.
	StartupWait time.Duration `yaml:"startup_wait"`

	// HealthPolls is the maximum number of health checks after the warm-up
	// wait. Default: 5.
	HealthPolls int `yaml:"health_polls"`

	// HealthInterval is the delay between health polls. Default: 3s.
	HealthInterval time.Duration `yaml:"health_interval"`

	// HealthTimeout bounds a single health poll. Default: 5s.
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// ProceedOnUnhealthy keeps a start "successful" even when every health
	// poll failed. The caller proceeds optimistically, trading correctness
	// for latency. Default: true.
	ProceedOnUnhealthy *bool `yaml:"proceed_on_unhealthy"`
}

// ProceedAnyway resolves the ProceedOnUnhealthy pointer with its default.
func (c LifecycleConfig) ProceedAnyway() bool {
	if c.ProceedOnUnhealthy == nil {
		return true
	}
	return *c.ProceedOnUnhealthy
}

// HistoryConfig configures the local invocation/lifecycle event log.
type HistoryConfig struct {
	// Path is the SQLite database path; empty disables the history store.
	// Special value ":memory:" keeps the log in memory.
	Path string `yaml:"path"`

	// Retention is the maximum number of records kept. Default: 1000.
	Retention int `yaml:"retention"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Platform: PlatformConfig{
			Endpoint: "https://backboard.railway.app/graphql",
			Timeout:  30 * time.Second,
		},
		N8N: N8NConfig{
			WebhookProtocol:   "https",
			ManagementTimeout: 30 * time.Second,
			InvokeTimeout:     2 * time.Minute,
		},
		Lifecycle: LifecycleConfig{
			StartupWait:    10 * time.Second,
			HealthPolls:    5,
			HealthInterval: 3 * time.Second,
			HealthTimeout:  5 * time.Second,
		},
		History: HistoryConfig{
			Retention: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the given YAML file (optional; a missing
// file is not an error when path is empty) and applies environment
// variable overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &flowgateerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("cannot read %s", path),
				Cause:  err,
			}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &flowgateerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("cannot parse %s", path),
				Cause:  err,
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv applies environment variable overrides. Variable names follow
// the original deployment surface so existing environments keep working.
func (c *Config) applyEnv() {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.Server.Addr, "FLOWGATE_ADDR")
	setString(&c.Server.AuthKey, "FLOWGATE_AUTH_KEY")

	setString(&c.Platform.Token, "RAILWAY_API_TOKEN")
	setString(&c.Platform.ServiceID, "N8N_SERVICE_ID")
	setString(&c.Platform.Endpoint, "RAILWAY_API_URL")

	setString(&c.N8N.BaseURL, "N8N_API_URL")
	setString(&c.N8N.APIKey, "N8N_API_KEY")
	setString(&c.N8N.BasicUser, "N8N_BASIC_AUTH_USER")
	setString(&c.N8N.BasicPass, "N8N_BASIC_AUTH_PASS")
	setString(&c.N8N.WebhookHost, "N8N_HOST")
	setString(&c.N8N.WebhookProtocol, "N8N_PROTOCOL")

	setString(&c.History.Path, "FLOWGATE_HISTORY_DB")

	if v := os.Getenv("N8N_STARTUP_WAIT"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			c.Lifecycle.StartupWait = time.Duration(seconds) * time.Second
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks structural validity. Presence of remote credentials is
// deliberately not required here: each client fails fast with a descriptive
// "not configured" error when an operation actually needs them.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &flowgateerrors.ConfigError{Key: "server.addr", Reason: "listen address must not be empty"}
	}
	if c.N8N.WebhookProtocol != "" && c.N8N.WebhookProtocol != "http" && c.N8N.WebhookProtocol != "https" {
		return &flowgateerrors.ConfigError{
			Key:    "n8n.webhook_protocol",
			Reason: fmt.Sprintf("must be http or https, got %q", c.N8N.WebhookProtocol),
		}
	}
	if c.Lifecycle.HealthPolls < 0 {
		return &flowgateerrors.ConfigError{Key: "lifecycle.health_polls", Reason: "must be >= 0"}
	}
	if c.Lifecycle.HealthInterval < 0 || c.Lifecycle.StartupWait < 0 {
		return &flowgateerrors.ConfigError{Key: "lifecycle", Reason: "durations must be >= 0"}
	}
	if c.History.Retention < 0 {
		return &flowgateerrors.ConfigError{Key: "history.retention", Reason: "must be >= 0"}
	}
	return nil
}

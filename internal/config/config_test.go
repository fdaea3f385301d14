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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "https://backboard.railway.app/graphql", cfg.Platform.Endpoint)
	assert.Equal(t, "https", cfg.N8N.WebhookProtocol)
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.StartupWait)
	assert.Equal(t, 5, cfg.Lifecycle.HealthPolls)
	assert.Equal(t, 3*time.Second, cfg.Lifecycle.HealthInterval)
	assert.Equal(t, 2*time.Minute, cfg.N8N.InvokeTimeout)
	assert.Equal(t, 1000, cfg.History.Retention)
	assert.True(t, cfg.Lifecycle.ProceedAnyway())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: "0.0.0.0:9090"
  auth_key: "secret"
n8n:
  base_url: "https://n8n.example.com"
  webhook_host: "n8n.example.com"
  webhook_protocol: "http"
lifecycle:
  startup_wait: 20s
  health_polls: 2
  proceed_on_unhealthy: false
history:
  path: "/tmp/history.db"
  retention: 50
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.AuthKey)
	assert.Equal(t, "http://n8n.example.com", cfg.N8N.WebhookBaseURL())
	assert.Equal(t, 20*time.Second, cfg.Lifecycle.StartupWait)
	assert.Equal(t, 2, cfg.Lifecycle.HealthPolls)
	assert.False(t, cfg.Lifecycle.ProceedAnyway())
	assert.Equal(t, 50, cfg.History.Retention)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RAILWAY_API_TOKEN", "rw-token")
	t.Setenv("N8N_SERVICE_ID", "svc-1")
	t.Setenv("N8N_API_URL", "https://n8n.internal")
	t.Setenv("N8N_API_KEY", "n8n-key")
	t.Setenv("N8N_HOST", "n8n.up.railway.app")
	t.Setenv("N8N_PROTOCOL", "https")
	t.Setenv("N8N_STARTUP_WAIT", "25")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "rw-token", cfg.Platform.Token)
	assert.Equal(t, "svc-1", cfg.Platform.ServiceID)
	assert.Equal(t, "https://n8n.internal", cfg.N8N.BaseURL)
	assert.Equal(t, "n8n-key", cfg.N8N.APIKey)
	assert.Equal(t, "https://n8n.up.railway.app", cfg.N8N.WebhookBaseURL())
	assert.Equal(t, 25*time.Second, cfg.Lifecycle.StartupWait)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("n8n:\n  api_key: from-file\n"), 0o600))
	t.Setenv("N8N_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.N8N.APIKey)
}

func TestValidateRejectsBadProtocol(t *testing.T) {
	cfg := Default()
	cfg.N8N.WebhookProtocol = "gopher"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativePolls(t *testing.T) {
	cfg := Default()
	cfg.Lifecycle.HealthPolls = -1
	require.Error(t, cfg.Validate())
}

func TestMissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestInvalidStartupWaitIgnored(t *testing.T) {
	t.Setenv("N8N_STARTUP_WAIT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.StartupWait)
}

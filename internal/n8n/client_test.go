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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowgate/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client, server
}

func TestClientSendsAPIKeyHeaders(t *testing.T) {
	var gotAPIKey, gotAuth string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-N8N-API-KEY")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":[]}`))
	})

	_, err := client.ListWorkflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotAPIKey)
	// The duplicate bearer header keeps older server versions working.
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestClientBasicAuthTakesPrecedence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		assert.Empty(t, r.Header.Get("X-N8N-API-KEY"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:   server.URL,
		APIKey:    "ignored",
		BasicUser: "admin",
		BasicPass: "secret",
	})
	require.NoError(t, err)

	_, err = client.ListWorkflows(context.Background())
	require.NoError(t, err)
}

func TestClientRejectsUnauthenticatedConfig(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:5678"})
	require.NoError(t, err)

	_, err = client.ListWorkflows(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNotConfigured(err))
}

func TestCreateWorkflowExtractsID(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"flat string id", `{"id":"abc-123","name":"wf"}`, "abc-123"},
		{"numeric id", `{"id":42}`, "42"},
		{"underscore id", `{"_id":"legacy-9"}`, "legacy-9"},
		{"nested data id", `{"data":{"id":"nested-7"}}`, "nested-7"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				w.Write([]byte(tc.body))
			})

			id, _, err := client.CreateWorkflow(context.Background(), WorkflowSpec{Name: "wf"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, id.String())
		})
	}
}

func TestCreateWorkflowFailsWithoutID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"created"}`))
	})

	_, raw, err := client.CreateWorkflow(context.Background(), WorkflowSpec{Name: "wf"})
	require.Error(t, err)
	assert.NotNil(t, raw, "the raw response is kept for diagnostics")
}

func TestRunOnceUnsupportedReturnsHint(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusMethodNotAllowed} {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"message":"not supported"}`))
		})

		raw, err := client.RunOnce(context.Background(), "wf-1", nil)
		require.NoError(t, err, "unsupported /run is not an error, status %d", status)

		var decoded struct {
			OK   bool   `json:"ok"`
			Hint string `json:"hint"`
		}
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.False(t, decoded.OK)
		assert.NotEmpty(t, decoded.Hint)
	}
}

func TestRunOnceOtherErrorsPropagate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.RunOnce(context.Background(), "wf-1", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, errors.StatusCode(err))
}

func TestListCredentialsAcceptsBothShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bare array", `[{"id":"1","name":"Gmail account","type":"gmailOAuth2"}]`},
		{"wrapped", `{"data":[{"id":"1","name":"Gmail account","type":"gmailOAuth2"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			})

			creds, err := client.ListCredentials(context.Background())
			require.NoError(t, err)
			require.Len(t, creds, 1)
			assert.Equal(t, "Gmail account", creds[0].Name)
		})
	}
}

func TestCredentialByName(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":7,"name":"Telegram account 2","type":"telegramApi"}]`))
	})

	cred, err := client.CredentialByName(context.Background(), "Telegram account 2")
	require.NoError(t, err)
	assert.Equal(t, "7", cred.ID.String())

	_, err = client.CredentialByName(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestListExecutionsQuery(t *testing.T) {
	var gotQuery string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":[]}`))
	})

	_, err := client.ListExecutions(context.Background(), "wf-9", 0)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "workflowId=wf-9")
	assert.Contains(t, gotQuery, "limit=20")
}

func TestRemoteErrorCarriesStatusAndBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad key"}`))
	})

	_, err := client.ListWorkflows(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, errors.StatusCode(err))
	assert.False(t, errors.IsTransient(err))
}

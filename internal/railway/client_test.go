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

package railway

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

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		Endpoint:  server.URL,
		Token:     "rw-token",
		ServiceID: "svc-123",
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestStartServiceSendsMutation(t *testing.T) {
	var body struct {
		Query string `json:"query"`
	}
	var auth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"data":{"serviceStart":true}}`))
	})

	require.NoError(t, client.StartService(context.Background()))
	assert.Equal(t, "Bearer rw-token", auth)
	assert.Contains(t, body.Query, `serviceStart(id: "svc-123")`)
}

func TestStopServiceSendsMutation(t *testing.T) {
	var body struct {
		Query string `json:"query"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"data":{"serviceStop":true}}`))
	})

	require.NoError(t, client.StopService(context.Background()))
	assert.Contains(t, body.Query, `serviceStop(id: "svc-123")`)
}

func TestGraphQLErrorsFailDespiteHTTP200(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null,"errors":[{"message":"Not Authorized"}]}`))
	})

	err := client.StartService(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not Authorized")
}

func TestProbeReturnsAccountID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"me":{"id":"acct-9"}}}`))
	})

	id, err := client.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acct-9", id)
}

func TestMissingTokenFailsFast(t *testing.T) {
	client, err := NewClient(Config{ServiceID: "svc-123"})
	require.NoError(t, err)

	err = client.StartService(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNotConfigured(err))
}

func TestMissingServiceIDFailsFast(t *testing.T) {
	client, err := NewClient(Config{Token: "rw-token"})
	require.NoError(t, err)

	err = client.StopService(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNotConfigured(err))
}

func TestHTTPErrorSurfacesStatus(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad request`))
	})

	err := client.StartService(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errors.StatusCode(err))
	assert.Equal(t, 1, attempts, "4xx must not be retried")
}

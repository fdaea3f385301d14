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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowgate/internal/daemon/httputil"
	"github.com/tombee/flowgate/internal/history"
	"github.com/tombee/flowgate/internal/lifecycle"
	"github.com/tombee/flowgate/internal/n8n"
	"github.com/tombee/flowgate/internal/template"
)

type fakeController struct {
	state      lifecycle.State
	invokeErr  error
	lastInvoke struct {
		workflowID string
		keepAlive  bool
	}
	batchItems []lifecycle.BatchItem
}

func (f *fakeController) Start(ctx context.Context) (*lifecycle.StartResult, error) {
	f.state.Running = true
	return &lifecycle.StartResult{Outcome: lifecycle.OutcomeStarted, Healthy: true}, nil
}

func (f *fakeController) Stop(ctx context.Context) (*lifecycle.StopResult, error) {
	f.state.Running = false
	return &lifecycle.StopResult{Outcome: lifecycle.OutcomeStopped}, nil
}

func (f *fakeController) Invoke(ctx context.Context, workflowID string, payload any, keepAlive bool) (*lifecycle.InvokeResult, error) {
	f.lastInvoke.workflowID = workflowID
	f.lastInvoke.keepAlive = keepAlive
	result := &lifecycle.InvokeResult{WorkflowID: workflowID, KeepAlive: keepAlive}
	if f.invokeErr != nil {
		return result, f.invokeErr
	}
	result.Response = json.RawMessage(`{"done":true}`)
	return result, nil
}

func (f *fakeController) RunBatch(ctx context.Context, items []lifecycle.BatchItem) (*lifecycle.BatchResult, error) {
	f.batchItems = items
	result := &lifecycle.BatchResult{OK: true}
	for _, item := range items {
		result.Items = append(result.Items, lifecycle.BatchItemResult{WorkflowID: item.WorkflowID, OK: true})
	}
	return result, nil
}

func (f *fakeController) Status() lifecycle.State {
	return f.state
}

type fakeBootstrapper struct {
	params template.Params
	result template.BootstrapResult
}

func (f *fakeBootstrapper) DeployAll(ctx context.Context, params template.Params) template.BootstrapResult {
	f.params = params
	return f.result
}

type fakeHistory struct {
	entries []history.Entry
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	return f.entries, nil
}

func newTestRouter(cfg RouterConfig, controller *fakeController) *Router {
	r := NewRouter(cfg)
	if controller != nil {
		r.SetController(controller)
	}
	return r
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httputil.Envelope {
	t.Helper()
	var envelope httputil.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(RouterConfig{Version: "test"}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestTriggerPassesKeepAlive(t *testing.T) {
	controller := &fakeController{}
	router := newTestRouter(RouterConfig{}, controller)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/trigger/wf-1?keep_alive=true", strings.NewReader(`{"q":1}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wf-1", controller.lastInvoke.workflowID)
	assert.True(t, controller.lastInvoke.keepAlive)

	envelope := decodeEnvelope(t, rec)
	assert.True(t, envelope.OK)
}

func TestTriggerRejectsMalformedPayload(t *testing.T) {
	controller := &fakeController{}
	router := newTestRouter(RouterConfig{}, controller)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/trigger/wf-1", strings.NewReader(`{broken`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.False(t, envelope.OK)
	assert.Empty(t, controller.lastInvoke.workflowID, "controller must not be reached")
}

func TestTriggerFailureKeepsPartialResult(t *testing.T) {
	controller := &fakeController{invokeErr: errors.New("webhook timeout")}
	router := newTestRouter(RouterConfig{}, controller)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/trigger/wf-1", nil))

	envelope := decodeEnvelope(t, rec)
	assert.False(t, envelope.OK)
	assert.Contains(t, envelope.Error, "webhook timeout")
	assert.Equal(t, "invoke", envelope.Where)
	assert.NotNil(t, envelope.Data, "partial lifecycle result is kept in the envelope")
}

func TestTriggerRateLimit(t *testing.T) {
	controller := &fakeController{}
	router := newTestRouter(RouterConfig{TriggerRatePerSecond: 0.001, TriggerBurst: 1}, controller)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("POST", "/v1/trigger/wf-1", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("POST", "/v1/trigger/wf-1", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestBatchEndpoint(t *testing.T) {
	controller := &fakeController{}
	router := newTestRouter(RouterConfig{}, controller)

	body := `{"items":[{"workflow_id":"wf-1"},{"workflow_id":"wf-2","payload":{"x":1}}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/batch", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, controller.batchItems, 2)
	assert.Equal(t, "wf-2", controller.batchItems[1].WorkflowID)
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	controller := &fakeController{}
	router := newTestRouter(RouterConfig{AuthKey: "secret"}, controller)

	// Health stays open.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Status requires the bearer token.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrapAppliesOverrides(t *testing.T) {
	bootstrapper := &fakeBootstrapper{result: template.BootstrapResult{OK: true}}
	router := NewRouter(RouterConfig{})
	router.SetBootstrapper(bootstrapper, template.Params{ChatID: "default", ForwardTo: "keep@example.com"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/bootstrap", strings.NewReader(`{"chat_id":"override"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "override", bootstrapper.params.ChatID)
	assert.Equal(t, "keep@example.com", bootstrapper.params.ForwardTo, "unset fields keep configured defaults")
}

func TestBootstrapTotalFailure(t *testing.T) {
	bootstrapper := &fakeBootstrapper{result: template.BootstrapResult{
		OK: false,
		Workflows: []template.DeployResult{
			{Name: "mail-digest", Error: "server down"},
		},
	}}
	router := NewRouter(RouterConfig{})
	router.SetBootstrapper(bootstrapper, template.Params{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/bootstrap", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.False(t, envelope.OK)
	assert.Contains(t, envelope.Error, "mail-digest")
}

func TestHistoryEndpoint(t *testing.T) {
	store := &fakeHistory{entries: []history.Entry{{Action: "start", Outcome: "started"}}}
	router := NewRouter(RouterConfig{})
	router.SetHistoryReader(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/history?limit=5", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.True(t, envelope.OK)
}

func TestCorrelationIDHeaderOnResponses(t *testing.T) {
	router := newTestRouter(RouterConfig{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

type fakeWorkflows struct {
	createdSpec n8n.WorkflowSpec
}

func (f *fakeWorkflows) ListWorkflows(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"data":[]}`), nil
}
func (f *fakeWorkflows) GetWorkflow(ctx context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{"id":"` + id + `"}`), nil
}
func (f *fakeWorkflows) CreateWorkflow(ctx context.Context, spec n8n.WorkflowSpec) (n8n.FlexibleID, json.RawMessage, error) {
	f.createdSpec = spec
	return "wf-new", json.RawMessage(`{"id":"wf-new"}`), nil
}
func (f *fakeWorkflows) UpdateWorkflow(ctx context.Context, id string, patch any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (f *fakeWorkflows) DeleteWorkflow(ctx context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (f *fakeWorkflows) ActivateWorkflow(ctx context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (f *fakeWorkflows) DeactivateWorkflow(ctx context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (f *fakeWorkflows) RunOnce(ctx context.Context, id string, runData any) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}
func (f *fakeWorkflows) ListExecutions(ctx context.Context, id string, limit int) (json.RawMessage, error) {
	return json.RawMessage(`{"data":[]}`), nil
}

func TestCreateWorkflowValidatesName(t *testing.T) {
	workflows := &fakeWorkflows{}
	router := NewRouter(RouterConfig{})
	router.SetWorkflowAPI(workflows)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/workflows", strings.NewReader(`{"nodes":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/workflows", strings.NewReader(`{"name":"wf","nodes":[],"connections":{}}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "wf", workflows.createdSpec.Name)
}

func TestListExecutionsRejectsBadLimit(t *testing.T) {
	router := NewRouter(RouterConfig{})
	router.SetWorkflowAPI(&fakeWorkflows{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/executions?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

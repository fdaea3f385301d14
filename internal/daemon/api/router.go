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

// Package api provides the HTTP API for the flowgate daemon.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/flowgate/internal/daemon/httputil"
	"github.com/tombee/flowgate/internal/history"
	"github.com/tombee/flowgate/internal/lifecycle"
	"github.com/tombee/flowgate/internal/log"
	"github.com/tombee/flowgate/internal/n8n"
	"github.com/tombee/flowgate/internal/template"
	"github.com/tombee/flowgate/internal/tracing"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string

	// AuthKey enables bearer authentication on all /v1 routes when set.
	AuthKey string

	// TriggerRatePerSecond rate-limits lifecycle-wrapped triggers and
	// batches. Zero disables limiting.
	TriggerRatePerSecond float64
	TriggerBurst         int
}

// Controller is the lifecycle surface the API exposes.
type Controller interface {
	Start(ctx context.Context) (*lifecycle.StartResult, error)
	Stop(ctx context.Context) (*lifecycle.StopResult, error)
	Invoke(ctx context.Context, workflowID string, payload any, keepAlive bool) (*lifecycle.InvokeResult, error)
	RunBatch(ctx context.Context, items []lifecycle.BatchItem) (*lifecycle.BatchResult, error)
	Status() lifecycle.State
}

// WorkflowAPI is the management surface proxied through the façade.
type WorkflowAPI interface {
	ListWorkflows(ctx context.Context) (json.RawMessage, error)
	GetWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error)
	CreateWorkflow(ctx context.Context, spec n8n.WorkflowSpec) (n8n.FlexibleID, json.RawMessage, error)
	UpdateWorkflow(ctx context.Context, workflowID string, patch any) (json.RawMessage, error)
	DeleteWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error)
	ActivateWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error)
	DeactivateWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error)
	RunOnce(ctx context.Context, workflowID string, runData any) (json.RawMessage, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) (json.RawMessage, error)
}

// Bootstrapper deploys the managed template catalog.
type Bootstrapper interface {
	DeployAll(ctx context.Context, params template.Params) template.BootstrapResult
}

// HistoryReader serves the persisted event log.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// PlatformProber verifies platform connectivity for the status endpoint.
type PlatformProber interface {
	Probe(ctx context.Context) (string, error)
}

// Router wraps an http.ServeMux with middleware and route registration.
type Router struct {
	mux    *http.ServeMux
	config RouterConfig
	logger *slog.Logger

	controller   Controller
	workflows    WorkflowAPI
	bootstrapper Bootstrapper
	historyStore HistoryReader
	prober       PlatformProber

	bootstrapParams template.Params
	triggerLimiter  *rate.Limiter
}

// NewRouter creates a router with the core endpoints registered.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		logger: log.New(log.FromEnv()),
	}

	if cfg.TriggerRatePerSecond > 0 {
		burst := cfg.TriggerBurst
		if burst <= 0 {
			burst = 1
		}
		r.triggerLimiter = rate.NewLimiter(rate.Limit(cfg.TriggerRatePerSecond), burst)
	}

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)

	// Root endpoint for basic connectivity check
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// SetController registers lifecycle routes.
func (r *Router) SetController(controller Controller) {
	r.controller = controller
	if controller != nil {
		r.mux.HandleFunc("GET /v1/status", r.handleStatus)
		r.mux.HandleFunc("POST /v1/start", r.handleStart)
		r.mux.HandleFunc("POST /v1/stop", r.handleStop)
		r.mux.HandleFunc("POST /v1/trigger/{workflowID}", r.handleTrigger)
		r.mux.HandleFunc("POST /v1/batch", r.handleBatch)
	}
}

// SetWorkflowAPI registers management proxy routes.
func (r *Router) SetWorkflowAPI(workflows WorkflowAPI) {
	r.workflows = workflows
	if workflows != nil {
		r.mux.HandleFunc("GET /v1/workflows", r.handleListWorkflows)
		r.mux.HandleFunc("POST /v1/workflows", r.handleCreateWorkflow)
		r.mux.HandleFunc("GET /v1/workflows/{workflowID}", r.handleGetWorkflow)
		r.mux.HandleFunc("PATCH /v1/workflows/{workflowID}", r.handleUpdateWorkflow)
		r.mux.HandleFunc("DELETE /v1/workflows/{workflowID}", r.handleDeleteWorkflow)
		r.mux.HandleFunc("POST /v1/workflows/{workflowID}/activate", r.handleActivateWorkflow)
		r.mux.HandleFunc("POST /v1/workflows/{workflowID}/deactivate", r.handleDeactivateWorkflow)
		r.mux.HandleFunc("POST /v1/workflows/{workflowID}/run", r.handleRunWorkflow)
		r.mux.HandleFunc("GET /v1/executions", r.handleListExecutions)
	}
}

// SetBootstrapper registers the bootstrap route.
func (r *Router) SetBootstrapper(bootstrapper Bootstrapper, params template.Params) {
	r.bootstrapper = bootstrapper
	r.bootstrapParams = params
	if bootstrapper != nil {
		r.mux.HandleFunc("POST /v1/bootstrap", r.handleBootstrap)
	}
}

// SetHistoryReader registers the history route.
func (r *Router) SetHistoryReader(store HistoryReader) {
	r.historyStore = store
	if store != nil {
		r.mux.HandleFunc("GET /v1/history", r.handleHistory)
	}
}

// SetPlatformProber enables the platform check on /v1/status.
func (r *Router) SetPlatformProber(prober PlatformProber) {
	r.prober = prober
}

// SetMetricsHandler registers the Prometheus metrics endpoint.
func (r *Router) SetMetricsHandler(handler http.Handler) {
	if handler != nil {
		r.mux.Handle("GET /metrics", handler)
	}
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Build middleware chain from innermost to outermost:
	// 1. Bearer auth
	// 2. Request logging
	// 3. Correlation middleware
	// 4. Tracing middleware (outermost)

	var handler http.Handler = r.mux

	if r.config.AuthKey != "" {
		handler = r.requireAuth(handler)
	}

	innerHandler := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		correlationID := tracing.FromContextOrEmpty(req.Context())
		logger := log.WithCorrelationID(r.logger, string(correlationID))

		defer func() {
			logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()

		innerHandler.ServeHTTP(w, req)
	})

	handler = tracing.CorrelationMiddleware(handler)
	handler = tracing.Middleware(handler)

	handler.ServeHTTP(w, req)
}

// requireAuth enforces the configured bearer token on everything except
// health, version, root, and metrics.
func (r *Router) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/", "/v1/health", "/v1/version", "/metrics":
			next.ServeHTTP(w, req)
			return
		}

		token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(r.config.AuthKey)) != 1 {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid or missing bearer token", "auth")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "flowgated",
		"version": r.config.Version,
	})
}

// handleHealth reports daemon liveness.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion reports build information.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"version":    r.config.Version,
		"commit":     r.config.Commit,
		"build_date": r.config.BuildDate,
	})
}

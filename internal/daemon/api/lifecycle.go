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
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/tombee/flowgate/internal/daemon/httputil"
	"github.com/tombee/flowgate/internal/lifecycle"
	"github.com/tombee/flowgate/pkg/errors"
)

// statusFor maps typed errors onto an advisory HTTP status. Clients are
// expected to read the envelope's ok flag first.
func statusFor(err error) int {
	var validation *errors.ValidationError
	if stderrors.As(err, &validation) {
		return http.StatusBadRequest
	}
	if errors.IsNotFound(err) {
		return http.StatusNotFound
	}
	if errors.IsNotConfigured(err) {
		return http.StatusServiceUnavailable
	}
	if code := errors.StatusCode(err); code >= 400 {
		return http.StatusBadGateway
	}
	return http.StatusBadGateway
}

// handleStatus reports the controller's service state, plus platform
// connectivity when a prober is wired.
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	payload := map[string]any{
		"service": r.controller.Status(),
	}
	if r.prober != nil {
		if id, err := r.prober.Probe(req.Context()); err != nil {
			payload["platform"] = map[string]any{"ok": false, "error": err.Error()}
		} else {
			payload["platform"] = map[string]any{"ok": true, "account_id": id}
		}
	}
	httputil.WriteData(w, http.StatusOK, payload)
}

// handleStart brings the workflow service up.
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) {
	result, err := r.controller.Start(req.Context())
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "start")
		return
	}
	httputil.WriteData(w, http.StatusOK, result)
}

// handleStop brings the workflow service down.
func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) {
	result, err := r.controller.Stop(req.Context())
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "stop")
		return
	}
	httputil.WriteData(w, http.StatusOK, result)
}

// handleTrigger runs one workflow with the lifecycle wrapper. The payload
// is the raw request body; ?keep_alive=true leaves the service running.
func (r *Router) handleTrigger(w http.ResponseWriter, req *http.Request) {
	if r.triggerLimiter != nil && !r.triggerLimiter.Allow() {
		httputil.WriteError(w, http.StatusTooManyRequests, "trigger rate limit exceeded", "trigger")
		return
	}

	workflowID := req.PathValue("workflowID")
	keepAlive := req.URL.Query().Get("keep_alive") == "true"

	payload, err := decodePayload(req.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error(), "trigger")
		return
	}

	result, err := r.controller.Invoke(req.Context(), workflowID, payload, keepAlive)
	if err != nil {
		// Carry the partial result so callers can see how far the
		// lifecycle got before the failure.
		httputil.WriteJSON(w, statusFor(err), httputil.Envelope{
			OK:    false,
			Data:  result,
			Error: err.Error(),
			Where: "invoke",
		})
		return
	}
	httputil.WriteData(w, http.StatusOK, result)
}

// handleBatch runs several workflows against one start/stop cycle.
func (r *Router) handleBatch(w http.ResponseWriter, req *http.Request) {
	if r.triggerLimiter != nil && !r.triggerLimiter.Allow() {
		httputil.WriteError(w, http.StatusTooManyRequests, "trigger rate limit exceeded", "batch")
		return
	}

	var body struct {
		Items []lifecycle.BatchItem `json:"items"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid batch request: "+err.Error(), "batch")
		return
	}

	result, err := r.controller.RunBatch(req.Context(), body.Items)
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), httputil.Envelope{
			OK:    false,
			Data:  result,
			Error: err.Error(),
			Where: "batch",
		})
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadGateway
	}
	httputil.WriteJSON(w, status, httputil.Envelope{OK: result.OK, Data: result})
}

// decodePayload reads an optional JSON body. An empty body means an empty
// payload, not an error.
func decodePayload(body io.Reader) (any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &errors.ValidationError{Field: "body", Message: "payload must be valid JSON"}
	}
	return payload, nil
}

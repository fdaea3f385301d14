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
	"net/http"
	"strconv"

	"github.com/tombee/flowgate/internal/daemon/httputil"
	"github.com/tombee/flowgate/internal/n8n"
)

// The workflow routes proxy the management API through the façade so
// callers never hold the upstream API key. Responses pass through as-is
// inside the envelope.

func (r *Router) handleListWorkflows(w http.ResponseWriter, req *http.Request) {
	raw, err := r.workflows.ListWorkflows(req.Context())
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "list_workflows")
		return
	}
	httputil.WriteData(w, http.StatusOK, raw)
}

func (r *Router) handleGetWorkflow(w http.ResponseWriter, req *http.Request) {
	raw, err := r.workflows.GetWorkflow(req.Context(), req.PathValue("workflowID"))
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "get_workflow")
		return
	}
	httputil.WriteData(w, http.StatusOK, raw)
}

func (r *Router) handleCreateWorkflow(w http.ResponseWriter, req *http.Request) {
	var spec n8n.WorkflowSpec
	if err := json.NewDecoder(req.Body).Decode(&spec); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid workflow spec: "+err.Error(), "create_workflow")
		return
	}
	if spec.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "workflow spec requires a name", "create_workflow")
		return
	}

	id, raw, err := r.workflows.CreateWorkflow(req.Context(), spec)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "create_workflow")
		return
	}
	httputil.WriteData(w, http.StatusCreated, map[string]any{
		"workflow_id": id.String(),
		"response":    raw,
	})
}

func (r *Router) handleUpdateWorkflow(w http.ResponseWriter, req *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(req.Body).Decode(&patch); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid patch: "+err.Error(), "update_workflow")
		return
	}

	raw, err := r.workflows.UpdateWorkflow(req.Context(), req.PathValue("workflowID"), patch)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "update_workflow")
		return
	}
	httputil.WriteData(w, http.StatusOK, raw)
}

func (r *Router) handleDeleteWorkflow(w http.ResponseWriter, req *http.Request) {
	raw, err := r.workflows.DeleteWorkflow(req.Context(), req.PathValue("workflowID"))
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "delete_workflow")
		return
	}
	httputil.WriteData(w, http.StatusOK, raw)
}

func (r *Router) handleActivateWorkflow(w http.ResponseWriter, req *http.Request) {
	raw, err := r.workflows.ActivateWorkflow(req.Context(), req.PathValue("workflowID"))
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "activate_workflow")
		return
	}
	httputil.WriteData(w, http.StatusOK, raw)
}

func (r *Router) handleDeactivateWorkflow(w http.ResponseWriter, req *http.Request) {
	raw, err := r.workflows.DeactivateWorkflow(req.Context(), req.PathValue("workflowID"))
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "deactivate_workflow")
		return
	}
	httputil.WriteData(w, http.StatusOK, raw)
}

func (r *Router) handleRunWorkflow(w http.ResponseWriter, req *http.Request) {
	payload, err := decodePayload(req.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error(), "run_workflow")
		return
	}

	raw, err := r.workflows.RunOnce(req.Context(), req.PathValue("workflowID"), payload)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "run_workflow")
		return
	}
	httputil.WriteData(w, http.StatusOK, raw)
}

func (r *Router) handleListExecutions(w http.ResponseWriter, req *http.Request) {
	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "list_executions")
			return
		}
		limit = parsed
	}

	raw, err := r.workflows.ListExecutions(req.Context(), req.URL.Query().Get("workflow_id"), limit)
	if err != nil {
		httputil.WriteError(w, statusFor(err), err.Error(), "list_executions")
		return
	}
	httputil.WriteData(w, http.StatusOK, raw)
}

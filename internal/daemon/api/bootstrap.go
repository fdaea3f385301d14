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
	"errors"
	"io"
	"net/http"

	"github.com/tombee/flowgate/internal/daemon/httputil"
	"github.com/tombee/flowgate/internal/template"
)

// handleBootstrap deploys the managed workflow catalog. Template failures
// don't abort the rest; the aggregate is ok when any template deployed,
// and unresolved credential names come back merged so the operator can
// finish wiring in the UI.
func (r *Router) handleBootstrap(w http.ResponseWriter, req *http.Request) {
	params := r.bootstrapParams

	// Optional per-request overrides on top of configured defaults.
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error(), "bootstrap")
		return
	}
	if len(raw) > 0 {
		var overrides struct {
			ChatID    *string  `json:"chat_id"`
			ForwardTo *string  `json:"forward_to"`
			Whitelist []string `json:"whitelist"`
			HealthURL *string  `json:"health_url"`
		}
		if err := json.Unmarshal(raw, &overrides); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid bootstrap request: "+err.Error(), "bootstrap")
			return
		}
		if overrides.ChatID != nil {
			params.ChatID = *overrides.ChatID
		}
		if overrides.ForwardTo != nil {
			params.ForwardTo = *overrides.ForwardTo
		}
		if overrides.Whitelist != nil {
			params.Whitelist = overrides.Whitelist
		}
		if overrides.HealthURL != nil {
			params.HealthURL = *overrides.HealthURL
		}
	}

	result := r.bootstrapper.DeployAll(req.Context(), params)

	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadGateway
	}
	httputil.WriteJSON(w, status, httputil.Envelope{
		OK:    result.OK,
		Data:  result,
		Error: bootstrapError(result),
	})
}

// bootstrapError summarizes a fully-failed bootstrap for the envelope.
func bootstrapError(result template.BootstrapResult) string {
	if result.OK {
		return ""
	}
	var errs []error
	for _, wf := range result.Workflows {
		if wf.Error != "" {
			errs = append(errs, errors.New(wf.Name+": "+wf.Error))
		}
	}
	if len(errs) == 0 {
		return "no templates deployed"
	}
	return errors.Join(errs...).Error()
}

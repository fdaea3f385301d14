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
	"net/http"
	"strconv"

	"github.com/tombee/flowgate/internal/daemon/httputil"
	"github.com/tombee/flowgate/internal/history"
)

// handleHistory returns recent lifecycle events, newest first.
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "history")
			return
		}
		limit = parsed
	}

	entries, err := r.historyStore.Recent(req.Context(), limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error(), "history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	httputil.WriteData(w, http.StatusOK, entries)
}

package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope is the façade's uniform response shape. The ok flag is the
// primary success signal; HTTP status codes are advisory for clients that
// only look at the body.
type Envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Where string `json:"where,omitempty"`
}

// WriteJSON writes a JSON response with the given status code and data.
// If encoding fails, it logs the error.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

// WriteData writes a success envelope around data.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Envelope{OK: true, Data: data})
}

// WriteError writes a failure envelope. where names the operation that
// failed so multi-step responses stay diagnosable.
func WriteError(w http.ResponseWriter, status int, message, where string) {
	WriteJSON(w, status, Envelope{OK: false, Error: message, Where: where})
}

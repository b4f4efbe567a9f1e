package api

import (
	"encoding/json"
	"net/http"

	"quern/pkg/qerrors"
)

// errorBody is the uniform JSON error shape spec.md §4.H/§7 require:
// {error: {kind, message, details?}}.
type errorBody struct {
	Error errorFields `json:"error"`
}

type errorFields struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeJSON marshals v as the response body with status, setting the
// content type once so every handler doesn't repeat it.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to the uniform error envelope and its HTTP status. A
// plain (non-qerrors) error is treated as Internal so every handler can
// return arbitrary Go errors without hand-wrapping the common case.
func writeError(w http.ResponseWriter, err error) {
	qe, ok := qerrors.As(err)
	if !ok {
		qe = qerrors.Wrap(qerrors.Internal, err, "internal error")
	}
	writeJSON(w, qe.Kind.Status(), errorBody{Error: errorFields{
		Kind:    string(qe.Kind),
		Message: qe.Message,
		Details: qe.Details,
	}})
}

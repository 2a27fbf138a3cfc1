package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/baylabs/bay/internal/errdefs"
)

// errorBody is the wire envelope for failures:
//
//	{"error": {"code": ..., "message": ..., "request_id": ..., "details": ...}}
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// writeError renders any error as the envelope. Errors without a Bay
// code become internal_error with the message suppressed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := errdefs.As(err)
	if !ok {
		e = errdefs.Internal("internal error")
	}

	if e.Code == errdefs.CodeSessionNotReady {
		if ms, ok := e.Details["retry_after_ms"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa((ms+999)/1000))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:      e.Code,
		Message:   e.Message,
		RequestID: requestIDFrom(r.Context()),
		Details:   e.Details,
	}})
}

func writeValidationError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, errdefs.Validation("%s", message))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

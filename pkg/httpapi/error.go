package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/iota-uz/cveteval/pkg/composables"
)

const CodeValidationFailed = "VALIDATION_FAILED"

// Error is the body of every non-2xx JSON response.
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	RequestID  string            `json:"request_id,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	Violations any               `json:"violations,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

// WriteError tags the body with the request id carried by r, if any.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) error {
	return WriteJSON(w, status, newError(r, code, message))
}

// WriteViolations answers 422 with the row-level violations of a rejected file.
func WriteViolations(w http.ResponseWriter, r *http.Request, message string, violations any) error {
	e := newError(r, CodeValidationFailed, message)
	e.Violations = violations
	return WriteJSON(w, http.StatusUnprocessableEntity, e)
}

func newError(r *http.Request, code, message string) *Error {
	e := &Error{Code: code, Message: message}
	if r != nil {
		e.RequestID = composables.UseRequestID(r.Context())
		if r.URL != nil {
			e.Meta = map[string]string{"path": r.URL.Path}
		}
	}
	return e
}

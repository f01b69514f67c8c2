package web

// errors.go is the unified error path of the web layer: the technical
// error is logged with the request ID, the client gets the mapped
// user-facing message with an action suggestion and a support code.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/puavo-org/puavo-web-sub002/internal/core"
	"github.com/puavo-org/puavo-web-sub002/internal/logging"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
	Code   string `json:"code"`
}

// respondError logs the technical error and writes the user-facing
// mapping of it.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	userMsg := core.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:  userMsg.Message,
		Action: userMsg.Action,
		Code:   userMsg.Code,
	})
}

// statusForError maps the service's refusal errors to HTTP statuses.
// Busy/active conflicts are 409 so clients can distinguish "try later"
// from a bad request.
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrBusy),
		errors.Is(err, core.ErrRunActive),
		errors.Is(err, core.ErrAlreadyStopping):
		return http.StatusConflict
	case errors.Is(err, core.ErrNoRunActive),
		errors.Is(err, core.ErrNothingToResume):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTableEmpty),
		errors.Is(err, core.ErrTableHasErrors),
		errors.Is(err, core.ErrNoUsernameCol),
		errors.Is(err, core.ErrNoSelectedRows),
		errors.Is(err, core.ErrNoFailedRows):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// writeJSON encodes v as JSON. Encoding errors are logged; headers are
// already sent at that point.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// decodeJSON reads the request body into dst with unknown fields
// rejected, so client typos surface instead of silently defaulting.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

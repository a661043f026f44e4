// Package apierr centralizes the error kinds surfaced to clients and their
// JSON envelope, the way the teacher repo's internal/api/helpers/responses.go
// centralizes HTTP error writing.
package apierr

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Kind is one of the client-visible error categories of spec.md §7.
type Kind string

const (
	BadCredentials      Kind = "BadCredentials"
	EmailTaken          Kind = "EmailTaken"
	PhoneTaken          Kind = "PhoneTaken"
	InvalidTenant       Kind = "InvalidTenant"
	TenantRequired      Kind = "TenantRequired"
	ValidationError     Kind = "ValidationError"
	Unauthorized        Kind = "Unauthorized"
	Forbidden           Kind = "Forbidden"
	NotFound            Kind = "NotFound"
	UpstreamUnavailable Kind = "UpstreamUnavailable"
)

var statusByKind = map[Kind]int{
	BadCredentials:      http.StatusUnauthorized,
	EmailTaken:          http.StatusConflict,
	PhoneTaken:          http.StatusConflict,
	InvalidTenant:       http.StatusBadRequest,
	TenantRequired:      http.StatusBadRequest,
	ValidationError:     http.StatusBadRequest,
	Unauthorized:        http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	NotFound:            http.StatusNotFound,
	UpstreamUnavailable: http.StatusServiceUnavailable,
}

// Error is a domain error carrying a client-visible Kind.
type Error struct {
	Kind    Kind
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a client-visible error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a client-visible kind to an internal error while preserving
// it for logging via errors.Unwrap.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithFields attaches a field list, used by ValidationError responses.
func (e *Error) WithFields(fields ...string) *Error {
	e.Fields = fields
	return e
}

// StatusFor returns the HTTP status code for a Kind.
func StatusFor(kind Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type envelope struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// WriteJSON translates err into the wire-level error envelope. Domain
// errors (wrapped as *Error) are surfaced with their Kind and message;
// anything else is logged and converted into an opaque 500 tagged with the
// request's correlation id so internals are never leaked to the client.
func WriteJSON(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger, correlationID string) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(StatusFor(apiErr.Kind))
		_ = json.NewEncoder(w).Encode(envelope{
			Code:    string(apiErr.Kind),
			Message: apiErr.Message,
			Fields:  apiErr.Fields,
		})
		return
	}

	logger.Error("unhandled_error", "error", err, "path", r.URL.Path, "correlation_id", correlationID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(envelope{
		Code:    "InternalError",
		Message: "an unexpected error occurred",
		Fields:  []string{correlationID},
	})
}

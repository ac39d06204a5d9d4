package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/cpuguy83/calslots/internal/auth"
	"github.com/cpuguy83/calslots/internal/availability"
	"github.com/cpuguy83/calslots/internal/calendar"
)

// Error codes returned in the JSON error body.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeInvalidTimezone = "INVALID_TIMEZONE"
	CodeInvalidRange    = "INVALID_RANGE"
	CodeMissingAPIKey   = "MISSING_API_KEY"
	CodeInvalidAPIKey   = "INVALID_API_KEY"
	CodeNoCalendars     = "NO_CALENDARS"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeProviderError   = "PROVIDER_ERROR"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeTimeout         = "TIMEOUT"
	CodeInternal        = "INTERNAL_ERROR"
)

// APIError is an error with an HTTP status and a client-facing code.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func newAPIError(status int, code, message string) *APIError {
	return &APIError{Code: code, Message: message, Status: status}
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// toAPIError classifies err for the client. Unknown errors become a
// generic 500 so internals do not leak.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var zerr *availability.InvalidZoneError
	var rerr *availability.InvalidRangeError
	switch {
	case errors.As(err, &zerr):
		return &APIError{Code: CodeInvalidTimezone, Message: zerr.Error(), Status: http.StatusBadRequest, Err: err}
	case errors.As(err, &rerr):
		return &APIError{
			Code:    CodeInvalidRange,
			Message: rerr.Error(),
			Details: map[string]any{"field": rerr.Field},
			Status:  http.StatusBadRequest,
			Err:     err,
		}
	case errors.Is(err, availability.ErrNoCalendars), errors.Is(err, calendar.ErrNoMatchingCalendars):
		return &APIError{Code: CodeNoCalendars, Message: "no matching calendars found", Status: http.StatusNotFound, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Code: CodeTimeout, Message: "calendar providers did not answer in time", Status: http.StatusGatewayTimeout, Err: err}
	case errors.Is(err, calendar.ErrRateLimited):
		return &APIError{Code: CodeUnavailable, Message: "calendar provider is throttling requests", Status: http.StatusServiceUnavailable, Err: err}
	case errors.Is(err, auth.ErrLoginRequired), errors.Is(err, auth.ErrAuthFailed),
		errors.Is(err, calendar.ErrUnauthorized), errors.Is(err, calendar.ErrForbidden):
		return &APIError{Code: CodeProviderError, Message: "calendar provider rejected the stored credentials", Status: http.StatusBadGateway, Err: err}
	}
	return &APIError{Code: CodeInternal, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

// writeError writes err as the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)

	level := slog.LevelInfo
	if apiErr.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []any{
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"status", apiErr.Status,
		"code", apiErr.Code,
		"error", err,
	}
	span := trace.SpanFromContext(r.Context())
	if sc := span.SpanContext(); sc.IsValid() {
		attrs = append(attrs, "trace_id", sc.TraceID().String())
	}
	span.RecordError(err)
	slog.Log(r.Context(), level, "request failed", attrs...)

	writeJSON(w, apiErr.Status, errorResponse{Success: false, Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write JSON response", "error", err)
	}
}

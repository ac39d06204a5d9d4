package calendar

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Provider errors, normalized across sources.
var (
	ErrUnauthorized = errors.New("calendar: unauthorized (invalid credentials)")
	ErrForbidden    = errors.New("calendar: forbidden (insufficient permissions)")
	ErrNotFound     = errors.New("calendar: not found")
	ErrRateLimited  = errors.New("calendar: rate limit exceeded")

	// ErrNoMatchingCalendars means none of the configured calendar names
	// exist in the account.
	ErrNoMatchingCalendars = errors.New("calendar: no matching calendars found")
)

// statusError maps an HTTP status to one of the provider errors, or nil.
func statusError(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// wrapGoogleError converts a Google API error to a provider error while
// keeping the original in the chain.
func wrapGoogleError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	// Google reports quota exhaustion as 403 rateLimitExceeded.
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return errors.Join(ErrRateLimited, err)
		}
	}
	if mapped := statusError(gerr.Code); mapped != nil {
		return errors.Join(mapped, err)
	}
	return err
}

// IsRateLimited reports whether err came from provider throttling.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

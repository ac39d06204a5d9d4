package availability

import (
	"errors"
	"fmt"

	"github.com/cpuguy83/calslots/internal/tzclock"
)

// InvalidZoneError is returned for unknown IANA zone names.
type InvalidZoneError = tzclock.InvalidZoneError

// InvalidRangeError is returned when the requested dates or working hours
// cannot describe a non-empty window.
type InvalidRangeError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidRangeError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrNoCalendars is returned when no busy source is configured.
var ErrNoCalendars = errors.New("no calendars configured")

// IsInvalidInput reports whether err was caused by the caller's input
// rather than by a provider or internal failure.
func IsInvalidInput(err error) bool {
	var zerr *InvalidZoneError
	var rerr *InvalidRangeError
	return errors.As(err, &zerr) || errors.As(err, &rerr)
}

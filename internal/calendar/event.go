// Package calendar provides calendar source interfaces and event types.
package calendar

import (
	"context"
	"time"
)

// Event represents a calendar event.
type Event struct {
	// UID is the unique identifier for this event.
	UID string

	// Summary is the event title. Buffer markers live here.
	Summary string

	Description string
	Location    string

	// Start is when the event begins.
	Start time.Time

	// End is when the event ends (exclusive).
	End time.Time

	// AllDay marks date-only events. Start and End then hold midnight of
	// the first day and of the day after the last.
	AllDay bool

	// Transparent events do not block time ("show as free").
	Transparent bool

	// Organizer is the email of the event organizer.
	Organizer string

	// Source is the name of the calendar source this event came from.
	Source string

	// Calendar is the provider-side calendar name, if the source has several.
	Calendar string

	URL string
}

// Duration returns the duration of the event.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether the event intersects [start, end).
func (e *Event) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && start.Before(e.End)
}

// Source is the interface that calendar sources must implement.
type Source interface {
	// Name returns the display name of this calendar source.
	Name() string

	// Fetch retrieves the events overlapping [start, end).
	Fetch(ctx context.Context, start, end time.Time) ([]Event, error)
}

// Info describes one calendar exposed by a source.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Primary     bool   `json:"primary"`
	Source      string `json:"source"`
}

// Lister is implemented by sources that can enumerate their calendars.
type Lister interface {
	Calendars(ctx context.Context) ([]Info, error)
}

// WholeDays reports whether e reads as an all-day event: either date-only,
// or timed from midnight to a later midnight in its own zone. It is for
// display only; busy time of timed events stays at their absolute instants.
func (e Event) WholeDays() bool {
	return e.AllDay || isEffectivelyAllDay(e.Start, e.End)
}

// isEffectivelyAllDay reports whether [start, end) runs from midnight to a
// later midnight in start's location. Some servers encode all-day events
// that way instead of with DATE values.
func isEffectivelyAllDay(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	end = end.In(start.Location())
	return isMidnight(start) && isMidnight(end)
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

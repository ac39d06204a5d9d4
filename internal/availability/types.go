package availability

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DateRange is an inclusive range of civil dates.
type DateRange struct {
	Start civil.Date
	End   civil.Date
}

// Days returns the number of dates in the range.
func (r DateRange) Days() int {
	return r.End.DaysSince(r.Start) + 1
}

// Validate checks that both ends are real dates and Start <= End.
func (r DateRange) Validate() error {
	if !r.Start.IsValid() {
		return &InvalidRangeError{Field: "startDate", Value: r.Start.String(), Reason: "not a calendar date"}
	}
	if !r.End.IsValid() {
		return &InvalidRangeError{Field: "endDate", Value: r.End.String(), Reason: "not a calendar date"}
	}
	if r.End.Before(r.Start) {
		return &InvalidRangeError{Field: "endDate", Value: r.End.String(), Reason: "before startDate " + r.Start.String()}
	}
	return nil
}

// ParseDate reads a date as YYYY-MM-DD. Full RFC 3339 timestamps are also
// accepted and reduced to their civil date in loc.
func ParseDate(field, s string, loc *time.Location) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, &InvalidRangeError{Field: field, Reason: "required"}
	}
	if d, err := civil.ParseDate(s); err == nil {
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return civil.DateOf(t.In(loc)), nil
	}
	return civil.Date{}, &InvalidRangeError{Field: field, Value: s, Reason: "expected YYYY-MM-DD"}
}

// DaysFrom returns the range covering today and the next n days. A negative
// n covers the |n| days before today through today.
func DaysFrom(today civil.Date, n int) DateRange {
	if n >= 0 {
		return DateRange{Start: today, End: today.AddDays(n)}
	}
	return DateRange{Start: today.AddDays(n), End: today}
}

// WorkingHours is the daily wall-clock window considered available.
type WorkingHours struct {
	Start civil.Time
	End   civil.Time
}

// ParseWorkingHours reads a pair of HH:MM values.
func ParseWorkingHours(start, end string) (WorkingHours, error) {
	s, err := parseClock("workingHours.start", start)
	if err != nil {
		return WorkingHours{}, err
	}
	e, err := parseClock("workingHours.end", end)
	if err != nil {
		return WorkingHours{}, err
	}
	wh := WorkingHours{Start: s, End: e}
	if err := wh.Validate(); err != nil {
		return WorkingHours{}, err
	}
	return wh, nil
}

// Validate checks that Start is strictly before End.
func (wh WorkingHours) Validate() error {
	if !wh.Start.IsValid() || !wh.End.IsValid() {
		return &InvalidRangeError{Field: "workingHours", Reason: "not a valid time of day"}
	}
	if clockNanos(wh.Start) >= clockNanos(wh.End) {
		return &InvalidRangeError{Field: "workingHours", Value: wh.String(), Reason: "start must be before end"}
	}
	return nil
}

func (wh WorkingHours) String() string {
	return FormatClock(wh.Start) + "-" + FormatClock(wh.End)
}

func clockNanos(t civil.Time) time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second + time.Duration(t.Nanosecond)
}

// FormatClock renders t as HH:MM.
func FormatClock(t civil.Time) string {
	return time.Date(0, 1, 1, t.Hour, t.Minute, 0, 0, time.UTC).Format("15:04")
}

func parseClock(field, s string) (civil.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("15:04", s)
	if err != nil {
		return civil.Time{}, &InvalidRangeError{Field: field, Value: s, Reason: "expected HH:MM"}
	}
	return civil.TimeOf(t), nil
}

// BusyEvent is a provider event reduced to what availability needs.
type BusyEvent struct {
	Start  time.Time
	End    time.Time
	Title  string
	AllDay bool
}

// FreeSlot is an available interval rendered in the request zone.
type FreeSlot struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the slot.
func (s FreeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

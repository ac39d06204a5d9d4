// Package tzclock converts between civil (wall clock) time and absolute
// instants in IANA time zones.
//
// Wall times that fall into a DST transition are resolved as follows:
//
//   - gap (the wall time does not exist): the offset in effect before the
//     transition is applied, so 02:30 on a spring-forward day resolves to the
//     instant shown as 03:30.
//   - fold (the wall time exists twice): the standard-time occurrence wins.
//     If both or neither occurrence is standard time, the earlier one wins.
package tzclock

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// InvalidZoneError is returned when a zone name is not a known IANA zone.
type InvalidZoneError struct {
	Zone string
	Err  error
}

func (e *InvalidZoneError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid time zone %q: %v", e.Zone, e.Err)
	}
	return fmt.Sprintf("invalid time zone %q", e.Zone)
}

func (e *InvalidZoneError) Unwrap() error {
	return e.Err
}

// Load resolves an IANA zone name. The empty string and "Local" are
// rejected since they do not name a zone.
func Load(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, &InvalidZoneError{Zone: name}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &InvalidZoneError{Zone: name, Err: err}
	}
	return loc, nil
}

// sampleSpan is how far on either side of a wall time we sample zone offsets.
// Real zones never change offset twice within this distance.
const sampleSpan = 48 * time.Hour

// ToInstant returns the instant at which the wall clock in loc reads d t.
func ToInstant(d civil.Date, t civil.Time, loc *time.Location) time.Time {
	want := civil.DateTime{Date: d, Time: t}
	naive := time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, t.Nanosecond, time.UTC)

	before := offsetAt(naive.Add(-sampleSpan), loc)
	offsets := []int{before, offsetAt(naive, loc), offsetAt(naive.Add(sampleSpan), loc)}

	var (
		best  time.Time
		found bool
	)
	seen := make(map[int]bool, len(offsets))
	for _, off := range offsets {
		if seen[off] {
			continue
		}
		seen[off] = true

		c := naive.Add(-time.Duration(off) * time.Second).In(loc)
		if civil.DateTimeOf(c) != want {
			continue
		}
		if !found || prefer(c, best) {
			best, found = c, true
		}
	}
	if found {
		return best
	}

	// gap
	return naive.Add(-time.Duration(before) * time.Second).In(loc)
}

// prefer reports whether candidate a should win over b for a folded wall time.
func prefer(a, b time.Time) bool {
	if a.IsDST() != b.IsDST() {
		return !a.IsDST()
	}
	return a.Before(b)
}

func offsetAt(t time.Time, loc *time.Location) int {
	_, off := t.In(loc).Zone()
	return off
}

// ToCivil returns the wall clock reading of instant in loc.
func ToCivil(instant time.Time, loc *time.Location) civil.DateTime {
	return civil.DateTimeOf(instant.In(loc))
}

// Midnight returns the first instant of d in loc.
func Midnight(d civil.Date, loc *time.Location) time.Time {
	return ToInstant(d, civil.Time{}, loc)
}

// Today returns the current civil date in loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	return civil.DateOf(now.In(loc))
}

// Package buffer reads buffer-time markers from event titles.
//
// A marker has the form -B<before>A<after>, both values in whole minutes of
// up to four digits. It may sit anywhere in the title as long as no letter
// or digit follows it, so "Lunch -B15A10", "Lunch-B15A10" and
// "Sync (-B15A10)" all ask for 15 minutes of padding before the event and
// 10 after. Values above 1440 minutes are capped at 24 hours.
package buffer

import (
	"regexp"
	"strconv"
	"time"
)

// Spec is the padding requested around an event. The zero value means none.
type Spec struct {
	Before time.Duration
	After  time.Duration
}

// IsZero reports whether s requests no padding.
func (s Spec) IsZero() bool {
	return s.Before == 0 && s.After == 0
}

// Apply widens [start, end) by the requested padding.
func (s Spec) Apply(start, end time.Time) (time.Time, time.Time) {
	return start.Add(-s.Before), end.Add(s.After)
}

// Max is the largest padding Parse returns on either side.
const Max = 24 * time.Hour

var marker = regexp.MustCompile(`-B(\d{1,4})A(\d{1,4})(?:\W|$)`)

// Parse returns the padding encoded in title. Titles without a well-formed
// marker yield the zero Spec. When several markers are present the first wins.
func Parse(title string) Spec {
	m := marker.FindStringSubmatch(title)
	if m == nil {
		return Spec{}
	}

	before, err := strconv.Atoi(m[1])
	if err != nil {
		return Spec{}
	}
	after, err := strconv.Atoi(m[2])
	if err != nil {
		return Spec{}
	}

	return Spec{
		Before: min(time.Duration(before)*time.Minute, Max),
		After:  min(time.Duration(after)*time.Minute, Max),
	}
}

package calendar

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"
)

// Merge concatenates event sets and orders the result by start time.
// Events starting together keep their input order.
func Merge(eventSets ...[]Event) []Event {
	all := slices.Concat(eventSets...)
	slices.SortStableFunc(all, func(a, b Event) int {
		return a.Start.Compare(b.Start)
	})
	return all
}

// FileSource reads events from a local ICS file on every fetch.
type FileSource struct {
	name string
	path string
	loc  *time.Location
}

// NewFileSource creates a source backed by the ICS file at path. Floating
// times are read in loc, or UTC when loc is nil.
func NewFileSource(name, path string, loc *time.Location) *FileSource {
	if loc == nil {
		loc = time.UTC
	}
	return &FileSource{name: name, path: path, loc: loc}
}

func (s *FileSource) Name() string {
	return s.name
}

// Fetch returns the file's events overlapping [start, end).
func (s *FileSource) Fetch(_ context.Context, start, end time.Time) ([]Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open ICS file: %w", err)
	}
	defer f.Close()

	p := icsParser{source: s.name, loc: s.loc, start: start, end: end}
	return p.decode(f)
}

var _ Source = (*FileSource)(nil)

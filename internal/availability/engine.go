// Package availability computes free time by subtracting busy calendar
// events from daily working hours.
package availability

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/cpuguy83/calslots/internal/buffer"
	"github.com/cpuguy83/calslots/internal/interval"
	"github.com/cpuguy83/calslots/internal/tzclock"
)

// Request describes which days and hours to inspect.
type Request struct {
	Range        DateRange
	WorkingHours WorkingHours
	Zone         string
}

// Options tune the computation.
type Options struct {
	// MinDuration drops free slots shorter than this.
	MinDuration time.Duration

	// MaxDays rejects ranges covering more days. Zero means no limit.
	MaxDays int
}

// ComputeFreeSlots returns the free slots of every day in req.Range, in
// chronological order and rendered in the request zone.
//
// Each day's window runs from WorkingHours.Start to WorkingHours.End on that
// civil date in the request zone, so the window follows DST changes. Busy
// events are widened by any buffer marker in their title before being
// subtracted.
func ComputeFreeSlots(req Request, busy []BusyEvent, opts Options) ([]FreeSlot, error) {
	loc, err := tzclock.Load(req.Zone)
	if err != nil {
		return nil, err
	}
	if err := validate(req, opts); err != nil {
		return nil, err
	}

	blocks := BusyIntervals(busy, loc)

	var slots []FreeSlot
	for d := req.Range.Start; !d.After(req.Range.End); d = d.AddDays(1) {
		for _, iv := range freeOnDay(d, req.WorkingHours, loc, blocks, opts.MinDuration) {
			slots = append(slots, FreeSlot{Start: iv.Start.In(loc), End: iv.End.In(loc)})
		}
	}
	return slots, nil
}

func validate(req Request, opts Options) error {
	if err := req.Range.Validate(); err != nil {
		return err
	}
	if opts.MaxDays > 0 && req.Range.Days() > opts.MaxDays {
		return &InvalidRangeError{Field: "endDate", Value: req.Range.End.String(), Reason: "range is longer than the allowed number of days"}
	}
	return req.WorkingHours.Validate()
}

func freeOnDay(d civil.Date, wh WorkingHours, loc *time.Location, blocks []interval.Interval, min time.Duration) []interval.Interval {
	window := interval.New(
		tzclock.ToInstant(d, wh.Start, loc),
		tzclock.ToInstant(d, wh.End, loc),
	)
	if window.Empty() {
		return nil
	}
	// d was skipped entirely by a zone change; its window would land on the
	// next date and repeat that day's slots.
	if tzclock.ToCivil(window.Start, loc).Date != d {
		return nil
	}

	free := []interval.Interval{window}
	for _, b := range blocks {
		if !interval.Overlaps(window, b) {
			continue
		}
		free = interval.SubtractFrom(free, b)
	}
	return interval.FilterMinDuration(free, min)
}

// BusyIntervals converts events to the absolute intervals they block in loc.
// All-day events cover whole civil days in loc; every event is widened by
// the buffer marker in its title. Empty results are dropped.
func BusyIntervals(events []BusyEvent, loc *time.Location) []interval.Interval {
	out := make([]interval.Interval, 0, len(events))
	for _, e := range events {
		start, end := e.Start, e.End
		if e.AllDay {
			start, end = allDaySpan(e, loc)
		}
		start, end = buffer.Parse(e.Title).Apply(start, end)

		iv := interval.New(start, end)
		if iv.Empty() {
			continue
		}
		out = append(out, iv)
	}
	return out
}

// allDaySpan maps an all-day event onto [first date 00:00, end date 00:00)
// in loc. End dates are exclusive; an end that is not after the start
// covers a single day.
func allDaySpan(e BusyEvent, loc *time.Location) (time.Time, time.Time) {
	first := civil.DateOf(e.Start)
	last := civil.DateOf(e.End)
	if !last.After(first) {
		last = first.AddDays(1)
	}
	return tzclock.Midnight(first, loc), tzclock.Midnight(last, loc)
}

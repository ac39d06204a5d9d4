package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cpuguy83/calslots/internal/buffer"
	"github.com/cpuguy83/calslots/internal/calendar"
	"github.com/cpuguy83/calslots/internal/interval"
	"github.com/cpuguy83/calslots/internal/tzclock"
)

var tracer = otel.Tracer("github.com/cpuguy83/calslots/internal/availability")

// EventSource supplies the busy events overlapping [start, end).
type EventSource interface {
	Fetch(ctx context.Context, start, end time.Time) ([]calendar.Event, error)
}

// Defaults fill in whatever a Query leaves out.
type Defaults struct {
	Zone         string
	WorkingHours WorkingHours
	MinDuration  time.Duration
	MaxDays      int

	// FetchPadding widens the provider query on both sides so events that
	// only reach into the range through their buffers are still seen. It
	// never drops below buffer.Max.
	FetchPadding time.Duration
}

// Query is an availability question as posed by a caller. Empty fields take
// their value from Defaults.
type Query struct {
	StartDate string
	EndDate   string

	// Days, when set, replaces StartDate and EndDate with a range anchored
	// on today in the query zone.
	Days *int

	WorkStart string
	WorkEnd   string
	Timezone  string
}

// Plan is a validated Query.
type Plan struct {
	Range        DateRange
	Zone         string
	Location     *time.Location
	WorkingHours WorkingHours

	// Window is the span handed to event sources.
	Window interval.Interval
}

// Result is the answer to a free slot query.
type Result struct {
	Range DateRange
	Zone  string
	Slots []FreeSlot
}

// EventsResult lists busy events in a range.
type EventsResult struct {
	Range  DateRange
	Zone   string
	Events []calendar.Event
}

// Service ties event sources to the free slot computation.
type Service struct {
	source   EventSource
	defaults Defaults
	now      func() time.Time
}

// NewService creates a Service reading busy events from source.
func NewService(source EventSource, defaults Defaults) *Service {
	return &Service{
		source:   source,
		defaults: defaults,
		now:      time.Now,
	}
}

// Defaults returns the defaults the service was created with.
func (s *Service) Defaults() Defaults {
	return s.defaults
}

// Plan validates q and resolves its defaults without touching any source.
func (s *Service) Plan(q Query) (*Plan, error) {
	zone := q.Timezone
	if zone == "" {
		zone = s.defaults.Zone
	}
	loc, err := tzclock.Load(zone)
	if err != nil {
		return nil, err
	}

	var r DateRange
	if q.Days != nil {
		r = DaysFrom(tzclock.Today(s.now(), loc), *q.Days)
	} else {
		if r.Start, err = ParseDate("startDate", q.StartDate, loc); err != nil {
			return nil, err
		}
		if r.End, err = ParseDate("endDate", q.EndDate, loc); err != nil {
			return nil, err
		}
	}

	wh := s.defaults.WorkingHours
	if q.WorkStart != "" || q.WorkEnd != "" {
		start, end := q.WorkStart, q.WorkEnd
		if start == "" {
			start = FormatClock(wh.Start)
		}
		if end == "" {
			end = FormatClock(wh.End)
		}
		if wh, err = ParseWorkingHours(start, end); err != nil {
			return nil, err
		}
	}

	if err := validate(Request{Range: r, WorkingHours: wh, Zone: zone}, Options{MaxDays: s.defaults.MaxDays}); err != nil {
		return nil, err
	}

	pad := max(s.defaults.FetchPadding, buffer.Max)
	window := interval.New(
		tzclock.Midnight(r.Start, loc).Add(-pad),
		tzclock.Midnight(r.End.AddDays(1), loc).Add(pad),
	)

	return &Plan{
		Range:        r,
		Zone:         zone,
		Location:     loc,
		WorkingHours: wh,
		Window:       window,
	}, nil
}

// FreeSlots answers q. Input errors are reported before any source is
// queried.
func (s *Service) FreeSlots(ctx context.Context, q Query) (*Result, error) {
	ctx, span := tracer.Start(ctx, "availability.FreeSlots")
	defer span.End()

	plan, err := s.Plan(q)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("calslots.zone", plan.Zone),
		attribute.String("calslots.start_date", plan.Range.Start.String()),
		attribute.String("calslots.end_date", plan.Range.End.String()),
	)

	events, err := s.source.Fetch(ctx, plan.Window.Start, plan.Window.End)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetch busy events: %w", err)
	}

	busy := ToBusy(events)
	slots, err := ComputeFreeSlots(Request{
		Range:        plan.Range,
		WorkingHours: plan.WorkingHours,
		Zone:         plan.Zone,
	}, busy, Options{MinDuration: s.defaults.MinDuration})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("calslots.busy_events", len(busy)),
		attribute.Int("calslots.free_slots", len(slots)),
	)
	slog.Debug("computed free slots",
		"zone", plan.Zone,
		"start", plan.Range.Start,
		"end", plan.Range.End,
		"busy", len(busy),
		"slots", len(slots),
	)

	return &Result{Range: plan.Range, Zone: plan.Zone, Slots: slots}, nil
}

// Events lists the busy events overlapping the days of q.
func (s *Service) Events(ctx context.Context, q Query) (*EventsResult, error) {
	ctx, span := tracer.Start(ctx, "availability.Events")
	defer span.End()

	plan, err := s.Plan(q)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := tzclock.Midnight(plan.Range.Start, plan.Location)
	end := tzclock.Midnight(plan.Range.End.AddDays(1), plan.Location)

	events, err := s.source.Fetch(ctx, start, end)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	days := interval.New(start, end)
	kept := make([]calendar.Event, 0, len(events))
	for _, e := range events {
		if interval.Overlaps(days, interval.New(e.Start, e.End)) {
			kept = append(kept, e)
		}
	}
	span.SetAttributes(attribute.Int("calslots.events", len(kept)))

	return &EventsResult{Range: plan.Range, Zone: plan.Zone, Events: calendar.Merge(kept)}, nil
}

// ToBusy reduces provider events to busy events. Events marked as free
// (transparent) do not block time.
func ToBusy(events []calendar.Event) []BusyEvent {
	busy := make([]BusyEvent, 0, len(events))
	for _, e := range events {
		if e.Transparent {
			continue
		}
		busy = append(busy, BusyEvent{
			Start:  e.Start,
			End:    e.End,
			Title:  e.Summary,
			AllDay: e.AllDay,
		})
	}
	return busy
}

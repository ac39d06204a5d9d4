// Package sync fetches busy events from every configured calendar source.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cpuguy83/calslots/internal/availability"
	"github.com/cpuguy83/calslots/internal/calendar"
	"github.com/cpuguy83/calslots/internal/filter"
)

var tracer = otel.Tracer("github.com/cpuguy83/calslots/internal/sync")

// Source pairs a calendar source with its optional filter.
type Source struct {
	Source calendar.Source
	Filter *filter.Filter
}

// Report describes one source's contribution to a fetch.
type Report struct {
	Name     string
	Fetched  int // count before filtering
	Kept     int // count after filtering
	Err      error
	TimedOut bool
	Duration time.Duration
}

// Result is the outcome of a fetch across all sources.
type Result struct {
	Events  []calendar.Event
	Reports []Report
}

// Failed returns the reports of sources that contributed nothing.
func (r *Result) Failed() []Report {
	var failed []Report
	for _, rep := range r.Reports {
		if rep.Err != nil {
			failed = append(failed, rep)
		}
	}
	return failed
}

// Syncer fetches events from multiple sources in parallel.
type Syncer struct {
	sources []Source
	global  *filter.Filter
	timeout time.Duration

	// requireSource turns "every source failed" into an error instead of
	// an empty busy list.
	requireSource bool
}

// New creates a Syncer. timeout bounds each fetch; zero means no bound
// beyond the caller's context. global is applied after each source's own
// filter and may be nil.
func New(timeout time.Duration, global *filter.Filter, sources ...Source) *Syncer {
	return &Syncer{
		sources: sources,
		global:  global,
		timeout: timeout,
	}
}

// SourceCount returns the number of configured sources.
func (s *Syncer) SourceCount() int {
	return len(s.sources)
}

// Fetch returns the merged events overlapping [start, end). Sources that
// fail or miss the deadline are logged and contribute no events. Only the
// caller's own cancellation is an error, unless the syncer requires at
// least one source to answer.
func (s *Syncer) Fetch(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	res, err := s.FetchReport(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// FetchReport is Fetch with a per-source report.
func (s *Syncer) FetchReport(ctx context.Context, start, end time.Time) (*Result, error) {
	if len(s.sources) == 0 {
		return nil, availability.ErrNoCalendars
	}

	ctx, span := tracer.Start(ctx, "sync.Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("calslots.sources", len(s.sources)),
		attribute.String("calslots.window_start", start.Format(time.RFC3339)),
		attribute.String("calslots.window_end", end.Format(time.RFC3339)),
	)

	fetchCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	type result struct {
		idx    int
		events []calendar.Event
		report Report
	}

	results := make(chan result, len(s.sources))
	var wg sync.WaitGroup

	for i, src := range s.sources {
		wg.Go(func() {
			events, report := s.fetchSource(fetchCtx, src, start, end)
			results <- result{idx: i, events: events, report: report}
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	reports := make([]Report, len(s.sources))
	eventSets := make([][]calendar.Event, len(s.sources))
	done := make([]bool, len(s.sources))

collect:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break collect
			}
			reports[r.idx] = r.report
			eventSets[r.idx] = r.events
			done[r.idx] = true
		case <-fetchCtx.Done():
			break collect
		}
	}

	var (
		succeeded int
		errs      []error
	)
	for i, src := range s.sources {
		if !done[i] {
			reports[i] = Report{Name: src.Source.Name(), TimedOut: true, Err: fetchCtx.Err()}
		}
		rep := reports[i]
		if rep.Err != nil {
			slog.Warn("failed to fetch source", "name", rep.Name, "timed_out", rep.TimedOut, "error", rep.Err)
			errs = append(errs, fmt.Errorf("%s: %w", rep.Name, rep.Err))
			continue
		}
		succeeded++
		slog.Debug("fetched source", "name", rep.Name, "fetched", rep.Fetched, "after_filter", rep.Kept, "duration", rep.Duration)
	}

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if succeeded == 0 {
		err := fmt.Errorf("all calendar sources failed: %w", errors.Join(errs...))
		span.SetStatus(codes.Error, err.Error())
		if s.requireSource {
			return nil, err
		}
		slog.Warn("no calendar source answered, reporting the range as free", "sources", len(s.sources))
	}

	merged := calendar.Merge(eventSets...)
	span.SetAttributes(
		attribute.Int("calslots.events", len(merged)),
		attribute.Int("calslots.failed_sources", len(errs)),
	)
	slog.Debug("fetch complete", "events", len(merged), "sources", len(s.sources), "failed", len(errs))

	return &Result{Events: merged, Reports: reports}, nil
}

func (s *Syncer) fetchSource(ctx context.Context, src Source, start, end time.Time) ([]calendar.Event, Report) {
	name := src.Source.Name()
	ctx, span := tracer.Start(ctx, "sync.fetch_source", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("calslots.source", name))

	began := time.Now()
	events, err := src.Source.Fetch(ctx, start, end)
	report := Report{Name: name, Duration: time.Since(began)}
	if err != nil {
		report.Err = err
		report.TimedOut = errors.Is(err, context.DeadlineExceeded)
		span.SetStatus(codes.Error, err.Error())
		return nil, report
	}

	report.Fetched = len(events)
	events = src.Filter.Apply(events)
	events = s.global.Apply(events)
	report.Kept = len(events)

	span.SetAttributes(
		attribute.Int("calslots.fetched", report.Fetched),
		attribute.Int("calslots.kept", report.Kept),
	)
	return events, report
}

// Calendars lists the calendars of every source that can enumerate them.
// Sources that fail are logged and skipped.
func (s *Syncer) Calendars(ctx context.Context) ([]calendar.Info, error) {
	if len(s.sources) == 0 {
		return nil, availability.ErrNoCalendars
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var infos []calendar.Info
	for _, src := range s.sources {
		lister, ok := src.Source.(calendar.Lister)
		if !ok {
			infos = append(infos, calendar.Info{ID: src.Source.Name(), Name: src.Source.Name(), Source: src.Source.Name()})
			continue
		}

		cals, err := lister.Calendars(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("failed to list calendars", "name", src.Source.Name(), "error", err)
			continue
		}
		infos = append(infos, cals...)
	}
	return infos, nil
}

// Close releases sources that hold resources.
func (s *Syncer) Close() error {
	var errs []error
	for _, src := range s.sources {
		if c, ok := src.Source.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var _ availability.EventSource = (*Syncer)(nil)

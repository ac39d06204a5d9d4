package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// DefaultGoogleCalendars are the calendar names queried when a Google
// source does not list any.
var DefaultGoogleCalendars = []string{"main", "block"}

// GoogleSource fetches events from Google Calendar.
type GoogleSource struct {
	name      string
	calendars []string
	svc       *gcal.Service
	limiter   *RateLimiter
}

// NewGoogleSource creates a Google Calendar source. Only calendars whose
// title matches one of calendars (case-insensitively) are queried; "*"
// selects every calendar. Credentials are supplied through opts, typically
// option.WithTokenSource.
func NewGoogleSource(ctx context.Context, name string, calendars []string, opts ...option.ClientOption) (*GoogleSource, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create google calendar service: %w", err)
	}
	if len(calendars) == 0 {
		calendars = DefaultGoogleCalendars
	}
	return &GoogleSource{
		name:      name,
		calendars: calendars,
		svc:       svc,
		limiter:   NewRateLimiter(5, 10),
	}, nil
}

// Name returns the display name of this calendar source.
func (s *GoogleSource) Name() string {
	return s.name
}

func (s *GoogleSource) wants(summary string) bool {
	for _, c := range s.calendars {
		if c == "*" {
			return true
		}
	}
	return selected(s.calendars, summary)
}

func (s *GoogleSource) listCalendars(ctx context.Context) ([]*gcal.CalendarListEntry, error) {
	var (
		entries []*gcal.CalendarListEntry
		token   string
	)
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		call := s.svc.CalendarList.List().Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		page, err := call.Do()
		if err != nil {
			return nil, s.providerError(fmt.Errorf("list calendars: %w", err))
		}
		entries = append(entries, page.Items...)
		if page.NextPageToken == "" {
			return entries, nil
		}
		token = page.NextPageToken
	}
}

// Fetch returns events overlapping [start, end) from every selected
// calendar. A calendar that fails is logged and skipped.
func (s *GoogleSource) Fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	entries, err := s.listCalendars(ctx)
	if err != nil {
		return nil, err
	}

	var (
		events  []Event
		matched int
	)
	for _, cal := range entries {
		if !s.wants(cal.Summary) {
			continue
		}
		matched++

		calEvents, err := s.fetchCalendar(ctx, cal, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("skip calendar", "source", s.name, "calendar", cal.Summary, "error", err)
			continue
		}
		events = append(events, calEvents...)
	}

	if matched == 0 {
		return nil, fmt.Errorf("%w: want %s", ErrNoMatchingCalendars, strings.Join(s.calendars, ", "))
	}
	return events, nil
}

func (s *GoogleSource) fetchCalendar(ctx context.Context, cal *gcal.CalendarListEntry, start, end time.Time) ([]Event, error) {
	var (
		events []Event
		token  string
	)
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		call := s.svc.Events.List(cal.Id).
			Context(ctx).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(2500)
		if token != "" {
			call = call.PageToken(token)
		}

		page, err := call.Do()
		if err != nil {
			return nil, s.providerError(fmt.Errorf("list events in %s: %w", cal.Summary, err))
		}

		for _, item := range page.Items {
			event, ok, err := convertGoogleEvent(item, s.name, cal.Summary)
			if err != nil {
				slog.Debug("skip event conversion error", "id", item.Id, "error", err)
				continue
			}
			if ok {
				events = append(events, event)
			}
		}

		if page.NextPageToken == "" {
			return events, nil
		}
		token = page.NextPageToken
	}
}

func (s *GoogleSource) providerError(err error) error {
	err = wrapGoogleError(err)
	if errors.Is(err, ErrRateLimited) {
		s.limiter.Backoff(0)
	}
	return err
}

// Calendars lists every calendar in the account.
func (s *GoogleSource) Calendars(ctx context.Context) ([]Info, error) {
	entries, err := s.listCalendars(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(entries))
	for _, cal := range entries {
		infos = append(infos, Info{
			ID:          cal.Id,
			Name:        cal.Summary,
			Description: cal.Description,
			Primary:     cal.Primary,
			Source:      s.name,
		})
	}
	return infos, nil
}

// convertGoogleEvent maps a Google event. ok is false for cancelled events.
func convertGoogleEvent(item *gcal.Event, source, calendarName string) (Event, bool, error) {
	if item == nil || item.Status == "cancelled" {
		return Event{}, false, nil
	}

	event := Event{
		UID:         item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		URL:         item.HtmlLink,
		Transparent: item.Transparency == "transparent",
		Source:      source,
		Calendar:    calendarName,
	}
	if item.Organizer != nil {
		event.Organizer = item.Organizer.Email
	}

	start, allDay, err := googleTime(item.Start)
	if err != nil {
		return event, false, fmt.Errorf("parse start: %w", err)
	}
	end, _, err := googleTime(item.End)
	if err != nil {
		return event, false, fmt.Errorf("parse end: %w", err)
	}

	event.Start = start
	event.End = end
	event.AllDay = allDay
	return event, true, nil
}

// googleTime reads either the timed or the date-only form. Dates become
// UTC midnight.
func googleTime(dt *gcal.EventDateTime) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, errors.New("missing time")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, time.UTC)
		return t, true, err
	}
	return time.Time{}, false, errors.New("missing time")
}

var (
	_ Source = (*GoogleSource)(nil)
	_ Lister = (*GoogleSource)(nil)
)

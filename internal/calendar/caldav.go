package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// iCloudCalDAVURL is the CalDAV endpoint for every iCloud account.
const iCloudCalDAVURL = "https://caldav.icloud.com"

// eventProps are the VEVENT properties requested from the server. RRULE and
// friends are needed because servers return unexpanded masters.
var eventProps = []string{
	"UID", "SUMMARY", "DESCRIPTION", "LOCATION", "URL", "ORGANIZER",
	"DTSTART", "DTEND", "DURATION",
	"RRULE", "RDATE", "EXDATE",
	"STATUS", "TRANSP",
}

// CalDAVSource fetches events from a CalDAV server.
type CalDAVSource struct {
	name      string
	endpoint  string
	http      webdav.HTTPClient
	calendars []string
	loc       *time.Location

	once      sync.Once
	client    *caldav.Client
	clientErr error
}

// NewCalDAVSource creates a CalDAV source authenticating with basic auth.
// calendars restricts which calendars are read; empty reads all of them.
func NewCalDAVSource(name, endpoint, username, password string, calendars []string, loc *time.Location) *CalDAVSource {
	if loc == nil {
		loc = time.UTC
	}
	hc := &http.Client{Timeout: 60 * time.Second}
	return &CalDAVSource{
		name:      name,
		endpoint:  endpoint,
		http:      webdav.HTTPClientWithBasicAuth(hc, username, password),
		calendars: calendars,
		loc:       loc,
	}
}

// NewICloudSource creates a CalDAV source for iCloud. password must be an
// app-specific password.
func NewICloudSource(name, username, password string, calendars []string, loc *time.Location) *CalDAVSource {
	return NewCalDAVSource(name, iCloudCalDAVURL, username, password, calendars, loc)
}

func (s *CalDAVSource) Name() string {
	return s.name
}

func (s *CalDAVSource) dav() (*caldav.Client, error) {
	s.once.Do(func() {
		s.client, s.clientErr = caldav.NewClient(s.http, s.endpoint)
		if s.clientErr != nil {
			s.clientErr = fmt.Errorf("create caldav client: %w", s.clientErr)
		}
	})
	return s.client, s.clientErr
}

// discover walks principal -> home set -> calendars.
func (s *CalDAVSource) discover(ctx context.Context) (*caldav.Client, []caldav.Calendar, error) {
	client, err := s.dav()
	if err != nil {
		return nil, nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, nil, fmt.Errorf("find calendar home: %w", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, nil, fmt.Errorf("find calendars: %w", err)
	}
	return client, cals, nil
}

// Fetch retrieves events overlapping [start, end) from every selected
// calendar. A calendar that fails is logged and skipped.
func (s *CalDAVSource) Fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	client, cals, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}

	var (
		events  []Event
		matched int
	)
	for _, cal := range cals {
		if !selected(s.calendars, cal.Name) {
			continue
		}
		matched++

		got, err := s.query(ctx, client, cal, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("skip calendar", "source", s.name, "calendar", cal.Name, "error", err)
			continue
		}
		events = append(events, got...)
	}

	if matched == 0 {
		return nil, fmt.Errorf("%w among %d calendars of %s", ErrNoMatchingCalendars, len(cals), s.name)
	}
	return events, nil
}

// Calendars lists the calendars in the user's home set.
func (s *CalDAVSource) Calendars(ctx context.Context) ([]Info, error) {
	_, cals, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(cals))
	for _, cal := range cals {
		infos = append(infos, Info{
			ID:          cal.Path,
			Name:        cal.Name,
			Description: cal.Description,
			Source:      s.name,
		})
	}
	return infos, nil
}

func (s *CalDAVSource) query(ctx context.Context, client *caldav.Client, cal caldav.Calendar, start, end time.Time) ([]Event, error) {
	objects, err := client.QueryCalendar(ctx, cal.Path, eventQuery(start, end))
	if err != nil {
		return nil, fmt.Errorf("query calendar %s: %w", cal.Name, err)
	}

	p := icsParser{
		source:   s.name,
		calendar: cal.Name,
		loc:      s.loc,
		start:    start,
		end:      end,
	}

	var events []Event
	for _, obj := range objects {
		if obj.Data != nil {
			events = append(events, p.calendarEvents(obj.Data)...)
		}
	}
	return events, nil
}

// eventQuery asks for VEVENTs with a time-range filter of [start, end).
func eventQuery(start, end time.Time) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name:  "VEVENT",
				Props: eventProps,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}
}

// selected reports whether the calendar called name passes allow. Names
// compare case-insensitively; an empty list selects everything.
func selected(allow []string, name string) bool {
	if len(allow) == 0 {
		return true
	}
	name = strings.TrimSpace(name)
	for _, c := range allow {
		if strings.EqualFold(strings.TrimSpace(c), name) {
			return true
		}
	}
	return false
}

var (
	_ Source = (*CalDAVSource)(nil)
	_ Lister = (*CalDAVSource)(nil)
)

package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cpuguy83/calslots/internal/auth"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"

	// MS365Scope is the Graph permission needed to read calendars.
	MS365Scope = "Calendars.Read"

	graphPageSize = 500
	graphSelect   = "id,subject,bodyPreview,start,end,location,isAllDay,isCancelled,organizer,webLink,onlineMeeting,showAs"
)

// TokenProvider acquires access tokens.
type TokenProvider interface {
	GetToken(ctx context.Context) (*auth.Token, error)
	Close() error
}

// MS365Source reads the signed-in user's calendar view from Microsoft Graph.
type MS365Source struct {
	name    string
	auth    TokenProvider
	client  *http.Client
	baseURL string
	limiter *RateLimiter
}

func NewMS365Source(name string, tokens TokenProvider) *MS365Source {
	return &MS365Source{
		name:    name,
		auth:    tokens,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: graphBaseURL,
		limiter: NewRateLimiter(4, 8),
	}
}

func (s *MS365Source) Name() string {
	return s.name
}

// Close releases the token provider.
func (s *MS365Source) Close() error {
	if s.auth == nil {
		return nil
	}
	return s.auth.Close()
}

// Fetch returns the non-cancelled events overlapping [start, end).
// calendarView expands recurring series server side.
func (s *MS365Source) Fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	q := url.Values{
		"startDateTime": {start.UTC().Format(time.RFC3339)},
		"endDateTime":   {end.UTC().Format(time.RFC3339)},
		"$orderby":      {"start/dateTime"},
		"$top":          {strconv.Itoa(graphPageSize)},
		"$select":       {graphSelect},
	}

	var events []Event
	err := graphPages(ctx, s, "/me/calendarView?"+q.Encode(), func(ge graphEvent) {
		if ge.IsCancelled {
			return
		}
		e, err := ge.event(s.name)
		if err != nil {
			slog.Warn("skip graph event", "source", s.name, "id", ge.ID, "error", err)
			return
		}
		events = append(events, e)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch calendar view: %w", err)
	}

	slog.Debug("fetched graph events", "source", s.name, "count", len(events))
	return events, nil
}

// Calendars lists the user's calendars.
func (s *MS365Source) Calendars(ctx context.Context) ([]Info, error) {
	var infos []Info
	err := graphPages(ctx, s, "/me/calendars", func(c graphCalendar) {
		infos = append(infos, Info{ID: c.ID, Name: c.Name, Primary: c.IsDefaultCalendar, Source: s.name})
	})
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	return infos, nil
}

// graphPages walks a Graph collection starting at path, following
// @odata.nextLink, and hands every item to fn.
func graphPages[T any](ctx context.Context, s *MS365Source, path string, fn func(T)) error {
	tok, err := s.auth.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	next := s.baseURL + path
	for next != "" {
		var page struct {
			Value    []T    `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := s.get(ctx, tok.AccessToken, next, &page); err != nil {
			return err
		}
		for _, item := range page.Value {
			fn(item)
		}
		next = page.NextLink
	}
	return nil
}

func (s *MS365Source) get(ctx context.Context, token, reqURL string, v any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	// Times come back in UTC; the availability engine renders them.
	req.Header.Set("Prefer", `outlook.timezone="UTC", outlook.body-content-type="text"`)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode graph response: %w", err)
		}
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		s.limiter.Backoff(retryAfter(resp.Header.Get("Retry-After")))
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(body))
	if mapped := statusError(resp.StatusCode); mapped != nil {
		return fmt.Errorf("%w: graph status %d: %s", mapped, resp.StatusCode, detail)
	}
	return fmt.Errorf("graph status %d: %s", resp.StatusCode, detail)
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

type graphCalendar struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	IsDefaultCalendar bool   `json:"isDefaultCalendar"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID          string        `json:"id"`
	Subject     string        `json:"subject"`
	BodyPreview string        `json:"bodyPreview"`
	Start       graphDateTime `json:"start"`
	End         graphDateTime `json:"end"`
	IsAllDay    bool          `json:"isAllDay"`
	IsCancelled bool          `json:"isCancelled"`
	WebLink     string        `json:"webLink"`
	ShowAs      string        `json:"showAs"`

	Location *struct {
		DisplayName string `json:"displayName"`
	} `json:"location,omitempty"`
	Organizer *struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"organizer,omitempty"`
	OnlineMeeting *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting,omitempty"`
}

// event converts ge. The join URL, when present, wins over the Outlook web
// link so meeting detection sees it first.
func (ge graphEvent) event(source string) (Event, error) {
	start, err := parseGraphDateTime(ge.Start)
	if err != nil {
		return Event{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseGraphDateTime(ge.End)
	if err != nil {
		return Event{}, fmt.Errorf("end: %w", err)
	}

	e := Event{
		UID:         ge.ID,
		Summary:     ge.Subject,
		Description: ge.BodyPreview,
		Start:       start,
		End:         end,
		AllDay:      ge.IsAllDay,
		URL:         ge.WebLink,
		Transparent: strings.EqualFold(ge.ShowAs, "free"),
		Source:      source,
	}
	if ge.Location != nil {
		e.Location = ge.Location.DisplayName
	}
	if ge.Organizer != nil {
		e.Organizer = ge.Organizer.EmailAddress.Address
	}
	if ge.OnlineMeeting != nil && ge.OnlineMeeting.JoinURL != "" {
		e.URL = ge.OnlineMeeting.JoinURL
	}
	return e, nil
}

var graphLayouts = []string{
	"2006-01-02T15:04:05.0000000",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// parseGraphDateTime reads a Graph dateTime, which the Prefer header pins
// to UTC.
func parseGraphDateTime(gdt graphDateTime) (time.Time, error) {
	for _, layout := range graphLayouts {
		if t, err := time.ParseInLocation(layout, gdt.DateTime, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized graph datetime %q", gdt.DateTime)
}

var (
	_ Source = (*MS365Source)(nil)
	_ Lister = (*MS365Source)(nil)
)

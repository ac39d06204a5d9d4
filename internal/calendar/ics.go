package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ICSSource reads a published iCalendar feed over HTTP.
type ICSSource struct {
	name   string
	url    string
	user   string
	pass   string
	loc    *time.Location // zone for floating times
	client *http.Client
}

// NewICSSource creates a feed source. Floating times in the feed are read
// in loc (UTC when nil). Basic auth is sent only when both username and
// password are set.
func NewICSSource(name, url, username, password string, loc *time.Location) *ICSSource {
	if loc == nil {
		loc = time.UTC
	}
	return &ICSSource{
		name:   name,
		url:    url,
		user:   username,
		pass:   password,
		loc:    loc,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *ICSSource) Name() string {
	return s.name
}

// Fetch downloads the feed and returns the events overlapping [start, end).
func (s *ICSSource) Fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")
	if s.user != "" && s.pass != "" {
		req.SetBasicAuth(s.user, s.pass)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if mapped := statusError(resp.StatusCode); mapped != nil {
			return nil, fmt.Errorf("fetch feed %s: %w", s.name, mapped)
		}
		return nil, fmt.Errorf("fetch feed %s: unexpected status %s", s.name, resp.Status)
	}

	p := icsParser{source: s.name, loc: s.loc, start: start, end: end}
	return p.decode(resp.Body)
}

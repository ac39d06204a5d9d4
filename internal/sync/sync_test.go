package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpuguy83/calslots/internal/auth"
	"github.com/cpuguy83/calslots/internal/availability"
	"github.com/cpuguy83/calslots/internal/calendar"
	"github.com/cpuguy83/calslots/internal/config"
	"github.com/cpuguy83/calslots/internal/filter"
)

type stubSource struct {
	name   string
	events []calendar.Event
	err    error
	delay  time.Duration
	closed bool

	gotStart, gotEnd time.Time
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	s.gotStart, s.gotEnd = start, end
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.events, s.err
}

func (s *stubSource) Close() error {
	s.closed = true
	return nil
}

type listingSource struct {
	stubSource
	infos []calendar.Info
	err   error
}

func (s *listingSource) Calendars(context.Context) ([]calendar.Info, error) {
	return s.infos, s.err
}

func at(h int) time.Time {
	return time.Date(2026, 3, 2, h, 0, 0, 0, time.UTC)
}

func mustFilter(t *testing.T, cfg config.FilterConfig) *filter.Filter {
	t.Helper()
	f, err := filter.New(cfg)
	require.NoError(t, err)
	return f
}

func TestFetchMergesSources(t *testing.T) {
	a := &stubSource{name: "a", events: []calendar.Event{
		{UID: "a2", Summary: "Review", Start: at(14), End: at(15)},
		{UID: "a1", Summary: "Standup", Start: at(9), End: at(10)},
	}}
	b := &stubSource{name: "b", events: []calendar.Event{
		{UID: "b1", Summary: "Lunch", Start: at(12), End: at(13)},
	}}
	s := New(time.Second, nil, Source{Source: a}, Source{Source: b})
	assert.Equal(t, 2, s.SourceCount())

	res, err := s.FetchReport(context.Background(), at(0), at(23))
	require.NoError(t, err)

	var uids []string
	for _, e := range res.Events {
		uids = append(uids, e.UID)
	}
	assert.Equal(t, []string{"a1", "b1", "a2"}, uids)
	assert.Equal(t, at(0), a.gotStart)
	assert.Equal(t, at(23), b.gotEnd)

	require.Len(t, res.Reports, 2)
	assert.Equal(t, "a", res.Reports[0].Name)
	assert.Equal(t, 2, res.Reports[0].Fetched)
	assert.Empty(t, res.Failed())
}

func TestFetchAppliesFilters(t *testing.T) {
	src := &stubSource{name: "work", events: []calendar.Event{
		{UID: "1", Summary: "Standup", Start: at(9), End: at(10)},
		{UID: "2", Summary: "[FYI] All hands", Start: at(11), End: at(12)},
		{UID: "3", Summary: "Personal: gym", Start: at(18), End: at(19)},
	}}
	perSource := mustFilter(t, config.FilterConfig{Exclude: []config.FilterRule{{Field: "title", Prefix: "[FYI]"}}})
	global := mustFilter(t, config.FilterConfig{Exclude: []config.FilterRule{{Field: "title", Contains: "gym"}}})

	s := New(0, global, Source{Source: src, Filter: perSource})
	res, err := s.FetchReport(context.Background(), at(0), at(23))
	require.NoError(t, err)

	require.Len(t, res.Events, 1)
	assert.Equal(t, "1", res.Events[0].UID)
	assert.Equal(t, 3, res.Reports[0].Fetched)
	assert.Equal(t, 1, res.Reports[0].Kept)
}

func TestFetchPartialFailure(t *testing.T) {
	good := &stubSource{name: "good", events: []calendar.Event{{UID: "g", Start: at(9), End: at(10)}}}
	bad := &stubSource{name: "bad", err: calendar.ErrUnauthorized}

	s := New(time.Second, nil, Source{Source: good}, Source{Source: bad})
	res, err := s.FetchReport(context.Background(), at(0), at(23))
	require.NoError(t, err)

	assert.Len(t, res.Events, 1)
	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Name)
	assert.ErrorIs(t, failed[0].Err, calendar.ErrUnauthorized)
	assert.False(t, failed[0].TimedOut)
}

func TestFetchSlowSourceTimesOut(t *testing.T) {
	fast := &stubSource{name: "fast", events: []calendar.Event{{UID: "f", Start: at(9), End: at(10)}}}
	slow := &stubSource{name: "slow", delay: time.Minute, events: []calendar.Event{{UID: "s"}}}

	s := New(50*time.Millisecond, nil, Source{Source: fast}, Source{Source: slow})

	began := time.Now()
	res, err := s.FetchReport(context.Background(), at(0), at(23))
	require.NoError(t, err)
	assert.Less(t, time.Since(began), 10*time.Second)

	require.Len(t, res.Events, 1)
	assert.Equal(t, "f", res.Events[0].UID)
	assert.True(t, res.Reports[1].TimedOut)
	assert.ErrorIs(t, res.Reports[1].Err, context.DeadlineExceeded)
}

func TestFetchAllFailed(t *testing.T) {
	sources := func() []Source {
		return []Source{
			{Source: &stubSource{name: "a", err: errors.New("boom")}},
			{Source: &stubSource{name: "b", delay: time.Minute}},
		}
	}

	res, err := New(50*time.Millisecond, nil, sources()...).FetchReport(context.Background(), at(0), at(23))
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Len(t, res.Failed(), 2)

	strict := New(50*time.Millisecond, nil, sources()...)
	strict.requireSource = true
	_, err = strict.Fetch(context.Background(), at(0), at(23))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "boom")
}

func TestFetchNoSources(t *testing.T) {
	_, err := New(time.Second, nil).Fetch(context.Background(), at(0), at(23))
	assert.ErrorIs(t, err, availability.ErrNoCalendars)

	_, err = New(time.Second, nil).Calendars(context.Background())
	assert.ErrorIs(t, err, availability.ErrNoCalendars)
}

func TestFetchCallerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(time.Second, nil, Source{Source: &stubSource{name: "slow", delay: time.Minute}})
	_, err := s.Fetch(ctx, at(0), at(23))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalendars(t *testing.T) {
	listing := &listingSource{
		stubSource: stubSource{name: "google"},
		infos: []calendar.Info{
			{ID: "main-id", Name: "main", Primary: true, Source: "google"},
			{ID: "block-id", Name: "block", Source: "google"},
		},
	}
	broken := &listingSource{stubSource: stubSource{name: "caldav"}, err: errors.New("unreachable")}
	plain := &stubSource{name: "feed"}

	s := New(time.Second, nil, Source{Source: listing}, Source{Source: broken}, Source{Source: plain})
	infos, err := s.Calendars(context.Background())
	require.NoError(t, err)

	require.Len(t, infos, 3)
	assert.Equal(t, "main", infos[0].Name)
	assert.Equal(t, "feed", infos[2].Name)
	assert.Equal(t, "feed", infos[2].Source)
}

func TestClose(t *testing.T) {
	a := &stubSource{name: "a"}
	b := &stubSource{name: "b"}
	require.NoError(t, New(0, nil, Source{Source: a}, Source{Source: b}).Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNewSyncerFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Availability: config.AvailabilityConfig{Timezone: "Asia/Tokyo", FetchTimeout: time.Second},
		Sources: []config.SourceConfig{
			{Name: "feed", Type: config.SourceICS, URL: "https://example.com/a.ics"},
			{Name: "local", Type: config.SourceFile, Path: filepath.Join(dir, "busy.ics"), Timezone: "UTC"},
			{Name: "dav", Type: config.SourceCalDAV, URL: "https://dav.example.com", Username: "u", Password: "p"},
			{Name: "apple", Type: config.SourceICloud, Username: "u", Password: "p", Calendars: []string{"Home"}},
		},
	}

	s, err := NewSyncer(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 4, s.SourceCount())

	var names []string
	for _, src := range s.sources {
		names = append(names, src.Source.Name())
	}
	assert.Equal(t, []string{"feed", "local", "dav", "apple"}, names)
	assert.IsType(t, &calendar.FileSource{}, s.sources[1].Source)
	assert.IsType(t, &calendar.CalDAVSource{}, s.sources[3].Source)
}

func TestNewSyncerErrors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]*config.Config{
		"bad zone": {
			Availability: config.AvailabilityConfig{Timezone: "Mars/Olympus"},
		},
		"bad source zone": {
			Availability: config.AvailabilityConfig{Timezone: "UTC"},
			Sources:      []config.SourceConfig{{Name: "x", Type: config.SourceICS, URL: "u", Timezone: "Nowhere/Land"}},
		},
		"unknown type": {
			Availability: config.AvailabilityConfig{Timezone: "UTC"},
			Sources:      []config.SourceConfig{{Name: "x", Type: "exchange"}},
		},
		"bad filter": {
			Availability: config.AvailabilityConfig{Timezone: "UTC"},
			Sources: []config.SourceConfig{{
				Name: "x", Type: config.SourceICS, URL: "u",
				Filters: config.FilterConfig{Rules: []config.FilterRule{{Field: "title", Regex: "("}}},
			}},
		},
		"google without login": {
			Availability: config.AvailabilityConfig{Timezone: "UTC"},
			Sources: []config.SourceConfig{{
				Name: "g", Type: config.SourceGoogle, ClientID: "id", ClientSecret: "s",
				Token: filepath.Join(dir, "missing-token.json"),
			}},
		},
	}

	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewSyncer(context.Background(), cfg)
			assert.Error(t, err)
		})
	}

	_, err := NewSyncer(context.Background(), tests["google without login"])
	assert.ErrorIs(t, err, auth.ErrLoginRequired)
}

func TestMS365AuthConfig(t *testing.T) {
	dc := MS365AuthConfig(config.SourceConfig{Tenant: "contoso.onmicrosoft.com"})
	assert.Equal(t, "https://login.microsoftonline.com/contoso.onmicrosoft.com", dc.Authority)
	assert.Equal(t, []string{calendar.MS365Scope}, dc.Scopes)
	assert.False(t, dc.Interactive)

	dc = MS365AuthConfig(config.SourceConfig{})
	assert.Empty(t, dc.Authority)
}

func TestGoogleAuthConfigDefaults(t *testing.T) {
	gc, err := GoogleAuthConfig(config.SourceConfig{Credentials: "/c.json", Token: "/t.json"})
	require.NoError(t, err)
	assert.Equal(t, "/c.json", gc.CredentialsFile)
	assert.Equal(t, "/t.json", gc.TokenFile)

	gc, err = GoogleAuthConfig(config.SourceConfig{})
	require.NoError(t, err)
	assert.Equal(t, "token.json", filepath.Base(gc.TokenFile))
	assert.Equal(t, "calslots", filepath.Base(filepath.Dir(gc.CredentialsFile)))
}

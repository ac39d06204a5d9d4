package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func TestConvertGoogleEvent(t *testing.T) {
	tests := []struct {
		name       string
		item       *gcal.Event
		wantOK     bool
		wantErr    bool
		wantAllDay bool
		wantStart  time.Time
		wantTransp bool
	}{
		{
			name: "timed",
			item: &gcal.Event{
				Id:      "e1",
				Summary: "Lunch",
				Start:   &gcal.EventDateTime{DateTime: "2026-03-02T12:00:00+09:00"},
				End:     &gcal.EventDateTime{DateTime: "2026-03-02T13:00:00+09:00"},
			},
			wantOK:    true,
			wantStart: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "all-day",
			item: &gcal.Event{
				Id:    "e2",
				Start: &gcal.EventDateTime{Date: "2026-03-03"},
				End:   &gcal.EventDateTime{Date: "2026-03-04"},
			},
			wantOK:     true,
			wantAllDay: true,
			wantStart:  time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "transparent",
			item: &gcal.Event{
				Id:           "e3",
				Transparency: "transparent",
				Start:        &gcal.EventDateTime{DateTime: "2026-03-02T09:00:00Z"},
				End:          &gcal.EventDateTime{DateTime: "2026-03-02T10:00:00Z"},
			},
			wantOK:     true,
			wantStart:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			wantTransp: true,
		},
		{
			name:   "cancelled",
			item:   &gcal.Event{Id: "e4", Status: "cancelled"},
			wantOK: false,
		},
		{
			name:    "missing start",
			item:    &gcal.Event{Id: "e5", End: &gcal.EventDateTime{Date: "2026-03-04"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := convertGoogleEvent(tt.item, "google", "main")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if !ev.Start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", ev.Start, tt.wantStart)
			}
			if ev.AllDay != tt.wantAllDay {
				t.Errorf("AllDay = %v, want %v", ev.AllDay, tt.wantAllDay)
			}
			if ev.Transparent != tt.wantTransp {
				t.Errorf("Transparent = %v, want %v", ev.Transparent, tt.wantTransp)
			}
			if ev.Source != "google" || ev.Calendar != "main" {
				t.Errorf("source/calendar = %q/%q", ev.Source, ev.Calendar)
			}
		})
	}
}

func newGoogleTestServer(t *testing.T, fail map[string]int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[
			{"id":"main-id","summary":"Main","primary":true},
			{"id":"block-id","summary":"block"},
			{"id":"other-id","summary":"Birthdays"}
		]}`)
	})
	mux.HandleFunc("/calendars/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/calendars/"), "/events")
		if code, ok := fail[id]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, code)
			return
		}
		if r.URL.Query().Get("singleEvents") != "true" {
			t.Errorf("singleEvents not requested for %s", id)
		}

		w.Header().Set("Content-Type", "application/json")
		switch id {
		case "main-id":
			if r.URL.Query().Get("pageToken") == "" {
				fmt.Fprint(w, `{"nextPageToken":"p2","items":[
					{"id":"m1","summary":"Standup","start":{"dateTime":"2026-03-02T09:00:00Z"},"end":{"dateTime":"2026-03-02T09:15:00Z"}}
				]}`)
				return
			}
			fmt.Fprint(w, `{"items":[
				{"id":"m2","summary":"Gone","status":"cancelled"},
				{"id":"m3","summary":"Review","start":{"dateTime":"2026-03-02T14:00:00Z"},"end":{"dateTime":"2026-03-02T15:00:00Z"}}
			]}`)
		case "block-id":
			fmt.Fprint(w, `{"items":[
				{"id":"b1","summary":"Focus","start":{"dateTime":"2026-03-02T10:00:00Z"},"end":{"dateTime":"2026-03-02T12:00:00Z"}}
			]}`)
		default:
			t.Errorf("unexpected calendar queried: %s", id)
			fmt.Fprint(w, `{"items":[]}`)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGoogleSource(t *testing.T, srv *httptest.Server, calendars []string) *GoogleSource {
	t.Helper()
	s, err := NewGoogleSource(context.Background(), "google", calendars,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewGoogleSource: %v", err)
	}
	return s
}

func TestGoogleSourceFetch(t *testing.T) {
	srv := newGoogleTestServer(t, nil)
	s := newTestGoogleSource(t, srv, nil)

	events, err := s.Fetch(context.Background(),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	var ids []string
	for _, e := range events {
		ids = append(ids, e.UID)
	}
	if strings.Join(ids, ",") != "m1,m3,b1" {
		t.Fatalf("events = %v, want m1,m3,b1", ids)
	}
	if events[2].Calendar != "block" {
		t.Errorf("calendar = %q, want block", events[2].Calendar)
	}
}

func TestGoogleSourceSkipsFailingCalendar(t *testing.T) {
	srv := newGoogleTestServer(t, map[string]int{"block-id": http.StatusNotFound})
	s := newTestGoogleSource(t, srv, []string{"main", "block"})

	events, err := s.Fetch(context.Background(),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestGoogleSourceNoMatchingCalendars(t *testing.T) {
	srv := newGoogleTestServer(t, nil)
	s := newTestGoogleSource(t, srv, []string{"work"})

	_, err := s.Fetch(context.Background(), time.Now(), time.Now().Add(time.Hour))
	if !errors.Is(err, ErrNoMatchingCalendars) {
		t.Fatalf("err = %v, want ErrNoMatchingCalendars", err)
	}
}

func TestGoogleSourceCalendars(t *testing.T) {
	srv := newGoogleTestServer(t, nil)
	s := newTestGoogleSource(t, srv, nil)

	infos, err := s.Calendars(context.Background())
	if err != nil {
		t.Fatalf("Calendars: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("got %d calendars, want 3", len(infos))
	}
	if !infos[0].Primary || infos[0].Name != "Main" || infos[0].Source != "google" {
		t.Errorf("unexpected first calendar: %+v", infos[0])
	}
}

func TestWrapGoogleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "unauthorized", err: &googleapi.Error{Code: 401}, want: ErrUnauthorized},
		{name: "not found", err: &googleapi.Error{Code: 404}, want: ErrNotFound},
		{name: "too many requests", err: &googleapi.Error{Code: 429}, want: ErrRateLimited},
		{
			name: "quota as forbidden",
			err:  &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}},
			want: ErrRateLimited,
		},
		{name: "forbidden", err: &googleapi.Error{Code: 403}, want: ErrForbidden},
		{name: "wrapped", err: fmt.Errorf("list: %w", &googleapi.Error{Code: 401}), want: ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapGoogleError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("wrapGoogleError() = %v, want %v", got, tt.want)
			}
			var gerr *googleapi.Error
			if !errors.As(got, &gerr) {
				t.Errorf("original error lost from chain")
			}
		})
	}

	if wrapGoogleError(nil) != nil {
		t.Error("wrapGoogleError(nil) != nil")
	}
	plain := errors.New("boom")
	if wrapGoogleError(plain) != plain {
		t.Error("non-google errors should pass through")
	}
}

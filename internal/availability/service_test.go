package availability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/cpuguy83/calslots/internal/buffer"
	"github.com/cpuguy83/calslots/internal/calendar"
)

type stubSource struct {
	events     []calendar.Event
	err        error
	calls      int
	start, end time.Time
}

func (s *stubSource) Fetch(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	s.calls++
	s.start, s.end = start, end
	return s.events, s.err
}

func testDefaults() Defaults {
	return Defaults{
		Zone:         "Asia/Tokyo",
		WorkingHours: nineToSix(),
		MinDuration:  30 * time.Minute,
		MaxDays:      92,
		FetchPadding: 24 * time.Hour,
	}
}

func TestServiceFreeSlots(t *testing.T) {
	src := &stubSource{events: []calendar.Event{
		{Summary: "Lunch -B15A10", Start: may(1, 12, 0), End: may(1, 13, 0)},
		{Summary: "Focus (free)", Start: may(1, 9, 0), End: may(1, 18, 0), Transparent: true},
	}}
	svc := NewService(src, testDefaults())

	res, err := svc.FreeSlots(context.Background(), Query{StartDate: "2024-05-01", EndDate: "2024-05-01"})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}

	if res.Zone != "Asia/Tokyo" {
		t.Errorf("zone = %s, want default Asia/Tokyo", res.Zone)
	}
	checkSlots(t, res.Slots, []span{{may(1, 9, 0), may(1, 11, 45)}, {may(1, 13, 10), may(1, 18, 0)}})

	if want := may(1, 0, 0).Add(-24 * time.Hour); !src.start.Equal(want) {
		t.Errorf("fetch start = %s, want %s", src.start, want)
	}
	if want := may(2, 0, 0).Add(24 * time.Hour); !src.end.Equal(want) {
		t.Errorf("fetch end = %s, want %s", src.end, want)
	}
}

func TestServiceValidatesBeforeFetching(t *testing.T) {
	tests := []struct {
		name string
		q    Query
	}{
		{"bad zone", Query{StartDate: "2024-05-01", EndDate: "2024-05-02", Timezone: "Nowhere/City"}},
		{"missing start", Query{EndDate: "2024-05-02"}},
		{"end before start", Query{StartDate: "2024-05-03", EndDate: "2024-05-02"}},
		{"bad hours", Query{StartDate: "2024-05-01", EndDate: "2024-05-02", WorkStart: "19:00"}},
		{"too long", Query{StartDate: "2024-01-01", EndDate: "2024-12-31"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubSource{}
			_, err := NewService(src, testDefaults()).FreeSlots(context.Background(), tt.q)
			if !IsInvalidInput(err) {
				t.Fatalf("error = %v, want invalid input", err)
			}
			if src.calls != 0 {
				t.Errorf("source fetched %d times", src.calls)
			}
		})
	}
}

func TestServiceDaysQuery(t *testing.T) {
	src := &stubSource{}
	svc := NewService(src, testDefaults())
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC) }

	days := 2
	res, err := svc.FreeSlots(context.Background(), Query{Days: &days, WorkStart: "10:00"})
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}

	// 16:00 UTC is already May 2nd in Tokyo.
	if want := (DateRange{Start: date(2024, time.May, 2), End: date(2024, time.May, 4)}); res.Range != want {
		t.Errorf("range = %v, want %v", res.Range, want)
	}
	if len(res.Slots) != 3 {
		t.Fatalf("got %d slots, want 3", len(res.Slots))
	}
	if !res.Slots[0].Start.Equal(may(2, 10, 0)) || !res.Slots[0].End.Equal(may(2, 18, 0)) {
		t.Errorf("first slot = %v", res.Slots[0])
	}
}

func TestServiceFetchError(t *testing.T) {
	boom := errors.New("boom")
	src := &stubSource{err: boom}

	_, err := NewService(src, testDefaults()).FreeSlots(context.Background(), Query{StartDate: "2024-05-01", EndDate: "2024-05-01"})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped boom", err)
	}
	if IsInvalidInput(err) {
		t.Error("provider failure reported as invalid input")
	}
}

func TestServiceEvents(t *testing.T) {
	src := &stubSource{events: []calendar.Event{
		{Summary: "later", Start: may(2, 10, 0), End: may(2, 11, 0)},
		{Summary: "earlier", Start: may(1, 10, 0), End: may(1, 11, 0)},
		{Summary: "outside", Start: may(4, 10, 0), End: may(4, 11, 0)},
	}}

	res, err := NewService(src, testDefaults()).Events(context.Background(), Query{StartDate: "2024-05-01", EndDate: "2024-05-02"})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(res.Events) != 2 || res.Events[0].Summary != "earlier" || res.Events[1].Summary != "later" {
		t.Errorf("events = %+v", res.Events)
	}
	if !src.start.Equal(may(1, 0, 0)) || !src.end.Equal(may(3, 0, 0)) {
		t.Errorf("fetch window = [%s, %s)", src.start, src.end)
	}
}

func TestPlanKeepsDefaultHoursWhenUnset(t *testing.T) {
	plan, err := NewService(&stubSource{}, testDefaults()).Plan(Query{StartDate: "2024-05-01", EndDate: "2024-05-01", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.WorkingHours.Start != (civil.Time{Hour: 9}) || plan.WorkingHours.End != (civil.Time{Hour: 18}) {
		t.Errorf("working hours = %s", plan.WorkingHours)
	}
	if plan.Location.String() != "UTC" {
		t.Errorf("location = %s", plan.Location)
	}
}

func TestPlanWindowCoversLargestBuffer(t *testing.T) {
	defaults := testDefaults()
	defaults.FetchPadding = time.Hour

	plan, err := NewService(&stubSource{}, defaults).Plan(Query{StartDate: "2024-05-01", EndDate: "2024-05-01", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if want := day.Add(-buffer.Max); !plan.Window.Start.Equal(want) {
		t.Errorf("window start = %s, want %s", plan.Window.Start, want)
	}
	if want := day.Add(24 * time.Hour).Add(buffer.Max); !plan.Window.End.Equal(want) {
		t.Errorf("window end = %s, want %s", plan.Window.End, want)
	}

	// The capped buffer pulls this event back into the day, so it must be
	// fetched.
	start, end := day.Add(47*time.Hour), day.Add(48*time.Hour)
	padded, _ := buffer.Parse("Offsite -B9999A0").Apply(start, end)
	if !padded.Before(day.Add(24 * time.Hour)) {
		t.Fatalf("padded start %s does not reach the day", padded)
	}
	if !start.Before(plan.Window.End) {
		t.Errorf("window end %s excludes event at %s", plan.Window.End, start)
	}
}

func TestZonedMidnightEventKeepsInstants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.ics")
	data := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:offsite\r\n" +
		"SUMMARY:Offsite\r\n" +
		"DTSTART;TZID=Asia/Tokyo:20240510T000000\r\n" +
		"DTEND;TZID=Asia/Tokyo:20240511T000000\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	src := calendar.NewFileSource("local", path, time.UTC)
	events, err := src.Fetch(context.Background(),
		time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].AllDay {
		t.Fatalf("events = %+v, want one timed event", events)
	}

	req := Request{
		Range:        DateRange{Start: date(2024, time.May, 9), End: date(2024, time.May, 10)},
		WorkingHours: nineToSix(),
		Zone:         "UTC",
	}
	got, err := ComputeFreeSlots(req, ToBusy(events), defaultOpts)
	if err != nil {
		t.Fatalf("ComputeFreeSlots: %v", err)
	}

	utc := func(day, hour int) time.Time { return time.Date(2024, 5, day, hour, 0, 0, 0, time.UTC) }
	checkSlots(t, got, []span{
		{utc(9, 9), utc(9, 15)},
		{utc(10, 15), utc(10, 18)},
	})
}

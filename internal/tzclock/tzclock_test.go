package tzclock

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := Load(name)
	if err != nil {
		t.Fatalf("Load(%q): %v", name, err)
	}
	return loc
}

func TestLoad(t *testing.T) {
	for _, name := range []string{"Asia/Tokyo", "America/New_York", "UTC", "Europe/London"} {
		if _, err := Load(name); err != nil {
			t.Errorf("Load(%q) unexpected error: %v", name, err)
		}
	}

	for _, name := range []string{"", "Local", "Mars/Olympus", "Asia/Tokio"} {
		_, err := Load(name)
		var zerr *InvalidZoneError
		if !errors.As(err, &zerr) {
			t.Errorf("Load(%q) error = %v, want *InvalidZoneError", name, err)
			continue
		}
		if zerr.Zone != name {
			t.Errorf("InvalidZoneError.Zone = %q, want %q", zerr.Zone, name)
		}
	}
}

func TestToInstant(t *testing.T) {
	tests := []struct {
		name string
		zone string
		date civil.Date
		time civil.Time
		want time.Time
	}{
		{
			name: "tokyo morning",
			zone: "Asia/Tokyo",
			date: civil.Date{Year: 2024, Month: time.May, Day: 1},
			time: civil.Time{Hour: 9},
			want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "new york before spring forward",
			zone: "America/New_York",
			date: civil.Date{Year: 2024, Month: time.March, Day: 9},
			time: civil.Time{Hour: 9},
			want: time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC),
		},
		{
			name: "new york after spring forward",
			zone: "America/New_York",
			date: civil.Date{Year: 2024, Month: time.March, Day: 10},
			time: civil.Time{Hour: 9},
			want: time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC),
		},
		{
			name: "gap uses pre-transition offset",
			zone: "America/New_York",
			date: civil.Date{Year: 2024, Month: time.March, Day: 10},
			time: civil.Time{Hour: 2, Minute: 30},
			want: time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC),
		},
		{
			name: "fold picks standard time",
			zone: "America/New_York",
			date: civil.Date{Year: 2024, Month: time.November, Day: 3},
			time: civil.Time{Hour: 1, Minute: 30},
			want: time.Date(2024, 11, 3, 6, 30, 0, 0, time.UTC),
		},
		{
			name: "london fold",
			zone: "Europe/London",
			date: civil.Date{Year: 2024, Month: time.October, Day: 27},
			time: civil.Time{Hour: 1, Minute: 15},
			want: time.Date(2024, 10, 27, 1, 15, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := mustLoad(t, tt.zone)
			got := ToInstant(tt.date, tt.time, loc)
			if !got.Equal(tt.want) {
				t.Errorf("ToInstant(%s %s, %s) = %s, want %s", tt.date, tt.time, tt.zone, got.UTC(), tt.want)
			}
			if got.Location() != loc {
				t.Errorf("instant location = %v, want %v", got.Location(), loc)
			}
		})
	}
}

func TestGapRendersShiftedWallTime(t *testing.T) {
	loc := mustLoad(t, "America/New_York")
	d := civil.Date{Year: 2024, Month: time.March, Day: 10}

	got := ToCivil(ToInstant(d, civil.Time{Hour: 2, Minute: 30}, loc), loc)
	want := civil.DateTime{Date: d, Time: civil.Time{Hour: 3, Minute: 30}}
	if got != want {
		t.Errorf("gap wall time rendered as %s, want %s", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	zones := []string{"Asia/Tokyo", "America/New_York", "Europe/Berlin", "Australia/Lord_Howe", "Asia/Kolkata", "UTC"}
	start := civil.Date{Year: 2024, Month: time.January, Day: 1}

	for _, zone := range zones {
		loc := mustLoad(t, zone)
		for i := 0; i < 366; i += 5 {
			d := start.AddDays(i)
			for _, ct := range []civil.Time{{Hour: 0}, {Hour: 9, Minute: 15}, {Hour: 12}, {Hour: 18}, {Hour: 23, Minute: 59}} {
				got := ToCivil(ToInstant(d, ct, loc), loc)
				want := civil.DateTime{Date: d, Time: ct}
				if got != want {
					t.Errorf("%s: round trip of %s gave %s", zone, want, got)
				}
			}
		}
	}
}

func TestMidnight(t *testing.T) {
	loc := mustLoad(t, "Asia/Tokyo")
	got := Midnight(civil.Date{Year: 2024, Month: time.May, Day: 2}, loc)
	want := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Midnight = %s, want %s", got.UTC(), want)
	}
}

func TestToday(t *testing.T) {
	loc := mustLoad(t, "Asia/Tokyo")
	now := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)
	if got, want := Today(now, loc), (civil.Date{Year: 2024, Month: time.May, Day: 2}); got != want {
		t.Errorf("Today = %s, want %s", got, want)
	}
}

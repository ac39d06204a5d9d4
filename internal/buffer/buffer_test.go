package buffer

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		title string
		want  Spec
	}{
		{"Lunch -B15A10", Spec{Before: 15 * time.Minute, After: 10 * time.Minute}},
		{"-B5A0 standup", Spec{Before: 5 * time.Minute}},
		{"Test Event with Buffer -B15A10", Spec{Before: 15 * time.Minute, After: 10 * time.Minute}},
		{"Travel -B0A45", Spec{After: 45 * time.Minute}},
		{"Offsite -B120A60", Spec{Before: 2 * time.Hour, After: time.Hour}},
		{"first wins -B10A10 -B30A30", Spec{Before: 10 * time.Minute, After: 10 * time.Minute}},
		{"tab\t-B1A2\tseparated", Spec{Before: time.Minute, After: 2 * time.Minute}},
		{"Lunch-B15A10", Spec{Before: 15 * time.Minute, After: 10 * time.Minute}},
		{"Sync (-B15A10)", Spec{Before: 15 * time.Minute, After: 10 * time.Minute}},
		{"Review -B5A5, then lunch", Spec{Before: 5 * time.Minute, After: 5 * time.Minute}},
		{"Offsite -B2000A9999", Spec{Before: 24 * time.Hour, After: 24 * time.Hour}},
		{"Retreat -B1440A1441", Spec{Before: 24 * time.Hour, After: 24 * time.Hour}},

		{"", Spec{}},
		{"Lunch", Spec{}},
		{"Lunch -B15", Spec{}},
		{"Lunch -BxA10", Spec{}},
		{"Lunch -B15A", Spec{}},
		{"Lunch -B15A10x", Spec{}},
		{"Lunch -b15a10", Spec{}},
		{"Lunch -B-5A10", Spec{}},
		{"Lunch -B99999A1", Spec{}},
		{"Lunch -B15A10min", Spec{}},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got := Parse(tt.title)
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.title, got, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	s := Parse("Lunch -B15A10")
	gotStart, gotEnd := s.Apply(start, end)
	if want := time.Date(2024, 5, 1, 11, 45, 0, 0, time.UTC); !gotStart.Equal(want) {
		t.Errorf("start = %s, want %s", gotStart, want)
	}
	if want := time.Date(2024, 5, 1, 13, 10, 0, 0, time.UTC); !gotEnd.Equal(want) {
		t.Errorf("end = %s, want %s", gotEnd, want)
	}

	if !(Spec{}).IsZero() || s.IsZero() {
		t.Error("IsZero mismatch")
	}
}

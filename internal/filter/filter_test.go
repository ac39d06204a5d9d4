package filter

import (
	"testing"

	"github.com/cpuguy83/calslots/internal/calendar"
	"github.com/cpuguy83/calslots/internal/config"
)

var testEvents = []calendar.Event{
	{UID: "1", Summary: "Team standup", Organizer: "lead@example.com", Source: "work", Calendar: "main"},
	{UID: "2", Summary: "[FYI] Company all-hands", Source: "work", Calendar: "main"},
	{UID: "3", Summary: "Dentist", Location: "Downtown", Source: "personal", Calendar: "block"},
	{UID: "4", Summary: "Focus time", Source: "work", Calendar: "block"},
}

func uids(events []calendar.Event) string {
	var s string
	for _, e := range events {
		s += e.UID
	}
	return s
}

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.FilterConfig
		want string
	}{
		{
			name: "no rules",
			cfg:  config.FilterConfig{},
			want: "1234",
		},
		{
			name: "contains case insensitive",
			cfg: config.FilterConfig{Rules: []config.FilterRule{
				{Field: "title", Contains: "STANDUP", CaseInsensitive: true},
			}},
			want: "1",
		},
		{
			name: "or mode",
			cfg: config.FilterConfig{Mode: "or", Rules: []config.FilterRule{
				{Field: "location", Exact: "Downtown"},
				{Field: "title", Prefix: "Focus"},
			}},
			want: "34",
		},
		{
			name: "and mode",
			cfg: config.FilterConfig{Mode: "and", Rules: []config.FilterRule{
				{Field: "source", Exact: "work"},
				{Field: "calendar", Exact: "block"},
			}},
			want: "4",
		},
		{
			name: "exclude only",
			cfg: config.FilterConfig{Exclude: []config.FilterRule{
				{Field: "title", Prefix: "[FYI]"},
			}},
			want: "134",
		},
		{
			name: "include then exclude",
			cfg: config.FilterConfig{
				Rules:   []config.FilterRule{{Field: "source", Exact: "work"}},
				Exclude: []config.FilterRule{{Field: "title", Regex: `(?i)^focus`}},
			},
			want: "12",
		},
		{
			name: "suffix",
			cfg: config.FilterConfig{Rules: []config.FilterRule{
				{Field: "organizer", Suffix: "@example.com"},
			}},
			want: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.cfg)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := uids(f.Apply(testEvents)); got != tt.want {
				t.Errorf("Apply() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewErrors(t *testing.T) {
	tests := map[string]config.FilterConfig{
		"bad regex":     {Rules: []config.FilterRule{{Field: "title", Regex: "("}}},
		"no pattern":    {Rules: []config.FilterRule{{Field: "title"}}},
		"unknown field": {Rules: []config.FilterRule{{Field: "color", Contains: "red"}}},
		"bad mode":      {Mode: "xor"},
		"bad exclude":   {Exclude: []config.FilterRule{{Field: "title"}}},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := New(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNilFilterPassesThrough(t *testing.T) {
	var f *Filter
	if got := uids(f.Apply(testEvents)); got != "1234" {
		t.Errorf("Apply() = %q", got)
	}
}

// Package filter selects which calendar events count as busy.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cpuguy83/calslots/internal/calendar"
	"github.com/cpuguy83/calslots/internal/config"
)

// Filter keeps events that satisfy the include rules and none of the
// exclude rules.
type Filter struct {
	all     bool // include rules are ANDed instead of ORed
	include []predicate
	exclude []predicate
}

type predicate func(calendar.Event) bool

var fields = map[string]func(calendar.Event) string{
	"title":       func(e calendar.Event) string { return e.Summary },
	"summary":     func(e calendar.Event) string { return e.Summary },
	"organizer":   func(e calendar.Event) string { return e.Organizer },
	"source":      func(e calendar.Event) string { return e.Source },
	"calendar":    func(e calendar.Event) string { return e.Calendar },
	"description": func(e calendar.Event) string { return e.Description },
	"location":    func(e calendar.Event) string { return e.Location },
}

var errNoPattern = errors.New("no match pattern specified (use contains, exact, prefix, suffix, or regex)")

// New compiles cfg. Mode "and" requires every include rule to match;
// "or" (the default) requires any.
func New(cfg config.FilterConfig) (*Filter, error) {
	f := &Filter{}
	switch cfg.Mode {
	case "", "or":
	case "and":
		f.all = true
	default:
		return nil, fmt.Errorf("unknown filter mode %q", cfg.Mode)
	}

	var err error
	if f.include, err = compileAll("rule", cfg.Rules); err != nil {
		return nil, err
	}
	if f.exclude, err = compileAll("exclude rule", cfg.Exclude); err != nil {
		return nil, err
	}
	return f, nil
}

func compileAll(kind string, rules []config.FilterRule) ([]predicate, error) {
	out := make([]predicate, 0, len(rules))
	for i, r := range rules {
		p, err := compile(r)
		if err != nil {
			return nil, fmt.Errorf("%s %d: %w", kind, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func compile(r config.FilterRule) (predicate, error) {
	field, ok := fields[r.Field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", r.Field)
	}

	if r.Regex != "" {
		expr := r.Regex
		if r.CaseInsensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", r.Regex, err)
		}
		return func(e calendar.Event) bool { return re.MatchString(field(e)) }, nil
	}

	var (
		pattern string
		match   func(value, pattern string) bool
	)
	switch {
	case r.Exact != "":
		pattern, match = r.Exact, func(v, p string) bool { return v == p }
	case r.Prefix != "":
		pattern, match = r.Prefix, strings.HasPrefix
	case r.Suffix != "":
		pattern, match = r.Suffix, strings.HasSuffix
	case r.Contains != "":
		pattern, match = r.Contains, strings.Contains
	default:
		return nil, errNoPattern
	}

	if r.CaseInsensitive {
		pattern = strings.ToLower(pattern)
		return func(e calendar.Event) bool { return match(strings.ToLower(field(e)), pattern) }, nil
	}
	return func(e calendar.Event) bool { return match(field(e), pattern) }, nil
}

// Apply returns the events f keeps. A nil Filter keeps everything.
func (f *Filter) Apply(events []calendar.Event) []calendar.Event {
	if f == nil || (len(f.include) == 0 && len(f.exclude) == 0) {
		return events
	}

	var kept []calendar.Event
	for _, e := range events {
		if f.keep(e) {
			kept = append(kept, e)
		}
	}
	return kept
}

func (f *Filter) keep(e calendar.Event) bool {
	if len(f.include) > 0 {
		if f.all && !allMatch(f.include, e) {
			return false
		}
		if !f.all && !anyMatch(f.include, e) {
			return false
		}
	}
	return !anyMatch(f.exclude, e)
}

func allMatch(ps []predicate, e calendar.Event) bool {
	for _, p := range ps {
		if !p(e) {
			return false
		}
	}
	return true
}

func anyMatch(ps []predicate, e calendar.Event) bool {
	for _, p := range ps {
		if p(e) {
			return true
		}
	}
	return false
}

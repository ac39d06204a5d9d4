package calendar

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	ics "github.com/emersion/go-ical"
)

// icsParser turns VEVENT components into events overlapping [start, end).
type icsParser struct {
	source   string
	calendar string
	loc      *time.Location
	start    time.Time
	end      time.Time
}

func (p icsParser) decode(r io.Reader) ([]Event, error) {
	dec := ics.NewDecoder(r)

	var events []Event
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode ICS: %w", err)
		}
		events = append(events, p.calendarEvents(cal)...)
	}
	return events, nil
}

func (p icsParser) calendarEvents(cal *ics.Calendar) []Event {
	var events []Event
	for _, comp := range cal.Children {
		if comp.Name != ics.CompEvent {
			continue
		}

		parsed, err := p.parseEvent(comp)
		if err != nil {
			slog.Debug("skip unparseable event", "source", p.source, "error", err)
			continue
		}
		events = append(events, parsed...)
	}
	return events
}

// parseEvent converts a VEVENT to events. Recurring events are expanded
// to their occurrences inside the parser's range.
func (p icsParser) parseEvent(comp *ics.Component) ([]Event, error) {
	if status := textProp(comp, ics.PropStatus); strings.EqualFold(status, "CANCELLED") {
		return nil, nil
	}

	base := Event{
		UID:         textProp(comp, ics.PropUID),
		Summary:     textProp(comp, ics.PropSummary),
		Description: textProp(comp, ics.PropDescription),
		Location:    textProp(comp, ics.PropLocation),
		URL:         textProp(comp, ics.PropURL),
		Organizer:   strings.TrimPrefix(textProp(comp, ics.PropOrganizer), "mailto:"),
		Transparent: strings.EqualFold(textProp(comp, ics.PropTransparency), "TRANSPARENT"),
		Source:      p.source,
		Calendar:    p.calendar,
	}

	startProp := comp.Props.Get(ics.PropDateTimeStart)
	if startProp == nil {
		return nil, fmt.Errorf("event %q has no DTSTART", base.UID)
	}
	start, isAllDay, err := p.timeProp(startProp)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}

	var duration time.Duration
	switch {
	case comp.Props.Get(ics.PropDateTimeEnd) != nil:
		end, _, err := p.timeProp(comp.Props.Get(ics.PropDateTimeEnd))
		if err != nil {
			return nil, fmt.Errorf("parse end time: %w", err)
		}
		duration = end.Sub(start)
	case comp.Props.Get(ics.PropDuration) != nil:
		duration, err = parseICSDuration(comp.Props.Get(ics.PropDuration).Value)
		if err != nil {
			return nil, fmt.Errorf("parse duration: %w", err)
		}
	case isAllDay:
		duration = 24 * time.Hour
	}

	rset, err := comp.RecurrenceSet(p.loc)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence: %w", err)
	}

	if rset == nil {
		base.Start = start
		base.End = start.Add(duration)
		base.AllDay = isAllDay
		if !base.Overlaps(p.start, p.end) {
			return nil, nil
		}
		return []Event{base}, nil
	}

	// Occurrences that started before the range may still reach into it.
	occurrences := rset.Between(p.start.Add(-duration), p.end, true)

	var events []Event
	for _, occ := range occurrences {
		event := base
		if isAllDay {
			occ = time.Date(occ.Year(), occ.Month(), occ.Day(), 0, 0, 0, 0, time.UTC)
		}
		event.Start = occ
		event.End = occ.Add(duration)
		event.AllDay = isAllDay
		event.UID = fmt.Sprintf("%s_%d", base.UID, occ.Unix())
		if !event.Overlaps(p.start, p.end) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// timeProp reads a DATE or DATE-TIME property. DATE values become UTC
// midnight and are reported as all-day.
func (p icsParser) timeProp(prop *ics.Prop) (time.Time, bool, error) {
	if isDateValue(prop) {
		t, err := time.ParseInLocation("20060102", prop.Value, time.UTC)
		return t, true, err
	}
	t, err := prop.DateTime(p.loc)
	if err != nil {
		// floating time without a usable TZID
		t, err = time.ParseInLocation("20060102T150405", strings.TrimSuffix(prop.Value, "Z"), p.loc)
		if err != nil {
			return time.Time{}, false, err
		}
	}
	return t, false, nil
}

func isDateValue(prop *ics.Prop) bool {
	return strings.EqualFold(prop.Params.Get(ics.ParamValue), "DATE") || len(prop.Value) == len("20060102")
}

func textProp(comp *ics.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}

var icsDurationRE = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseICSDuration parses an RFC 5545 DURATION value such as PT1H30M or P1D.
func parseICSDuration(s string) (time.Duration, error) {
	m := icsDurationRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var (
		d    time.Duration
		seen bool
	)
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		seen = true
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d += time.Duration(n) * unit
	}
	if !seen {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

package calendar

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	ics "github.com/emersion/go-ical"
)

const productID = "-//calslots//calslots//EN"

// EncodeICS writes events as a VCALENDAR to w.
func EncodeICS(w io.Writer, events []Event) error {
	cal := ics.NewCalendar()
	cal.Props.SetText(ics.PropVersion, "2.0")
	cal.Props.SetText(ics.PropProductID, productID)

	stamp := time.Now().UTC()
	for _, e := range events {
		cal.Children = append(cal.Children, vevent(e, stamp))
	}

	if err := ics.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode ICS: %w", err)
	}
	return nil
}

func vevent(e Event, stamp time.Time) *ics.Component {
	comp := ics.NewComponent(ics.CompEvent)
	props := comp.Props

	props.SetText(ics.PropUID, e.UID)
	props.SetText(ics.PropSummary, e.Summary)
	props.SetDateTime(ics.PropDateTimeStamp, stamp)

	if e.AllDay {
		props.SetDate(ics.PropDateTimeStart, e.Start)
		props.SetDate(ics.PropDateTimeEnd, e.End)
	} else {
		props.SetDateTime(ics.PropDateTimeStart, e.Start)
		props.SetDateTime(ics.PropDateTimeEnd, e.End)
	}

	optional := []struct{ name, value string }{
		{ics.PropDescription, e.Description},
		{ics.PropLocation, e.Location},
		{ics.PropURL, e.URL},
	}
	for _, p := range optional {
		if p.value != "" {
			props.SetText(p.name, p.value)
		}
	}
	if e.Organizer != "" {
		props.SetText(ics.PropOrganizer, "mailto:"+e.Organizer)
	}
	if e.Transparent {
		props.SetText(ics.PropTransparency, "TRANSPARENT")
	}
	return comp
}

// WriteICS replaces the file at path with events. The new content is
// written to a temporary file in the same directory and renamed into place.
func WriteICS(path string, events []Event) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeICS(tmp, events); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

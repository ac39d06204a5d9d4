package server

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/cpuguy83/calslots/internal/availability"
	"github.com/cpuguy83/calslots/internal/calendar"
	"github.com/cpuguy83/calslots/internal/links"
	"github.com/cpuguy83/calslots/internal/tzclock"
)

type timeRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type slotJSON struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"durationMinutes"`
}

type freeSlotsResponse struct {
	Success   bool          `json:"success"`
	TimeRange timeRangeJSON `json:"timeRange"`
	Timezone  string        `json:"timezone"`
	Count     int           `json:"count"`
	FreeSlots []slotJSON    `json:"freeSlots"`
}

type eventJSON struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Start       string `json:"start"`
	End         string `json:"end"`
	AllDay      bool   `json:"allDay"`
	Transparent bool   `json:"transparent,omitempty"`
	Location    string `json:"location,omitempty"`
	Calendar    string `json:"calendar,omitempty"`
	Source      string `json:"source"`

	MeetingURL     string `json:"meetingUrl,omitempty"`
	MeetingService string `json:"meetingService,omitempty"`
}

type eventsResponse struct {
	Success   bool          `json:"success"`
	TimeRange timeRangeJSON `json:"timeRange"`
	Timezone  string        `json:"timezone"`
	Count     int           `json:"count"`
	Events    []eventJSON   `json:"events"`
}

type calendarsResponse struct {
	Success   bool            `json:"success"`
	Count     int             `json:"count"`
	Calendars []calendar.Info `json:"calendars"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// rangeJSON renders the days of r as [first midnight, midnight after the
// last day) in loc.
func rangeJSON(r availability.DateRange, loc *time.Location) timeRangeJSON {
	return timeRangeJSON{
		Start: tzclock.Midnight(r.Start, loc).Format(time.RFC3339),
		End:   tzclock.Midnight(r.End.AddDays(1), loc).Format(time.RFC3339),
	}
}

func (s *Server) freeSlots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, err := decodeRequest(r, s.validate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.svc.FreeSlots(r.Context(), req.query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	loc, err := tzclock.Load(res.Zone)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slots := make([]slotJSON, 0, len(res.Slots))
	for _, slot := range res.Slots {
		slots = append(slots, slotJSON{
			Start:           slot.Start.In(loc).Format(time.RFC3339),
			End:             slot.End.In(loc).Format(time.RFC3339),
			DurationMinutes: int(slot.Duration() / time.Minute),
		})
	}

	writeJSON(w, http.StatusOK, freeSlotsResponse{
		Success:   true,
		TimeRange: rangeJSON(res.Range, loc),
		Timezone:  res.Zone,
		Count:     len(slots),
		FreeSlots: slots,
	})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, err := decodeRequest(r, s.validate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.svc.Events(r.Context(), req.query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	loc, err := tzclock.Load(res.Zone)
	if err != nil {
		writeError(w, r, err)
		return
	}

	events := make([]eventJSON, 0, len(res.Events))
	for _, e := range res.Events {
		ej := eventJSON{
			ID:          e.UID,
			Summary:     e.Summary,
			AllDay:      e.WholeDays(),
			Transparent: e.Transparent,
			Location:    e.Location,
			Calendar:    e.Calendar,
			Source:      e.Source,
		}
		if m, ok := links.Find(e); ok {
			ej.MeetingURL = m.URL
			ej.MeetingService = m.Service
		}
		if ej.AllDay {
			ej.Start = e.Start.Format(time.DateOnly)
			ej.End = e.End.Format(time.DateOnly)
		} else {
			ej.Start = e.Start.In(loc).Format(time.RFC3339)
			ej.End = e.End.In(loc).Format(time.RFC3339)
		}
		events = append(events, ej)
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Success:   true,
		TimeRange: rangeJSON(res.Range, loc),
		Timezone:  res.Zone,
		Count:     len(events),
		Events:    events,
	})
}

func (s *Server) listCalendars(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.calendars == nil {
		writeError(w, r, availability.ErrNoCalendars)
		return
	}

	infos, err := s.calendars.Calendars(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []calendar.Info{}
	}

	writeJSON(w, http.StatusOK, calendarsResponse{
		Success:   true,
		Count:     len(infos),
		Calendars: infos,
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
}

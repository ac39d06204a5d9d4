// Package links finds video meeting URLs in calendar events.
package links

import (
	"regexp"

	"github.com/cpuguy83/calslots/internal/calendar"
)

// Meeting is a detected conference link.
type Meeting struct {
	URL     string
	Service string
}

type service struct {
	name    string
	pattern *regexp.Regexp
}

// Known services, checked before the generic URL fallback.
var services = []service{
	{"Zoom", regexp.MustCompile(`https?://[\w.-]*zoom\.us/(?:j|my|w)/[\w?=&.-]+`)},
	{"Teams", regexp.MustCompile(`https?://teams\.(?:microsoft|live)\.com/(?:l/meetup-join|meet)/[\w%/.?=&-]+`)},
	{"Meet", regexp.MustCompile(`https?://meet\.google\.com/[\w-]+`)},
	{"Webex", regexp.MustCompile(`https?://[\w.-]*\.webex\.com/[\w./?=&-]+`)},
}

var genericURL = regexp.MustCompile(`https?://[^\s<>"]+`)

// Find returns the meeting link of e. The URL field wins when it points at
// a known service, then the location, then the description. A plain URL
// is only used when no known service appears anywhere.
func Find(e calendar.Event) (Meeting, bool) {
	if m, ok := known(e.URL); ok {
		return m, true
	}
	for _, text := range []string{e.Location, e.Description} {
		if m, ok := known(text); ok {
			return m, true
		}
	}
	for _, text := range []string{e.Location, e.Description} {
		if u := genericURL.FindString(text); u != "" {
			return Meeting{URL: u, Service: "Meeting"}, true
		}
	}
	return Meeting{}, false
}

func known(text string) (Meeting, bool) {
	if text == "" {
		return Meeting{}, false
	}
	for _, s := range services {
		if u := s.pattern.FindString(text); u != "" {
			return Meeting{URL: u, Service: s.name}, true
		}
	}
	return Meeting{}, false
}

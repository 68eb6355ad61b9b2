package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "daybrief/internal/log"
)

// VEvent is the subset of a VEVENT needed to list upcoming events.
type VEvent struct {
	Feed     Feed
	UID      string
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set on a VEVENT that replaces one instance of a
	// recurring series.
	RecurrenceID *time.Time
}

// Parse decodes one feed body. A VEVENT that cannot be read is logged and
// skipped; only an unreadable calendar fails the whole document.
func Parse(doc Document, loc *time.Location) ([]VEvent, error) {
	if len(doc.Body) == 0 {
		return nil, errors.New("empty calendar body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, err
	}

	events := make([]VEvent, 0, len(cal.Events()))
	for _, comp := range cal.Events() {
		ev, err := readVEvent(doc.Feed, comp, loc)
		if err != nil {
			appLog.Warn("skipping vevent", "feed", doc.Feed.ID, "reason", err.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parsed", "feed", doc.Feed.ID, "events", len(events))
	return events, nil
}

func readVEvent(feed Feed, comp *ical.VEvent, loc *time.Location) (VEvent, error) {
	ev := VEvent{Feed: feed}

	uid := comp.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value

	if p := comp.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = unescape(p.Value)
	}
	if p := comp.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = unescape(p.Value)
	}

	dtStart := comp.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, errors.New("missing DTSTART")
	}
	ev.AllDay = isDateValue(dtStart)

	start, err := comp.GetStartAt()
	if err != nil {
		return ev, err
	}
	ev.Start = start

	end, err := comp.GetEndAt()
	switch {
	case err == nil:
		ev.End = end
	case ev.AllDay:
		ev.End = start.AddDate(0, 0, 1)
	default:
		ev.End = start
	}

	if p := comp.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}

	for _, p := range comp.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseDateTime(strings.TrimSpace(part), tzid(p, loc)); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}

	if p := comp.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, err := parseDateTime(p.Value, tzid(p, loc)); err == nil {
			ev.RecurrenceID = &t
		}
	}

	return ev, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// tzid resolves the property's TZID parameter, falling back to loc.
func tzid(p *ical.IANAProperty, loc *time.Location) *time.Location {
	if vs := p.ICalParameters["TZID"]; len(vs) > 0 {
		if l, err := time.LoadLocation(vs[0]); err == nil {
			return l
		}
	}
	return loc
}

// parseDateTime reads the DATE and DATE-TIME forms used by EXDATE and
// RECURRENCE-ID.
func parseDateTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, errors.New("empty value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

var textUnescaper = strings.NewReplacer(`\,`, ",", `\;`, ";", `\n`, " ", `\N`, " ", `\\`, `\`)

func unescape(s string) string {
	return strings.TrimSpace(textUnescaper.Replace(s))
}

package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "daybrief/internal/log"
	"daybrief/internal/model"
)

const maxInstancesPerSeries = 1000

// Window is the half-open range [From, To) instances must overlap.
type Window struct {
	From time.Time
	To   time.Time
}

// Instance is one concrete occurrence of a VEvent.
type Instance struct {
	FeedID   string
	UID      string
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

// CalendarEvent converts the instance to the shared event shape. All-day
// instances carry bare dates.
func (in Instance) CalendarEvent() model.CalendarEvent {
	ev := model.CalendarEvent{
		Summary:  in.Summary,
		Location: model.StringPtr(in.Location),
	}
	if ev.Summary == "" {
		ev.Summary = "(no title)"
	}
	if in.AllDay {
		ev.StartTime = model.StringPtr(in.Start.Format(time.DateOnly))
		ev.EndTime = model.StringPtr(in.End.Format(time.DateOnly))
	} else {
		ev.StartTime = model.StringPtr(model.FormatTime(in.Start))
		ev.EndTime = model.StringPtr(model.FormatTime(in.End))
	}
	return ev
}

// Expand turns parsed events into instances overlapping w, converted to loc
// and sorted by start time. RRULE series honour EXDATE and RECURRENCE-ID
// overrides; a series is capped at maxInstancesPerSeries.
func Expand(events []VEvent, w Window, loc *time.Location) ([]Instance, error) {
	if !w.To.After(w.From) {
		return nil, errors.New("expand: empty window")
	}
	if loc == nil {
		loc = time.Local
	}

	type seriesKey struct{ feed, uid string }
	overrides := make(map[seriesKey][]VEvent)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			k := seriesKey{ev.Feed.ID, ev.UID}
			overrides[k] = append(overrides[k], ev)
		}
	}

	var out []Instance
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			continue
		}
		ovs := overrides[seriesKey{ev.Feed.ID, ev.UID}]
		if ev.RRule == "" {
			if overlaps(ev.Start, ev.End, w) {
				out = append(out, instanceOf(ev, ev.Start, ev.End, loc))
			}
			continue
		}
		out = append(out, expandSeries(ev, ovs, w, loc)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].Summary < out[j].Summary
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func expandSeries(ev VEvent, overrides []VEvent, w Window, loc *time.Location) []Instance {
	rule, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("skipping series with bad RRULE", "uid", ev.UID, "rrule", ev.RRule, "reason", err.Error())
		return nil
	}
	rule.DTStart(ev.Start)

	set := &rrule.Set{}
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Start the search one duration early so instances already in
	// progress at w.From are included.
	starts := set.Between(w.From.Add(-dur), w.To, true)
	if len(starts) > maxInstancesPerSeries {
		appLog.Warn("series truncated", "uid", ev.UID, "cap", maxInstancesPerSeries)
		starts = starts[:maxInstancesPerSeries]
	}

	out := make([]Instance, 0, len(starts))
	used := make([]bool, len(overrides))
	for _, s := range starts {
		if i, ok := overrideAt(overrides, s); ok {
			used[i] = true
			if overlaps(overrides[i].Start, overrides[i].End, w) {
				out = append(out, instanceOf(overrides[i], overrides[i].Start, overrides[i].End, loc))
			}
			continue
		}
		end := s.Add(dur)
		if ev.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			end = s.AddDate(0, 0, max(1, int(dur.Hours()/24)))
		}
		if overlaps(s, end, w) {
			out = append(out, instanceOf(ev, s, end, loc))
		}
	}

	// An override can move an instance from outside the window into it.
	for i, ov := range overrides {
		if !used[i] && overlaps(ov.Start, ov.End, w) {
			out = append(out, instanceOf(ov, ov.Start, ov.End, loc))
		}
	}
	return out
}

func overrideAt(overrides []VEvent, start time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.RecurrenceID.Equal(start) {
			return i, true
		}
	}
	return -1, false
}

func instanceOf(ev VEvent, start, end time.Time, loc *time.Location) Instance {
	in := Instance{
		FeedID:   ev.Feed.ID,
		UID:      ev.UID,
		Summary:  ev.Summary,
		Location: ev.Location,
		Start:    start,
		End:      end,
		AllDay:   ev.AllDay,
	}
	// All-day dates stay on their calendar day.
	if !ev.AllDay {
		in.Start = start.In(loc)
		in.End = end.In(loc)
	}
	return in
}

// overlaps treats a zero-length event as an instant.
func overlaps(start, end time.Time, w Window) bool {
	if end.Equal(start) {
		return !start.Before(w.From) && start.Before(w.To)
	}
	return start.Before(w.To) && end.After(w.From)
}

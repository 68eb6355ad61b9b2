package model

import "time"

// CalendarEvent is the calendar entry shape exchanged with the calendar
// providers and embedded in every model payload. StartTime/EndTime are
// RFC3339 timestamps; nil means the event is unscheduled.
type CalendarEvent struct {
	Summary   string  `json:"summary" validate:"required"`
	StartTime *string `json:"startTime,omitempty" validate:"omitempty,iso8601"`
	EndTime   *string `json:"endTime,omitempty" validate:"omitempty,iso8601"`
	Location  *string `json:"location,omitempty"`
}

// Start parses StartTime. ok is false for unscheduled events.
func (e CalendarEvent) Start() (t time.Time, ok bool) {
	return parseOptional(e.StartTime)
}

// End parses EndTime. ok is false for unscheduled events.
func (e CalendarEvent) End() (t time.Time, ok bool) {
	return parseOptional(e.EndTime)
}

// InsertedEvent describes an event after a provider persisted it.
type InsertedEvent struct {
	ID   string `json:"id"`
	Link string `json:"link,omitempty"`
}

// WeatherSnapshot is the current weather reading. ConditionCode follows
// the OpenWeather condition id families (2xx thunderstorm ... 80x clouds).
type WeatherSnapshot struct {
	Temperature   float64 `json:"temperature"`
	ConditionCode int32   `json:"conditionCode"`
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FormatTime renders t in the wire format used by CalendarEvent.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseTime accepts full RFC3339 timestamps and bare dates (all-day events).
// Timestamps without an offset are read as UTC.
func ParseTime(s string) (time.Time, error) {
	return ParseTimeIn(s, time.UTC)
}

// ParseTimeIn is ParseTime with timestamps and dates that carry no offset
// read as wall-clock time in loc.
func ParseTimeIn(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}

func parseOptional(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	t, err := ParseTime(*s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

package intent

import (
	"encoding/json"
	"fmt"

	"daybrief/internal/model"
)

// Payload is the outgoing side of an intent. Only the types in this file
// implement it.
type Payload interface {
	Intent() Intent
	payload()
}

// EventPatch is a partial CalendarEvent: every field is optional.
type EventPatch struct {
	Summary   *string `json:"summary,omitempty" validate:"omitempty,notblank"`
	StartTime *string `json:"startTime,omitempty" validate:"omitempty,iso8601"`
	EndTime   *string `json:"endTime,omitempty" validate:"omitempty,iso8601"`
	Location  *string `json:"location,omitempty"`
}

type AddEventPayload struct {
	Events      []model.CalendarEvent `json:"events" validate:"dive"`
	NewEvent    model.CalendarEvent   `json:"newEvent"`
	CurrentDate string                `json:"currentDate" validate:"required,iso8601"`
}

type UpdateEventPayload struct {
	Events      []model.CalendarEvent `json:"events" validate:"dive"`
	EventID     string                `json:"eventId" validate:"required"`
	Updates     EventPatch            `json:"updates"`
	CurrentDate string                `json:"currentDate" validate:"required,iso8601"`
}

type CancelEventPayload struct {
	Events      []model.CalendarEvent `json:"events" validate:"dive"`
	EventID     string                `json:"eventId" validate:"required"`
	CurrentDate string                `json:"currentDate" validate:"required,iso8601"`
}

type FeedbackPayload struct {
	EventID     string `json:"eventId" validate:"required"`
	Feedback    string `json:"feedback" validate:"required,notblank"`
	CurrentDate string `json:"currentDate" validate:"required,iso8601"`
}

func (AddEventPayload) Intent() Intent    { return AddEvent }
func (UpdateEventPayload) Intent() Intent { return UpdateEvent }
func (CancelEventPayload) Intent() Intent { return CancelEvent }
func (FeedbackPayload) Intent() Intent    { return Feedback }

func (AddEventPayload) payload()    {}
func (UpdateEventPayload) payload() {}
func (CancelEventPayload) payload() {}
func (FeedbackPayload) payload()    {}

// ApplyDefaults sends an empty list rather than null when there are no events.
func (p *AddEventPayload) ApplyDefaults() {
	if p.Events == nil {
		p.Events = []model.CalendarEvent{}
	}
}

func (p *UpdateEventPayload) ApplyDefaults() {
	if p.Events == nil {
		p.Events = []model.CalendarEvent{}
	}
}

func (p *CancelEventPayload) ApplyDefaults() {
	if p.Events == nil {
		p.Events = []model.CalendarEvent{}
	}
}

// SummarizerPayload is what the summarizer prompt receives. It is derived
// from the two cache entries and the wall clock and never stored.
type SummarizerPayload struct {
	CurrentCondition   string                `json:"currentCondition" validate:"required"`
	CurrentTemperature float64               `json:"currentTemperature"`
	Events             []model.CalendarEvent `json:"events" validate:"dive"`
	CurrentDate        string                `json:"currentDate" validate:"required,iso8601"`
}

func (p *SummarizerPayload) ApplyDefaults() {
	if p.Events == nil {
		p.Events = []model.CalendarEvent{}
	}
}

// Value is the incoming side of an intent, one type per intent.
type Value interface {
	resultOf() Intent
}

// AddEventResult is the model's proposed slot for a new event.
type AddEventResult struct {
	StartTime string `json:"startTime" validate:"required,iso8601"`
	EndTime   string `json:"endTime" validate:"required,iso8601"`
	Message   string `json:"message" validate:"required,notblank"`
}

type UpdateEventResult struct {
	EventID string     `json:"eventId" validate:"required"`
	Updates EventPatch `json:"updates"`
}

type CancelEventResult struct {
	EventID string `json:"eventId" validate:"required"`
	Success *bool  `json:"success" validate:"required"`
}

type FeedbackResult struct {
	EventID   string `json:"eventId" validate:"required"`
	Processed *bool  `json:"processed" validate:"required"`
}

func (AddEventResult) resultOf() Intent    { return AddEvent }
func (UpdateEventResult) resultOf() Intent { return UpdateEvent }
func (CancelEventResult) resultOf() Intent { return CancelEvent }
func (FeedbackResult) resultOf() Intent    { return Feedback }

// Result is the tagged outcome of one routed intent. Value's concrete type
// always matches Type.
type Result struct {
	Type  Intent `json:"type"`
	Value Value  `json:"result"`
}

// AddEvent returns the ADD_EVENT result, or false for any other type.
func (r Result) AddEvent() (AddEventResult, bool) {
	v, ok := r.Value.(AddEventResult)
	return v, ok && r.Type == AddEvent
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type   string          `json:"type"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	in, err := Parse(wire.Type)
	if err != nil {
		return err
	}

	switch in {
	case AddEvent:
		var v AddEventResult
		err = json.Unmarshal(wire.Result, &v)
		r.Value = v
	case UpdateEvent:
		var v UpdateEventResult
		err = json.Unmarshal(wire.Result, &v)
		r.Value = v
	case CancelEvent:
		var v CancelEventResult
		err = json.Unmarshal(wire.Result, &v)
		r.Value = v
	case Feedback:
		var v FeedbackResult
		err = json.Unmarshal(wire.Result, &v)
		r.Value = v
	}
	if err != nil {
		return fmt.Errorf("decode %s result: %w", in, err)
	}
	r.Type = in
	return nil
}

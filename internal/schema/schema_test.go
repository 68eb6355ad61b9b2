package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daybrief/internal/model"
)

type testPayload struct {
	Events      []model.CalendarEvent `json:"events" validate:"dive"`
	NewEvent    model.CalendarEvent   `json:"newEvent"`
	CurrentDate string                `json:"currentDate" validate:"required,iso8601"`
	Priority    string                `json:"priority" validate:"oneof=low high"`
}

func (p *testPayload) ApplyDefaults() {
	if p.Events == nil {
		p.Events = []model.CalendarEvent{}
	}
	if p.Priority == "" {
		p.Priority = "low"
	}
}

func TestValidate_NormalizesAndDropsUnknownFields(t *testing.T) {
	p := New()
	in := map[string]any{
		"newEvent":    map[string]any{"summary": "dentist", "colour": "red"},
		"currentDate": "2025-03-01T09:00:00Z",
		"extra":       true,
	}

	out, err := Validate[testPayload](p, "test", in)
	require.NoError(t, err)
	assert.Equal(t, "dentist", out.NewEvent.Summary)
	assert.Equal(t, []model.CalendarEvent{}, out.Events)
	assert.Equal(t, "low", out.Priority)

	// Input is untouched.
	assert.Contains(t, in, "extra")
	assert.NotContains(t, in, "priority")
}

func TestValidate_AcceptsRawJSONAndTypedValues(t *testing.T) {
	p := New()
	raw := []byte(`{"newEvent":{"summary":"gym"},"currentDate":"2025-03-01"}`)

	fromRaw, err := Validate[testPayload](p, "test", raw)
	require.NoError(t, err)

	fromTyped, err := Validate[testPayload](p, "test", fromRaw)
	require.NoError(t, err)
	assert.Equal(t, fromRaw, fromTyped)

	_, err = Validate[testPayload](p, "test", json.RawMessage(raw))
	require.NoError(t, err)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		field string
		rule  string
	}{
		{"missing currentDate", `{"newEvent":{"summary":"a"}}`, "currentDate", "required"},
		{"bad currentDate", `{"newEvent":{"summary":"a"},"currentDate":"tomorrow"}`, "currentDate", "iso8601"},
		{"missing summary", `{"newEvent":{},"currentDate":"2025-03-01"}`, "newEvent.summary", "required"},
		{"bad nested event time", `{"events":[{"summary":"x","startTime":"noon"}],"newEvent":{"summary":"a"},"currentDate":"2025-03-01"}`, "events[0].startTime", "iso8601"},
		{"wrong type", `{"newEvent":{"summary":"a"},"currentDate":42}`, "currentDate", "type"},
		{"oneof", `{"newEvent":{"summary":"a"},"currentDate":"2025-03-01","priority":"urgent"}`, "priority", "oneof"},
		{"case-folded key", `{"newEvent":{"summary":"a"},"CURRENTDATE":"2025-03-01"}`, "CURRENTDATE", "case"},
		{"case-folded nested key", `{"newEvent":{"Summary":"a"},"currentDate":"2025-03-01"}`, "newEvent.Summary", "case"},
		{"case-folded key in list", `{"events":[{"summary":"x","StartTime":"2025-03-01"}],"newEvent":{"summary":"a"},"currentDate":"2025-03-01"}`, "events[0].StartTime", "case"},
		{"duplicate key", `{"newEvent":{"summary":"a"},"currentDate":"2025-03-01","currentDate":"2025-03-02"}`, "currentDate", "duplicate"},
		{"null", `null`, "", "required"},
		{"not an object", `[1,2]`, "", "type"},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate[testPayload](p, "test", []byte(tt.in))
			require.Error(t, err)

			var serr *Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, "test", serr.Schema)
			assert.Equal(t, tt.field, serr.Field)
			assert.Equal(t, tt.rule, serr.Rule)
			assert.NotEmpty(t, serr.Message)
		})
	}
}

func TestValidate_NotBlank(t *testing.T) {
	type result struct {
		Message string `json:"message" validate:"required,notblank"`
	}
	p := New()

	_, err := Validate[result](p, "result", map[string]any{"message": "   "})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "notblank", serr.Rule)
	assert.Contains(t, serr.Error(), "schema result")
}

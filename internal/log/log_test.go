package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelsAndKeyValues(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	SetLevel(LevelInfo)
	Debug("hidden debug line")
	Info("cache hit", "kind", "weather")
	Error("fetch failed", errors.New("boom"), "kind", "events")

	out := buf.String()
	assert.NotContains(t, out, "hidden debug line")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "cache hit")
	assert.Contains(t, out, `"kind": "weather"`)
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, `"err": "boom"`)

	buf.Reset()
	SetLevel(LevelDebug)
	Debug("visible debug line")
	assert.Contains(t, buf.String(), "visible debug line")
	SetLevel(LevelInfo)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

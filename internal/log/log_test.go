package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetLevel(LevelInfo)

	SetLevel(LevelWarn)
	Info("hidden line")
	Warn("calendar degraded", "agent", "a1")
	Error("load failed", errors.New("boom"), "agent", "a2", "dangling")

	out := buf.String()
	assert.NotContains(t, out, "hidden line")
	assert.Contains(t, out, "calendar degraded")
	assert.Contains(t, out, "agent=a1")
	assert.Contains(t, out, "err=boom")
	assert.Contains(t, out, "agent=a2")
	assert.NotContains(t, out, "dangling")
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcal/internal/model"
)

func writeConfig(t *testing.T, calendars string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf(`
log_level: error
calendars_dir: %q
agents:
  - id: a1
    name: Alex
  - id: a2
    name: Bo
mock:
  enabled: false
digest:
  cron: ""
`, calendars)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func event(uid string, start, end time.Time) string {
	const layout = "20060102T150405Z"
	return "BEGIN:VEVENT\r\nUID:" + uid + "\r\nSUMMARY:Busy\r\n" +
		"DTSTART:" + start.UTC().Format(layout) + "\r\nDTEND:" + end.UTC().Format(layout) + "\r\nEND:VEVENT\r\n"
}

func writeCalendar(t *testing.T, dir, agentID string, events ...string) {
	t.Helper()
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//agentcal//test//EN\r\n" +
		strings.Join(events, "") + "END:VCALENDAR\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, agentID+".ics"), []byte(body), 0o600))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	calendars := t.TempDir()
	writeCalendar(t, calendars, "a1",
		event("1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	cfg := writeConfig(t, calendars)

	out, err := run(t, "--config", cfg, "check", "--agent", "a1", "--at", "2026-03-02T09:30:00Z", "--duration", "30")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, false, res["available"])

	out, err = run(t, "--config", cfg, "check", "--agent", "a1", "--at", "2026-03-02T10:00:00")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, true, res["available"])

	_, err = run(t, "--config", cfg, "check", "--agent", "a1", "--at", "soon")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = run(t, "--config", cfg, "check", "--agent", "nobody", "--at", "2026-03-02T10:00:00Z")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSlotsCommand(t *testing.T) {
	calendars := t.TempDir()
	writeCalendar(t, calendars, "a1",
		event("1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	cfg := writeConfig(t, calendars)

	out, err := run(t, "--config", cfg, "slots", "--agent", "a1",
		"--range", "2026-03-02T09:00:00Z,2026-03-02T11:00:00Z",
		"--range", "2026-03-03T09:00:00Z,2026-03-03T10:00:00Z",
		"--duration", "60", "--count", "5")
	require.NoError(t, err)

	var slots []model.FreeSlot
	require.NoError(t, json.Unmarshal([]byte(out), &slots))
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Start.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
	assert.True(t, slots[1].Start.Equal(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)))

	_, err = run(t, "--config", cfg, "slots", "--agent", "a1", "--range", "2026-03-02T09:00:00Z")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestBestBlockCommand(t *testing.T) {
	calendars := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	writeCalendar(t, calendars, "a1",
		event("1", now.Add(time.Hour), now.Add(2*time.Hour)),
		event("2", now.Add(5*time.Hour), now.Add(6*time.Hour)))
	cfg := writeConfig(t, calendars)

	out, err := run(t, "--config", cfg, "best-block", "--agent", "a1", "--min-duration", "120")
	require.NoError(t, err)
	var block model.FreeSlot
	require.NoError(t, json.Unmarshal([]byte(out), &block))
	assert.True(t, block.Start.Equal(now.Add(2*time.Hour)))
	assert.True(t, block.End.Equal(now.Add(5*time.Hour)))
	assert.Equal(t, "Uninterrupted 180 minute block", block.Description)

	_, err = run(t, "--config", cfg, "best-block", "--agent", "a1", "--min-duration", "600")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGenerateCommand(t *testing.T) {
	calendars := t.TempDir()
	writeCalendar(t, calendars, "a1")
	existing, err := os.ReadFile(filepath.Join(calendars, "a1.ics"))
	require.NoError(t, err)
	cfg := writeConfig(t, calendars)

	out, err := run(t, "--config", cfg, "generate")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(calendars, "a2.ics"))

	body, err := os.ReadFile(filepath.Join(calendars, "a2.ics"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN:VEVENT")

	kept, err := os.ReadFile(filepath.Join(calendars, "a1.ics"))
	require.NoError(t, err)
	assert.Equal(t, existing, kept)

	_, err = run(t, "--config", cfg, "generate", "--agent", "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

package model

import (
	"time"

	"github.com/pkg/errors"

	"agentcal/internal/timeline"
)

// BusyInterval is a committed span during which an agent is unavailable.
// Start/End are always on the UTC timeline and Start < End.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Title string `json:"summary"`
	Note  string `json:"description"`
}

// Overlaps reports whether the interval intersects [start, end). Touching
// edges do not count: an interval ending exactly at start, or beginning
// exactly at end, is not overlapping.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return b.End.After(start) && b.Start.Before(end)
}

// TimeWindow is a caller-supplied range to search within.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeWindow normalizes both edges to UTC and rejects empty or inverted
// windows.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: timeline.Normalize(start), End: timeline.Normalize(end)}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

// Validate checks End > Start.
func (w TimeWindow) Validate() error {
	if !w.End.After(w.Start) {
		return errors.Wrapf(ErrInvalidInput, "time window end %s must be after start %s",
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// FreeSlot is a span with no committed busy interval.
type FreeSlot struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
}

// Duration is End - Start.
func (s FreeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Agent is a directory entry for someone whose calendar can be queried.
type Agent struct {
	ID        string   `yaml:"id" json:"agent_id"`
	Name      string   `yaml:"name" json:"name"`
	Specialty string   `yaml:"specialty" json:"specialty"`
	Clients   []Client `yaml:"clients,omitempty" json:"-"`
}

// Client is a customer attached to an agent.
type Client struct {
	ID     string `yaml:"id" json:"client_id"`
	Name   string `yaml:"name" json:"name"`
	Email  string `yaml:"email" json:"email"`
	Phone  string `yaml:"phone" json:"phone"`
	Status string `yaml:"status" json:"status"`
}

package model

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusyInterval_Overlaps(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	b := BusyInterval{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", day.Add(10*time.Hour + 30*time.Minute), day.Add(10*time.Hour + 45*time.Minute), true},
		{"covers", day.Add(9 * time.Hour), day.Add(12 * time.Hour), true},
		{"straddles start", day.Add(9*time.Hour + 30*time.Minute), day.Add(10*time.Hour + 1*time.Minute), true},
		{"ends at interval start", day.Add(9 * time.Hour), day.Add(10 * time.Hour), false},
		{"starts at interval end", day.Add(11 * time.Hour), day.Add(12 * time.Hour), false},
		{"before", day.Add(7 * time.Hour), day.Add(8 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Overlaps(tt.start, tt.end))
		})
	}
}

func TestNewTimeWindow(t *testing.T) {
	seoul := time.FixedZone("KST", 9*3600)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, seoul)

	w, err := NewTimeWindow(start, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, w.Start.Location())
	assert.Equal(t, 0, w.Start.Hour())

	_, err = NewTimeWindow(start, start)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = NewTimeWindow(start, start.Add(-time.Minute))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

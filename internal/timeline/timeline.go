// Package timeline owns the single absolute time axis every stored and
// compared instant lives on.
//
// All ingestion points (calendar files, HTTP input, CLI flags) go through
// this package instead of converting zones themselves. Instants that carry
// no offset are read as already being on the axis (UTC).
package timeline

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Normalize moves t onto the absolute timeline.
func Normalize(t time.Time) time.Time {
	return t.UTC()
}

// layouts without an offset; values parsed with these are read as UTC.
var floatingLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseInstant parses a caller-supplied instant. RFC 3339 values keep their
// offset and are then normalized; offset-less values are taken as UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Normalize(t), nil
	}
	for _, layout := range floatingLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized time value %q", s)
}

// StartOfDay is the first instant of the UTC day containing t.
func StartOfDay(t time.Time) time.Time {
	t = Normalize(t)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay is the last representable instant of the UTC day containing t.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

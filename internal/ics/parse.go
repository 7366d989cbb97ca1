package ics

import (
	"bytes"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/pkg/errors"

	appLog "agentcal/internal/log"
	"agentcal/internal/model"
	"agentcal/internal/timeline"
)

const (
	layoutUTC      = "20060102T150405Z"
	layoutFloating = "20060102T150405"
	layoutDate     = "20060102"
)

// ParseCalendar parses a single ICS payload into busy intervals on the UTC
// timeline.
//
//   - DATE-TIME values in UTC are taken as is; TZID values are resolved via
//     timeline.LoadZone; floating values are read as UTC.
//   - Date-only (all-day) events cover [first instant of the first day,
//     last instant of the last day]. DTEND of an all-day event is exclusive.
//   - Cancelled and transparent events do not block time and are dropped.
//   - Any malformed VEVENT (missing or unreadable DTSTART/DTEND, end not
//     after start) fails the whole payload, as does an empty or
//     non-iCalendar body.
//
// The result is in file order; callers sort it.
func ParseCalendar(agentID string, body []byte) ([]model.BusyInterval, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "parse calendar")
	}

	out := make([]model.BusyInterval, 0)

	for _, ve := range cal.Events() {
		if !blocksTime(ve) {
			continue
		}
		iv, perr := parseVEvent(ve)
		if perr != nil {
			return nil, errors.Wrapf(perr, "vevent %q", propValue(ve, ical.ComponentPropertyUniqueId))
		}
		out = append(out, iv)
	}

	appLog.Debug("ics parse completed", "agent", agentID, "event_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (model.BusyInterval, error) {
	var out model.BusyInterval

	out.Title = propValue(ve, ical.ComponentPropertySummary)
	out.Note = propValue(ve, ical.ComponentPropertyDescription)

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, errors.New("missing DTSTART")
	}
	start, startDate, err := parseDateValue(startProp)
	if err != nil {
		return out, errors.Wrap(err, "DTSTART")
	}

	var end time.Time
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		e, endDate, err := parseDateValue(endProp)
		if err != nil {
			return out, errors.Wrap(err, "DTEND")
		}
		if endDate {
			// Exclusive DTEND: the event's last day is the one before it.
			last := e.AddDate(0, 0, -1)
			if !last.After(start) {
				last = start
			}
			end = timeline.EndOfDay(last)
		} else {
			end = e
		}
	} else if startDate {
		end = timeline.EndOfDay(start)
	} else {
		return out, errors.New("missing DTEND")
	}

	if startDate {
		start = timeline.StartOfDay(start)
	}

	if !end.After(start) {
		return out, errors.Errorf("end %s not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	out.Start = start
	out.End = end
	return out, nil
}

// parseDateValue reads a DTSTART/DTEND property. The bool result reports a
// date-only value.
func parseDateValue(p *ical.IANAProperty) (time.Time, bool, error) {
	val := strings.TrimSpace(p.Value)
	if val == "" {
		return time.Time{}, false, errors.New("empty value")
	}

	// VALUE=DATE or no 'T' in the value -> all-day
	if strings.EqualFold(param(p, "VALUE"), "DATE") || !strings.Contains(val, "T") {
		t, err := time.ParseInLocation(layoutDate, val[:min(len(val), len(layoutDate))], time.UTC)
		return t, true, err
	}

	if strings.HasSuffix(val, "Z") {
		t, err := time.Parse(layoutUTC, val)
		return timeline.Normalize(t), false, err
	}

	loc := time.UTC
	if tzid := param(p, "TZID"); tzid != "" {
		l, err := timeline.LoadZone(tzid)
		if err != nil {
			// Custom VTIMEZONE names are not resolvable; treat as floating.
			appLog.Warn("ics unknown TZID, reading as UTC", "tzid", tzid)
		} else {
			loc = l
		}
	}
	t, err := time.ParseInLocation(layoutFloating, val, loc)
	return timeline.Normalize(t), false, err
}

// blocksTime drops events that RFC 5545 marks as not consuming time.
func blocksTime(ve *ical.VEvent) bool {
	if strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "CANCELLED") {
		return false
	}
	if strings.EqualFold(propValue(ve, "TRANSP"), "TRANSPARENT") {
		return false
	}
	return true
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func param(p *ical.IANAProperty, name string) string {
	if p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

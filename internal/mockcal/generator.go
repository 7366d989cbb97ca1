// Package mockcal materializes synthetic calendars for demo agents that
// have no real calendar file yet.
package mockcal

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	ical "github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"

	"agentcal/internal/ics"
	appLog "agentcal/internal/log"
	"agentcal/internal/model"
	"agentcal/internal/timeline"
)

const (
	defaultEvents      = 10
	defaultHorizonDays = 14
	productID          = "-//agentcal//mock calendar//EN"
)

type eventKind struct {
	title   string
	minutes int
}

var catalogue = []eventKind{
	{"Client Meeting", 60},
	{"Property Viewing", 90},
	{"Team Sync", 30},
	{"Contract Review", 45},
	{"Market Analysis", 120},
	{"Client Follow-up", 30},
	{"Property Inspection", 120},
	{"Negotiation Meeting", 60},
}

var slotMinutes = []int{0, 15, 30, 45}

// Generator writes <agentID>.ics files into the source directory when they
// are missing. Existing files are never touched.
type Generator struct {
	src         *ics.FileSource
	events      int
	horizonDays int
	now         func() time.Time

	mu  sync.Mutex // guards rnd and the exists-then-write sequence
	rnd *rand.Rand
}

// Option configures a Generator.
type Option func(*Generator)

// WithEvents sets how many random one-off events each calendar gets.
func WithEvents(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.events = n
		}
	}
}

// WithHorizonDays sets how many days ahead events are spread over.
func WithHorizonDays(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.horizonDays = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithSeed makes generated calendars deterministic.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewGenerator creates a Generator writing into src's directory.
func NewGenerator(src *ics.FileSource, opts ...Option) *Generator {
	g := &Generator{
		src:         src,
		events:      defaultEvents,
		horizonDays: defaultHorizonDays,
		now:         time.Now,
		rnd:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureSourceExists writes a synthetic calendar for agentID unless one is
// already present. Safe to call repeatedly and concurrently.
func (g *Generator) EnsureSourceExists(ctx context.Context, agentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ok, err := g.src.Exists(agentID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	body, err := g.render(agentID)
	if err != nil {
		return err
	}
	path, err := g.src.Path(agentID)
	if err != nil {
		return err
	}
	if err := writeAtomic(path, body); err != nil {
		return errors.Wrapf(err, "write mock calendar for %s", agentID)
	}

	appLog.Info("mock calendar generated", "agent", agentID, "path", path)
	return nil
}

// GenerateAll materializes a calendar for every agent. It stops at the first
// failure.
func (g *Generator) GenerateAll(ctx context.Context, list []model.Agent) error {
	for _, a := range list {
		if err := g.EnsureSourceExists(ctx, a.ID); err != nil {
			return errors.Wrapf(err, "agent %s", a.ID)
		}
	}
	return nil
}

// render builds the calendar bytes. Caller holds g.mu.
func (g *Generator) render(agentID string) ([]byte, error) {
	now := timeline.Normalize(g.now())
	base := timeline.StartOfDay(now).AddDate(0, 0, 1).Add(9 * time.Hour)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	for i := 0; i < g.events; i++ {
		kind := catalogue[g.rnd.IntN(len(catalogue))]
		day := base.AddDate(0, 0, g.rnd.IntN(g.horizonDays))
		start := time.Date(day.Year(), day.Month(), day.Day(),
			9+g.rnd.IntN(8), slotMinutes[g.rnd.IntN(len(slotMinutes))], 0, 0, time.UTC)
		end := start.Add(time.Duration(kind.minutes) * time.Minute)

		cal.Children = append(cal.Children, newEvent(now, kind.title,
			fmt.Sprintf("%s for agent %s", kind.title, agentID), start, end).Component)
	}

	// Recurring stand-up, materialized as concrete events.
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{rrule.MO, rrule.WE, rrule.FR},
		Dtstart:   base,
		Until:     base.AddDate(0, 0, g.horizonDays),
	})
	if err != nil {
		return nil, errors.Wrap(err, "team sync rule")
	}
	for _, occ := range r.All() {
		occ = timeline.Normalize(occ)
		cal.Children = append(cal.Children, newEvent(now, "Morning Team Sync",
			"Recurring team sync", occ, occ.Add(30*time.Minute)).Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, errors.Wrap(err, "encode mock calendar")
	}
	return buf.Bytes(), nil
}

func newEvent(stamp time.Time, title, note string, start, end time.Time) *ical.Event {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uuid.NewString())
	ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	ev.Props.SetDateTime(ical.PropDateTimeStart, start)
	ev.Props.SetDateTime(ical.PropDateTimeEnd, end)
	ev.Props.SetText(ical.PropSummary, title)
	ev.Props.SetText(ical.PropDescription, note)
	return ev
}

// writeAtomic writes via a temp file + rename so readers never see a
// partial calendar.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agentcal-mock-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Package availability answers free/busy questions over an agent's busy
// intervals: point checks, fixed-grid slot enumeration and the longest
// uninterrupted block in the coming week.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"agentcal/internal/metrics"
	"agentcal/internal/model"
	"agentcal/internal/timeline"
)

const (
	// SlotStep is the fixed grid FindAvailableSlots advances by. Free gaps
	// that do not line up with the grid can be under-reported.
	SlotStep = 30 * time.Minute

	// BlockHorizon is how far ahead FindBestWorkBlock looks.
	BlockHorizon = 7 * 24 * time.Hour
)

// IntervalSource is the read side of the interval store.
type IntervalSource interface {
	GetBusyIntervals(ctx context.Context, agentID string, windowStart, windowEnd time.Time) ([]model.BusyInterval, error)
}

// Engine runs availability queries. It never writes to the source.
type Engine struct {
	src     IntervalSource
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now for FindBestWorkBlock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics enables per-query metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine over src.
func New(src IntervalSource, opts ...Option) *Engine {
	e := &Engine{src: src, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAvailability reports whether the agent has no busy interval
// overlapping [at, at+duration). Any overlap, however small, is busy.
func (e *Engine) CheckAvailability(ctx context.Context, agentID string, at time.Time, durationMinutes int) (bool, error) {
	ok, err := e.checkAvailability(ctx, agentID, at, durationMinutes)
	e.metrics.Query("check", err)
	return ok, err
}

func (e *Engine) checkAvailability(ctx context.Context, agentID string, at time.Time, durationMinutes int) (bool, error) {
	if err := validateAgent(agentID); err != nil {
		return false, err
	}
	if durationMinutes <= 0 {
		return false, errors.Wrapf(model.ErrInvalidInput, "duration must be positive, got %d", durationMinutes)
	}

	start := timeline.Normalize(at)
	end := start.Add(minutes(durationMinutes))

	busy, err := e.src.GetBusyIntervals(ctx, agentID, start, end)
	if err != nil {
		return false, err
	}
	return len(busy) == 0, nil
}

// FindAvailableSlots walks each window in order on a fixed 30 minute grid
// starting at the window start and collects free slots of exactly
// durationMinutes, up to maxSlots across all windows.
func (e *Engine) FindAvailableSlots(ctx context.Context, agentID string, windows []model.TimeWindow, durationMinutes, maxSlots int) ([]model.FreeSlot, error) {
	slots, err := e.findAvailableSlots(ctx, agentID, windows, durationMinutes, maxSlots)
	e.metrics.Query("slots", err)
	return slots, err
}

func (e *Engine) findAvailableSlots(ctx context.Context, agentID string, windows []model.TimeWindow, durationMinutes, maxSlots int) ([]model.FreeSlot, error) {
	if err := validateAgent(agentID); err != nil {
		return nil, err
	}
	if durationMinutes <= 0 {
		return nil, errors.Wrapf(model.ErrInvalidInput, "duration must be positive, got %d", durationMinutes)
	}
	if maxSlots <= 0 {
		return nil, errors.Wrapf(model.ErrInvalidInput, "slot count must be positive, got %d", maxSlots)
	}

	// Validate everything before touching the store.
	normalized := make([]model.TimeWindow, 0, len(windows))
	for i, w := range windows {
		nw, err := model.NewTimeWindow(w.Start, w.End)
		if err != nil {
			return nil, errors.Wrapf(err, "window #%d", i)
		}
		normalized = append(normalized, nw)
	}

	dur := minutes(durationMinutes)
	description := fmt.Sprintf("Available %d minute slot", durationMinutes)
	slots := make([]model.FreeSlot, 0, min(maxSlots, 16))

	for _, w := range normalized {
		for candidate := w.Start; !candidate.Add(dur).After(w.End) && len(slots) < maxSlots; candidate = candidate.Add(SlotStep) {
			free, err := e.checkAvailability(ctx, agentID, candidate, durationMinutes)
			if err != nil {
				return nil, err
			}
			if free {
				slots = append(slots, model.FreeSlot{
					Start:       candidate,
					End:         candidate.Add(dur),
					Description: description,
				})
			}
		}
		if len(slots) >= maxSlots {
			break
		}
	}
	return slots, nil
}

// FindBestWorkBlock returns the longest gap between consecutive busy
// intervals in [now, now+7d) that is at least minDurationMinutes long, or
// nil. The first of several equally long gaps wins.
//
// The gap after the last busy interval up to the end of the horizon is not
// considered.
func (e *Engine) FindBestWorkBlock(ctx context.Context, agentID string, minDurationMinutes int) (*model.FreeSlot, error) {
	block, err := e.findBestWorkBlock(ctx, agentID, minDurationMinutes)
	e.metrics.Query("best_block", err)
	return block, err
}

func (e *Engine) findBestWorkBlock(ctx context.Context, agentID string, minDurationMinutes int) (*model.FreeSlot, error) {
	if err := validateAgent(agentID); err != nil {
		return nil, err
	}
	if minDurationMinutes <= 0 {
		return nil, errors.Wrapf(model.ErrInvalidInput, "minimum duration must be positive, got %d", minDurationMinutes)
	}

	windowStart := timeline.Normalize(e.now())
	windowEnd := windowStart.Add(BlockHorizon)

	busy, err := e.src.GetBusyIntervals(ctx, agentID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })

	minGap := minutes(minDurationMinutes)
	var best *model.FreeSlot
	var bestLen time.Duration

	cursor := windowStart
	for _, iv := range busy {
		gap := iv.Start.Sub(cursor)
		if gap >= minGap && gap > bestLen {
			bestLen = gap
			best = &model.FreeSlot{
				Start:       cursor,
				End:         iv.Start,
				Description: fmt.Sprintf("Uninterrupted %d minute block", int(gap/time.Minute)),
			}
		}
		cursor = iv.End
	}
	return best, nil
}

func validateAgent(agentID string) error {
	if agentID == "" {
		return errors.Wrap(model.ErrInvalidInput, "empty agent id")
	}
	return nil
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// Package digest periodically summarizes every agent's coming week into
// gauges: busy minutes and the best uninterrupted work block.
package digest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"agentcal/internal/availability"
	appLog "agentcal/internal/log"
	"agentcal/internal/metrics"
	"agentcal/internal/model"
	"agentcal/internal/timeline"
)

// Agents lists the agents to summarize.
type Agents interface {
	List() []model.Agent
}

// BlockFinder is the subset of the engine the digest needs.
type BlockFinder interface {
	FindBestWorkBlock(ctx context.Context, agentID string, minDurationMinutes int) (*model.FreeSlot, error)
}

// Summary is one agent's digest row.
type Summary struct {
	AgentID     string
	BusyMinutes int
	BestBlock   *model.FreeSlot
}

// Job computes summaries. It only reads.
type Job struct {
	agents   Agents
	src      availability.IntervalSource
	finder   BlockFinder
	metrics  *metrics.Metrics
	minBlock int
	now      func() time.Time
}

// Option configures a Job.
type Option func(*Job)

// WithClock overrides time.Now for the start of the summarized week.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// NewJob creates a Job.
func NewJob(agents Agents, src availability.IntervalSource, finder BlockFinder, m *metrics.Metrics, minBlockMinutes int, opts ...Option) *Job {
	j := &Job{
		agents:   agents,
		src:      src,
		finder:   finder,
		metrics:  m,
		minBlock: minBlockMinutes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce summarizes every agent. Agents that fail are logged and skipped.
func (j *Job) RunOnce(ctx context.Context) []Summary {
	start := timeline.Normalize(j.now())
	end := start.Add(availability.BlockHorizon)

	out := make([]Summary, 0)
	for _, a := range j.agents.List() {
		if ctx.Err() != nil {
			break
		}

		busy, err := j.src.GetBusyIntervals(ctx, a.ID, start, end)
		if err != nil {
			appLog.Error("digest: busy lookup failed", err, "agent", a.ID)
			continue
		}
		block, err := j.finder.FindBestWorkBlock(ctx, a.ID, j.minBlock)
		if err != nil {
			appLog.Error("digest: best block failed", err, "agent", a.ID)
			continue
		}

		s := Summary{
			AgentID:     a.ID,
			BusyMinutes: busyMinutes(busy, start, end),
			BestBlock:   block,
		}
		bestMinutes := 0.0
		if block != nil {
			bestMinutes = block.Duration().Minutes()
		}
		j.metrics.Digest(a.ID, float64(s.BusyMinutes), bestMinutes)
		out = append(out, s)
	}

	appLog.Info("digest completed", "agents", len(out))
	return out
}

// Start schedules RunOnce on a cron schedule and returns the running
// scheduler. The caller stops it with Stop().
func (j *Job) Start(ctx context.Context, schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { j.RunOnce(ctx) }); err != nil {
		return nil, errors.Wrapf(err, "invalid digest schedule %q", schedule)
	}
	c.Start()
	appLog.Info("digest scheduled", "cron", schedule)
	return c, nil
}

// busyMinutes sums interval time clipped to [start, end). Overlapping
// intervals are counted once.
func busyMinutes(list []model.BusyInterval, start, end time.Time) int {
	var total time.Duration
	cursor := start
	for _, iv := range list {
		s, e := iv.Start, iv.End
		if s.Before(cursor) {
			s = cursor
		}
		if e.After(end) {
			e = end
		}
		if e.After(s) {
			total += e.Sub(s)
			cursor = e
		}
	}
	return int(total / time.Minute)
}

// Package store is the per-agent busy interval cache.
//
// Each agent's calendar is read and parsed once, on first access, then
// served from memory for the lifetime of the process. Concurrent first
// access for the same agent produces exactly one parse; different agents
// load independently.
package store

import (
	"context"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"agentcal/internal/ics"
	appLog "agentcal/internal/log"
	"agentcal/internal/metrics"
	"agentcal/internal/model"
	"agentcal/internal/timeline"
)

// Directory resolves agent identities.
type Directory interface {
	Lookup(agentID string) (model.Agent, error)
}

// Source returns raw calendar bytes. A missing calendar is reported with an
// error wrapping fs.ErrNotExist.
type Source interface {
	Read(ctx context.Context, agentID string) ([]byte, error)
}

// Materializer guarantees a calendar source exists for an agent.
// It must be idempotent.
type Materializer interface {
	EnsureSourceExists(ctx context.Context, agentID string) error
}

// Store caches parsed busy intervals per agent id.
type Store struct {
	dir     Directory
	src     Source
	ensurer Materializer
	metrics *metrics.Metrics

	mu    sync.RWMutex
	cache map[string][]model.BusyInterval
	group singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithMaterializer sets the collaborator that creates missing calendars.
func WithMaterializer(m Materializer) Option {
	return func(s *Store) { s.ensurer = m }
}

// WithMetrics enables cache/load metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store.
func New(dir Directory, src Source, opts ...Option) *Store {
	s := &Store{
		dir:   dir,
		src:   src,
		cache: make(map[string][]model.BusyInterval),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBusyIntervals returns the agent's busy intervals overlapping
// [windowStart, windowEnd), ordered by start. Touching edges do not overlap.
func (s *Store) GetBusyIntervals(ctx context.Context, agentID string, windowStart, windowEnd time.Time) ([]model.BusyInterval, error) {
	all, err := s.intervals(ctx, agentID)
	if err != nil {
		return nil, err
	}

	windowStart = timeline.Normalize(windowStart)
	windowEnd = timeline.Normalize(windowEnd)

	out := make([]model.BusyInterval, 0)
	for _, iv := range all {
		if iv.Overlaps(windowStart, windowEnd) {
			out = append(out, iv)
		}
	}
	return out, nil
}

// Intervals returns the agent's full busy history, ordered by start.
func (s *Store) Intervals(ctx context.Context, agentID string) ([]model.BusyInterval, error) {
	all, err := s.intervals(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]model.BusyInterval, len(all))
	copy(out, all)
	return out, nil
}

// Invalidate drops the cached list for agentID; the next access reloads it.
func (s *Store) Invalidate(agentID string) {
	s.mu.Lock()
	delete(s.cache, agentID)
	s.mu.Unlock()
	s.group.Forget(agentID)
}

// intervals returns the cached slice. Callers must not modify it.
func (s *Store) intervals(ctx context.Context, agentID string) ([]model.BusyInterval, error) {
	if agentID == "" {
		return nil, errors.Wrap(model.ErrInvalidInput, "empty agent id")
	}
	if _, err := s.dir.Lookup(agentID); err != nil {
		return nil, err
	}

	if list, ok := s.cached(agentID); ok {
		s.metrics.Hit()
		return list, nil
	}

	ch := s.group.DoChan(agentID, func() (any, error) {
		// A concurrent loader may have finished between the fast path and
		// entering the group.
		if list, ok := s.cached(agentID); ok {
			return list, nil
		}
		s.metrics.Miss()

		// The load is shared by every waiter, so it must outlive the caller
		// that happened to start it.
		list, err := s.load(context.WithoutCancel(ctx), agentID)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[agentID] = list
		s.mu.Unlock()
		return list, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.BusyInterval), nil
	}
}

func (s *Store) cached(agentID string) ([]model.BusyInterval, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.cache[agentID]
	return list, ok
}

// load materializes, reads and parses one agent's calendar. This is the only
// place where a degraded calendar is turned into an empty list.
func (s *Store) load(ctx context.Context, agentID string) ([]model.BusyInterval, error) {
	list, err := s.readAndParse(ctx, agentID)
	switch {
	case err == nil:
		s.metrics.Load(metrics.LoadOK)
		return list, nil
	case errors.Is(err, model.ErrParseDegraded):
		s.metrics.Load(metrics.LoadDegraded)
		appLog.Error("calendar unreadable; treating agent as free", err, "agent", agentID)
		return []model.BusyInterval{}, nil
	case errors.Is(err, model.ErrNotFound):
		s.metrics.Load(metrics.LoadNotFound)
		return nil, err
	default:
		s.metrics.Load(metrics.LoadError)
		return nil, err
	}
}

func (s *Store) readAndParse(ctx context.Context, agentID string) ([]model.BusyInterval, error) {
	if s.ensurer != nil {
		if err := s.ensurer.EnsureSourceExists(ctx, agentID); err != nil {
			appLog.Error("calendar materialization failed", err, "agent", agentID)
		}
	}

	body, err := s.src.Read(ctx, agentID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(model.ErrNotFound, "no calendar source for agent %q", agentID)
		}
		if errors.Is(err, model.ErrInvalidInput) || ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.Wrapf(model.ErrParseDegraded, "read: %v", err)
	}

	list, err := ics.ParseCalendar(agentID, body)
	if err != nil {
		return nil, errors.Wrapf(model.ErrParseDegraded, "parse: %v", err)
	}

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Start.Equal(list[j].Start) {
			return list[i].End.Before(list[j].End)
		}
		return list[i].Start.Before(list[j].Start)
	})

	appLog.Info("calendar loaded", "agent", agentID, "intervals", len(list))
	return list, nil
}

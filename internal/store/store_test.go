package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcal/internal/agents"
	"agentcal/internal/ics"
	"agentcal/internal/metrics"
	"agentcal/internal/model"
)

const sampleCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//agentcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:late\r\nSUMMARY:Afternoon\r\nDTSTART:20260302T130000Z\r\nDTEND:20260302T140000Z\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:early\r\nSUMMARY:Morning\r\nDTSTART:20260302T100000Z\r\nDTEND:20260302T110000Z\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

// countingSource serves fixed bodies and counts reads.
type countingSource struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	reads  atomic.Int32
	delay  time.Duration
	gate   chan struct{} // if set, reads block until it is closed
}

func (c *countingSource) Read(_ context.Context, agentID string) ([]byte, error) {
	c.reads.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errs[agentID]; ok {
		return nil, err
	}
	body, ok := c.bodies[agentID]
	if !ok {
		return nil, errors.Wrap(fs.ErrNotExist, agentID)
	}
	return body, nil
}

type recordingMaterializer struct {
	calls atomic.Int32
	src   *countingSource
}

func (r *recordingMaterializer) EnsureSourceExists(_ context.Context, agentID string) error {
	r.calls.Add(1)
	r.src.mu.Lock()
	defer r.src.mu.Unlock()
	if _, ok := r.src.bodies[agentID]; !ok {
		r.src.bodies[agentID] = []byte(sampleCalendar)
	}
	return nil
}

func newDirectory(t *testing.T, ids ...string) *agents.Directory {
	t.Helper()
	list := make([]model.Agent, 0, len(ids))
	for _, id := range ids {
		list = append(list, model.Agent{ID: id})
	}
	d, err := agents.NewDirectory(list)
	require.NoError(t, err)
	return d
}

func TestGetBusyIntervals_OverlapIsHalfOpen(t *testing.T) {
	src := &countingSource{bodies: map[string][]byte{"a1": []byte(sampleCalendar)}}
	s := New(newDirectory(t, "a1"), src)
	ctx := context.Background()

	tests := []struct {
		name       string
		start, end time.Time
		want       []string
	}{
		{"whole day", at(0, 0), at(23, 0), []string{"Morning", "Afternoon"}},
		{"ends at first start", at(9, 0), at(10, 0), nil},
		{"starts at first end", at(11, 0), at(12, 0), nil},
		{"between", at(11, 0), at(13, 0), nil},
		{"one minute into first", at(10, 59), at(12, 0), []string{"Morning"}},
		{"straddles both", at(10, 30), at(13, 30), []string{"Morning", "Afternoon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetBusyIntervals(ctx, "a1", tt.start, tt.end)
			require.NoError(t, err)
			titles := make([]string, 0, len(got))
			for _, iv := range got {
				titles = append(titles, iv.Title)
			}
			if tt.want == nil {
				assert.Empty(t, titles)
			} else {
				assert.Equal(t, tt.want, titles)
			}
		})
	}
}

func TestGetBusyIntervals_NormalizesWindow(t *testing.T) {
	src := &countingSource{bodies: map[string][]byte{"a1": []byte(sampleCalendar)}}
	s := New(newDirectory(t, "a1"), src)

	// 19:00-20:00 KST is 10:00-11:00 UTC.
	kst := time.FixedZone("KST", 9*3600)
	got, err := s.GetBusyIntervals(context.Background(), "a1",
		time.Date(2026, 3, 2, 19, 0, 0, 0, kst), time.Date(2026, 3, 2, 20, 0, 0, 0, kst))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Morning", got[0].Title)
}

func TestGetBusyIntervals_CachesAfterFirstParse(t *testing.T) {
	src := &countingSource{bodies: map[string][]byte{"a1": []byte(sampleCalendar)}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := New(newDirectory(t, "a1"), src, WithMetrics(m))
	ctx := context.Background()

	first, err := s.GetBusyIntervals(ctx, "a1", at(0, 0), at(23, 0))
	require.NoError(t, err)

	// Changing the source has no effect until the entry is invalidated.
	src.mu.Lock()
	src.bodies["a1"] = []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:x\r\nEND:VCALENDAR\r\n")
	src.mu.Unlock()

	for i := 0; i < 3; i++ {
		again, err := s.GetBusyIntervals(ctx, "a1", at(0, 0), at(23, 0))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, int32(1), src.reads.Load())
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Loads.WithLabelValues(metrics.LoadOK)))

	s.Invalidate("a1")
	after, err := s.GetBusyIntervals(ctx, "a1", at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Empty(t, after)
	assert.Equal(t, int32(2), src.reads.Load())
}

func TestGetBusyIntervals_ConcurrentFirstAccessParsesOnce(t *testing.T) {
	src := &countingSource{
		bodies: map[string][]byte{"a1": []byte(sampleCalendar), "a2": []byte(sampleCalendar)},
		delay:  20 * time.Millisecond,
	}
	s := New(newDirectory(t, "a1", "a2"), src)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]model.BusyInterval, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "a1"
			if i%2 == 1 {
				id = "a2"
			}
			got, err := s.GetBusyIntervals(ctx, id, at(0, 0), at(23, 0))
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(2), src.reads.Load())
	for _, r := range results {
		assert.Len(t, r, 2)
	}
}

func TestGetBusyIntervals_CanceledCallerDoesNotFailOthers(t *testing.T) {
	src := &countingSource{
		bodies: map[string][]byte{"a1": []byte(sampleCalendar)},
		gate:   make(chan struct{}),
	}
	s := New(newDirectory(t, "a1"), src)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.GetBusyIntervals(ctx, "a1", at(0, 0), at(23, 0))
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.reads.Load() == 1 }, time.Second, time.Millisecond)

	// The first caller gives up while its load is still in flight.
	cancel()
	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	type result struct {
		list []model.BusyInterval
		err  error
	}
	second := make(chan result, 1)
	go func() {
		got, err := s.GetBusyIntervals(context.Background(), "a1", at(0, 0), at(23, 0))
		second <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(src.gate)

	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.list, 2)
	assert.Equal(t, int32(1), src.reads.Load())
}

func TestGetBusyIntervals_MalformedEventDegradesWholeCalendar(t *testing.T) {
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//agentcal//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:ok\r\nSUMMARY:Fine\r\nDTSTART:20260302T100000Z\r\nDTEND:20260302T110000Z\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:no-end\r\nSUMMARY:Missing end\r\nDTSTART:20260302T120000Z\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	src := &countingSource{bodies: map[string][]byte{"a1": []byte(body)}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := New(newDirectory(t, "a1"), src, WithMetrics(m))

	got, err := s.GetBusyIntervals(context.Background(), "a1", at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Loads.WithLabelValues(metrics.LoadDegraded)))
}

func TestGetBusyIntervals_UnknownAgent(t *testing.T) {
	src := &countingSource{bodies: map[string][]byte{"ghost": []byte(sampleCalendar)}}
	s := New(newDirectory(t, "a1"), src)

	_, err := s.GetBusyIntervals(context.Background(), "ghost", at(0, 0), at(23, 0))
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.Equal(t, int32(0), src.reads.Load())

	_, err = s.GetBusyIntervals(context.Background(), "", at(0, 0), at(23, 0))
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestGetBusyIntervals_MissingSource(t *testing.T) {
	src := &countingSource{bodies: map[string][]byte{}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := New(newDirectory(t, "a1"), src, WithMetrics(m))

	_, err := s.GetBusyIntervals(context.Background(), "a1", at(0, 0), at(23, 0))
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Loads.WithLabelValues(metrics.LoadNotFound)))

	// Not cached: a second call tries again.
	_, err = s.GetBusyIntervals(context.Background(), "a1", at(0, 0), at(23, 0))
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.Equal(t, int32(2), src.reads.Load())
}

func TestGetBusyIntervals_MaterializesMissingSource(t *testing.T) {
	src := &countingSource{bodies: map[string][]byte{}}
	mat := &recordingMaterializer{src: src}
	s := New(newDirectory(t, "a1"), src, WithMaterializer(mat))
	ctx := context.Background()

	got, err := s.GetBusyIntervals(ctx, "a1", at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = s.GetBusyIntervals(ctx, "a1", at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Equal(t, int32(1), mat.calls.Load())
}

func TestGetBusyIntervals_DegradedCalendarIsEmpty(t *testing.T) {
	src := &countingSource{
		bodies: map[string][]byte{"broken": []byte("garbage:data\r\n")},
		errs:   map[string]error{"unreadable": errors.New("permission denied")},
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := New(newDirectory(t, "broken", "unreadable"), src, WithMetrics(m))
	ctx := context.Background()

	for _, id := range []string{"broken", "unreadable"} {
		got, err := s.GetBusyIntervals(ctx, id, at(0, 0), at(23, 0))
		require.NoError(t, err, id)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Loads.WithLabelValues(metrics.LoadDegraded)))

	// Degraded results are cached, not retried.
	_, err := s.GetBusyIntervals(ctx, "broken", at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.reads.Load())
}

func TestIntervals_FullHistorySorted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a1.ics"), []byte(sampleCalendar), 0o600))
	s := New(newDirectory(t, "a1"), ics.NewFileSource(dir))

	got, err := s.Intervals(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Morning", got[0].Title)
	assert.Equal(t, "Afternoon", got[1].Title)

	// The returned slice is a copy.
	got[0].Title = "changed"
	again, err := s.Intervals(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Morning", again[0].Title)
}

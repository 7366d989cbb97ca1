package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"agentcal/internal/agents"
	"agentcal/internal/availability"
	"agentcal/internal/config"
	"agentcal/internal/ics"
	"agentcal/internal/metrics"
	"agentcal/internal/mockcal"
	"agentcal/internal/store"
)

// app is the wired object graph shared by serve and the query commands.
type app struct {
	cfg       *config.Config
	directory *agents.Directory
	source    *ics.FileSource
	generator *mockcal.Generator // nil unless mock.enabled
	metrics   *metrics.Metrics
	store     *store.Store
	engine    *availability.Engine
}

// newApp wires the directory, calendar source, store and engine. reg may be
// nil for one-shot commands.
func newApp(cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	directory, err := agents.NewDirectory(cfg.Agents)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		directory: directory,
		source:    ics.NewFileSource(cfg.CalendarsDir),
		metrics:   metrics.New(reg),
	}

	storeOpts := []store.Option{store.WithMetrics(a.metrics)}
	if cfg.Mock.Enabled {
		a.generator = newGenerator(cfg, a.source)
		storeOpts = append(storeOpts, store.WithMaterializer(a.generator))
	}

	a.store = store.New(directory, a.source, storeOpts...)
	a.engine = availability.New(a.store, availability.WithMetrics(a.metrics))
	return a, nil
}

func newGenerator(cfg *config.Config, src *ics.FileSource) *mockcal.Generator {
	return mockcal.NewGenerator(src,
		mockcal.WithEvents(cfg.Mock.Events),
		mockcal.WithHorizonDays(cfg.Mock.HorizonDays),
	)
}

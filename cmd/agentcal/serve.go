package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"agentcal/internal/digest"
	appLog "agentcal/internal/log"
	"agentcal/internal/web"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			// --listen overrides the config file if provided.
			if listen != "" {
				cfg.Listen = listen
			}

			appLog.Info("agentcal starting", "version", version)
			appLog.Info("effective config",
				"listen", cfg.Listen,
				"calendars_dir", cfg.CalendarsDir,
				"agents", len(cfg.Agents),
				"mock", cfg.Mock.Enabled,
				"digest_cron", cfg.Digest.Cron,
			)

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			a, err := newApp(cfg, reg)
			if err != nil {
				return err
			}

			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					appLog.Info("signal received, shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			if cfg.Digest.Cron != "" {
				job := digest.NewJob(a.directory, a.store, a.engine, a.metrics, cfg.Digest.MinBlockMinutes)
				c, err := job.Start(ctx, cfg.Digest.Cron)
				if err != nil {
					return err
				}
				defer func() { <-c.Stop().Done() }()
			}

			srv := web.NewServer(cfg, web.Deps{
				Agents:    a.directory,
				Calendars: a.store,
				Engine:    a.engine,
				Gatherer:  reg,
			})
			err = srv.Run(ctx)
			appLog.Info("agentcal exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

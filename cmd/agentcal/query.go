package main

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"agentcal/internal/model"
	"agentcal/internal/timeline"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		agentID  string
		at       string
		duration int
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether an agent is free for an interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseFlagInstant("at", at)
			if err != nil {
				return err
			}
			a, err := opts.newQueryApp()
			if err != nil {
				return err
			}

			ok, err := a.engine.CheckAvailability(cmd.Context(), agentID, start, duration)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"agent_id":         agentID,
				"start":            timeline.Normalize(start),
				"duration_minutes": duration,
				"available":        ok,
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id")
	cmd.Flags().StringVar(&at, "at", "", "Start instant (RFC3339, or floating ISO-8601 read as UTC)")
	cmd.Flags().IntVar(&duration, "duration", 60, "Duration in minutes")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newSlotsCmd(opts *rootOptions) *cobra.Command {
	var (
		agentID  string
		ranges   []string
		duration int
		count    int
	)

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List free slots on a 30 minute grid",
		Example: `  agentcal slots --agent agent-001 \
    --range 2026-03-02T09:00:00Z,2026-03-02T17:00:00Z --duration 60 --count 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			windows := make([]model.TimeWindow, 0, len(ranges))
			for _, r := range ranges {
				w, err := parseRange(r)
				if err != nil {
					return err
				}
				windows = append(windows, w)
			}
			a, err := opts.newQueryApp()
			if err != nil {
				return err
			}

			slots, err := a.engine.FindAvailableSlots(cmd.Context(), agentID, windows, duration, count)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), slots)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id")
	cmd.Flags().StringArrayVar(&ranges, "range", nil, "Search window as START,END (repeatable, searched in order)")
	cmd.Flags().IntVar(&duration, "duration", 60, "Slot length in minutes")
	cmd.Flags().IntVar(&count, "count", 10, "Maximum number of slots")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("range")
	return cmd
}

func newBestBlockCmd(opts *rootOptions) *cobra.Command {
	var (
		agentID     string
		minDuration int
	)

	cmd := &cobra.Command{
		Use:   "best-block",
		Short: "Find the longest uninterrupted block in the next 7 days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.newQueryApp()
			if err != nil {
				return err
			}

			block, err := a.engine.FindBestWorkBlock(cmd.Context(), agentID, minDuration)
			if err != nil {
				return err
			}
			if block == nil {
				return errors.Wrapf(model.ErrNotFound, "no work block of at least %d minutes", minDuration)
			}
			return printJSON(cmd.OutOrStdout(), block)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id")
	cmd.Flags().IntVar(&minDuration, "min-duration", 90, "Minimum block length in minutes")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func (o *rootOptions) newQueryApp() (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, nil)
}

func parseFlagInstant(name, value string) (time.Time, error) {
	t, err := timeline.ParseInstant(value)
	if err != nil {
		return time.Time{}, errors.Wrapf(model.ErrInvalidInput, "--%s: %v", name, err)
	}
	return t, nil
}

func parseRange(s string) (model.TimeWindow, error) {
	startStr, endStr, ok := strings.Cut(s, ",")
	if !ok {
		return model.TimeWindow{}, errors.Wrapf(model.ErrInvalidInput, "--range %q: want START,END", s)
	}
	start, err := parseFlagInstant("range", strings.TrimSpace(startStr))
	if err != nil {
		return model.TimeWindow{}, err
	}
	end, err := parseFlagInstant("range", strings.TrimSpace(endStr))
	if err != nil {
		return model.TimeWindow{}, err
	}
	return model.TimeWindow{Start: start, End: end}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

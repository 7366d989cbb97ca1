package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentcal/internal/model"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var agentIDs []string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write mock calendars for agents that have none",
		Long: `generate writes a synthetic <agent_id>.ics into calendars_dir for every
selected agent without one. Existing calendar files are left untouched.
It runs regardless of mock.enabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}

			targets := a.directory.List()
			if len(agentIDs) > 0 {
				targets = make([]model.Agent, 0, len(agentIDs))
				for _, id := range agentIDs {
					agent, err := a.directory.Lookup(id)
					if err != nil {
						return err
					}
					targets = append(targets, agent)
				}
			}

			gen := a.generator
			if gen == nil {
				gen = newGenerator(cfg, a.source)
			}
			if err := gen.GenerateAll(cmd.Context(), targets); err != nil {
				return err
			}
			for _, agent := range targets {
				path, err := a.source.Path(agent.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&agentIDs, "agent", nil, "Agent ids (default: all configured agents)")
	return cmd
}

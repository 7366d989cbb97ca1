package main

import (
	"github.com/spf13/cobra"

	"agentcal/internal/config"
	appLog "agentcal/internal/log"
)

const defaultConfigPath = "./config.yaml"

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "agentcal",
		Short: "Calendar availability service for real-estate agents",
		Long: `agentcal answers free/busy questions over per-agent iCalendar files:
point availability checks, free slot search and the best uninterrupted
work block in the coming week.

It can run as:
  - an HTTP API server (serve)
  - one-shot queries from the command line (check, slots, best-block)`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "agentcal version %s\n" .Version}}`)
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newSlotsCmd(opts))
	root.AddCommand(newBestBlockCmd(opts))
	root.AddCommand(newGenerateCmd(opts))
	return root
}

// loadConfig reads the config file and applies its log level.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", o.configPath)
		return nil, err
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"psycho/internal/agent"
	"psycho/internal/config"
	"psycho/internal/logging"
)

const version = "0.1.0"

var (
	flagDataDir string
	flagDebug   bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "psycho",
		Short:         "PsychoPortal, a self-evolving AI personal assistant",
		Long:          "PsychoPortal is a local-first AI assistant that builds a persistent\nknowledge graph of everything it learns about you.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the data directory")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose logging")

	root.AddCommand(
		newChatCmd(),
		newServeCmd(),
		newStatsCmd(),
		newGraphCmd(),
		newIngestCmd(),
		newReflectCmd(),
		newSetupCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flagDataDir != "" {
		cfg = cfg.Rebase(flagDataDir)
	}
	return cfg, nil
}

// buildLogger writes to the data-dir log file so the terminal stays clean
// for conversation output. Debug mode mirrors to stderr.
func buildLogger(cfg *config.Config) logging.Logger {
	level := logging.LevelInfo
	if flagDebug {
		level = logging.LevelDebug
	}
	logger, err := logging.NewFileLogger(cfg.LogPath, "psycho", level)
	if err != nil {
		if flagDebug {
			return logging.New("psycho", level)
		}
		return logging.Nop()
	}
	return logger
}

func startAgent(ctx context.Context) (*agent.Agent, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := agent.New(ctx, cfg, buildLogger(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("start agent: %w", err)
	}
	return a, cfg, nil
}

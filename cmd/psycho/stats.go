package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Display memory and knowledge graph statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := startAgent(ctx)
			if err != nil {
				return err
			}

			stats, err := a.Stats(ctx)
			if err != nil {
				_ = a.Stop(ctx, false)
				return err
			}
			recent, _ := a.Memory().RecentHistory(ctx, 8)
			if err := a.Stop(ctx, false); err != nil {
				return err
			}

			printBanner()
			printExitSummary(stats)

			if len(recent) > 0 {
				fmt.Println(accent("  Recent Interactions"))
				for i := len(recent) - 1; i >= 0; i-- {
					item := recent[i]
					fmt.Printf("  %s %s\n    %s\n",
						dim(fmt.Sprintf("%-8s", item.Domain)),
						shorten(item.UserMessage, 60),
						dim(shorten(item.AgentResponse, 80)))
				}
				fmt.Println()
			}
			return nil
		},
	}
}

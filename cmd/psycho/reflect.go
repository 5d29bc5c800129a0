package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReflectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reflect",
		Short: "Run the end-of-session learning review now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := startAgent(ctx)
			if err != nil {
				return err
			}
			defer a.Stop(ctx, false)

			printSystem("Reviewing recent interactions...")
			result, err := a.Reflect(ctx)
			if err != nil {
				return err
			}
			fmt.Println(okText("  " + result.DisplaySummary()))
			if result.JournalPath != "" {
				printSystem("Journal: " + result.JournalPath)
			}
			if result.Maintenance.Pruned+result.Maintenance.Merged > 0 {
				printSystem(fmt.Sprintf("Graph maintenance: %d pruned, %d merged, %d decayed",
					result.Maintenance.Pruned, result.Maintenance.Merged, result.Maintenance.Decayed))
			}
			return nil
		},
	}
}

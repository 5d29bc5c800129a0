package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var (
		domain string
		asText bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest a file, folder, or raw text into the knowledge graph",
		Example: `  psycho ingest notes.md
  psycho ingest ./docs/
  psycho ingest "Go uses goroutines for concurrency" --text
  psycho ingest report.pdf --domain health`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := startAgent(ctx)
			if err != nil {
				return err
			}
			defer a.Stop(ctx, false)

			if asText {
				result := a.IngestText(ctx, args[0], "cli_text", domain)
				fmt.Println(okText(fmt.Sprintf("  Text ingested: %d nodes, %d facts",
					result.NodesAdded, result.FactsAdded)))
			} else {
				ingestPath(ctx, a, args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "override domain (coding/health/general/...)")
	cmd.Flags().BoolVar(&asText, "text", false, "treat the argument as raw text to ingest")
	return cmd
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"psycho/internal/jsonx"
	"psycho/internal/knowledge"
)

func newGraphCmd() *cobra.Command {
	var (
		top        int
		nodeType   string
		exportPath string
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect the knowledge graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := startAgent(ctx)
			if err != nil {
				return err
			}
			defer a.Stop(ctx, false)

			g := a.Graph()

			if exportPath != "" {
				nodes, edges := g.Snapshot()
				d3 := g.Store().ExportD3(nodes, edges)
				raw, err := jsonx.MarshalIndent(d3, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(exportPath, raw, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Println(okText("  Graph exported to " + exportPath))
			}

			if nodeType != "" && !knowledge.ValidNodeType(nodeType) {
				printError("Unknown node type " + nodeType)
				return nil
			}

			stats := g.GetStats()
			fmt.Printf("\n%s\n", accent("  Knowledge Graph"))
			fmt.Printf("  %s %s\n", dim("Active nodes:    "), bold(fmt.Sprint(stats.ActiveNodes)))
			fmt.Printf("  %s %s\n", dim("Total edges:     "), bold(fmt.Sprint(stats.TotalEdges)))
			fmt.Printf("  %s %s\n", dim("Avg confidence:  "), bold(fmt.Sprintf("%.2f", stats.AverageConfidence)))
			fmt.Printf("  %s %s\n\n", dim("Contradictions:  "), bold(fmt.Sprint(stats.Contradictions)))

			nodes := g.TopNodes(top)
			if nodeType != "" {
				filtered := nodes[:0]
				for _, n := range nodes {
					if string(n.Type) == nodeType {
						filtered = append(filtered, n)
					}
				}
				nodes = filtered
			}
			if len(nodes) == 0 {
				printSystem("No nodes found.")
				return nil
			}
			for _, node := range nodes {
				conf := confidenceColor(node.Confidence)
				props := ""
				count := 0
				for k, v := range node.Properties {
					if count >= 2 {
						break
					}
					props += fmt.Sprintf(" %s=%s", k, shorten(fmt.Sprint(v), 15))
					count++
				}
				fmt.Printf("  %s %s %s %s%s\n",
					dim(fmt.Sprintf("%-10s", node.Type)),
					fmt.Sprintf("%-35s", shorten(node.DisplayLabel, 35)),
					dim(fmt.Sprintf("%-8s", node.Domain)),
					conf(fmt.Sprintf("%s %.2f", knowledge.ConfidenceBar(node.Confidence, 8), node.Confidence)),
					dim(props))
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 25, "number of top nodes to display")
	cmd.Flags().StringVar(&nodeType, "type", "", "filter by node type (concept/fact/preference/...)")
	cmd.Flags().StringVar(&exportPath, "export", "", "export graph to a JSON file")
	return cmd
}

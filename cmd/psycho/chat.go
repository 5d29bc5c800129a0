package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"psycho/internal/agent"
)

var exitPhrases = map[string]bool{
	"/exit": true, "/quit": true, "exit": true, "quit": true, "bye": true,
}

var chatCommands = [][2]string{
	{"/help", "Show available commands"},
	{"/stats", "Show memory and knowledge graph statistics"},
	{"/graph", "Inspect the knowledge graph"},
	{"/facts", "List stored facts"},
	{"/traits", "Show personality calibration"},
	{"/notifications", "Show unread notifications"},
	{"/ingest <path>", "Ingest a file or folder into the knowledge graph"},
	{"/clear", "Clear the screen"},
	{"/exit", "Exit the chat (also: quit, exit, bye)"},
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}
}

func runChat(ctx context.Context) error {
	printBanner()

	a, cfg, err := startAgent(ctx)
	if err != nil {
		return err
	}
	printHeader(a, cfg.LLMProvider)

	stats, _ := a.Stats(ctx)
	printSystem(fmt.Sprintf("Memory loaded · %s past interactions · Type /help for commands",
		str(stats["interactions"])))
	fmt.Println()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          userStyle(" › "),
		HistoryFile:     filepath.Join(cfg.DataDir, ".psycho_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		_ = a.Stop(ctx, false)
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		drainNotifications(a)

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		}
		if err == io.EOF {
			break
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if exitPhrases[strings.ToLower(input)] {
			break
		}
		if strings.HasPrefix(input, "/") {
			runChatCommand(ctx, a, input)
			continue
		}

		handleChatTurn(ctx, a, input)
	}

	return shutdownChat(ctx, a)
}

func handleChatTurn(ctx context.Context, a *agent.Agent, input string) {
	fmt.Println()
	fmt.Printf("%s %s\n", userStyle(" YOU "), input)
	fmt.Println(dim("  thinking..."))

	turn := a.ChatTurn(ctx, input)

	name := strings.ToUpper(a.AgentName())
	meta := fmt.Sprintf("%.0fms · %s", turn.LatencyMS(), turn.Domain)
	if turn.SearchQuery != "" {
		meta += " · searched: " + turn.SearchQuery
	}
	fmt.Printf("%s %s\n", agentStyle(" "+name+" "), dim(meta))
	fmt.Println(renderMarkdown(turn.AgentResponse))

	if turn.DomainResult != nil {
		for _, action := range turn.DomainResult.ActionsTaken {
			printSystem("✓ " + action)
		}
	}
}

func runChatCommand(ctx context.Context, a *agent.Agent, input string) {
	command := strings.ToLower(strings.Fields(input)[0])

	switch command {
	case "/help":
		fmt.Println()
		for _, row := range chatCommands {
			fmt.Printf("  %s %s\n", bold(fmt.Sprintf("%-16s", row[0])), dim(row[1]))
		}
		fmt.Println()
	case "/stats":
		if stats, err := a.Stats(ctx); err == nil {
			printExitSummary(stats)
		}
	case "/graph":
		showGraphSummary(a, 20)
	case "/facts":
		showFacts(ctx, a)
	case "/traits":
		printTraits(a.Personality().Traits().Map(), a.Personality().StatusLine())
	case "/notifications":
		notifs := a.Scheduler().Recent(20)
		if len(notifs) == 0 {
			printSystem("No notifications.")
			return
		}
		for _, n := range notifs {
			marker := dim("·")
			if !n.Read {
				marker = warnText("●")
			}
			fmt.Printf("  %s %s %s\n", marker, bold(n.Title), dim(n.Message))
		}
	case "/ingest":
		parts := strings.SplitN(input, " ", 2)
		if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
			fmt.Println(warnText("  Usage: /ingest <file_path_or_folder>"))
			return
		}
		ingestPath(ctx, a, strings.TrimSpace(parts[1]))
	case "/clear":
		fmt.Print("\033[2J\033[H")
	default:
		fmt.Println(warnText("  Unknown command: " + input + ". Type /help for available commands."))
	}
}

func showFacts(ctx context.Context, a *agent.Agent) {
	facts, err := a.DB().ListFacts(ctx, "", 20)
	if err != nil || len(facts) == 0 {
		printSystem("No facts stored yet.")
		return
	}
	fmt.Println()
	for _, fact := range facts {
		conf := confidenceColor(fact.Confidence)
		fmt.Printf("  %s %s %s\n",
			conf(fmt.Sprintf("%.2f", fact.Confidence)),
			dim(fmt.Sprintf("%-8s", fact.Domain)),
			shorten(fact.Content, 120))
	}
	fmt.Println()
}

func showGraphSummary(a *agent.Agent, top int) {
	g := a.Graph()
	stats := g.GetStats()
	fmt.Printf("\n%s %s\n\n", accent("Knowledge Graph"),
		dim(fmt.Sprintf("— %d nodes · %d edges · avg confidence %.2f",
			stats.ActiveNodes, stats.TotalEdges, stats.AverageConfidence)))

	nodes := g.TopNodes(top)
	if len(nodes) == 0 {
		printSystem("Graph is empty. Chat more to build it, or use /ingest.")
		return
	}
	for _, node := range nodes {
		conf := confidenceColor(node.Confidence)
		fmt.Printf("  %s %s %s %s\n",
			dim(fmt.Sprintf("%-10s", node.Type)),
			fmt.Sprintf("%-35s", shorten(node.DisplayLabel, 35)),
			dim(fmt.Sprintf("%-8s", node.Domain)),
			conf(node.ConfidenceDisplay()))
	}

	if len(stats.NodeTypes) > 0 {
		types := make([]string, 0, len(stats.NodeTypes))
		for t := range stats.NodeTypes {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool {
			return stats.NodeTypes[types[i]] > stats.NodeTypes[types[j]]
		})
		parts := make([]string, 0, len(types))
		for _, t := range types {
			parts = append(parts, fmt.Sprintf("%s %d", t, stats.NodeTypes[t]))
		}
		fmt.Println(dim("  by type: " + strings.Join(parts, " · ")))
	}
	fmt.Println()
}

func ingestPath(ctx context.Context, a *agent.Agent, path string) {
	info, err := os.Stat(path)
	if err != nil {
		printError("Path not found: " + path)
		return
	}
	printSystem("Ingesting: " + path)

	if info.IsDir() {
		results := a.IngestFolder(ctx, path)
		nodes, facts := 0, 0
		for _, r := range results {
			nodes += r.NodesAdded
			facts += r.FactsAdded
			for _, e := range r.Errors {
				printError(e)
			}
		}
		fmt.Println(okText(fmt.Sprintf("  Folder ingested: %d files → %d nodes, %d facts",
			len(results), nodes, facts)))
	} else {
		result := a.IngestFile(ctx, path)
		for _, e := range result.Errors {
			printError(e)
		}
		fmt.Println(okText("  " + result.Summary()))
	}

	stats := a.Graph().GetStats()
	printSystem(fmt.Sprintf("Graph total: %d nodes, %d edges", stats.ActiveNodes, stats.TotalEdges))
}

func drainNotifications(a *agent.Agent) {
	for _, n := range a.Scheduler().Unread() {
		fmt.Printf("%s %s %s\n", warnText(" ◈ "+strings.ToUpper(n.Type)), bold(n.Title), dim(n.Message))
		a.Scheduler().MarkRead(n.ID)
	}
}

func shutdownChat(ctx context.Context, a *agent.Agent) error {
	fmt.Println()
	printSystem("Saving session and shutting down...")
	stats, _ := a.Stats(ctx)
	if err := a.Stop(ctx, true); err != nil {
		return err
	}
	printExitSummary(stats)
	return nil
}

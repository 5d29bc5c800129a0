package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/fatih/color"
	"golang.org/x/term"

	"psycho/internal/agent"
	"psycho/internal/knowledge"
)

const banner = `
██████╗ ███████╗██╗   ██╗ ██████╗██╗  ██╗ ██████╗
██╔══██╗██╔════╝╚██╗ ██╔╝██╔════╝██║  ██║██╔═══██╗
██████╔╝███████╗ ╚████╔╝ ██║     ███████║██║   ██║
██╔═══╝ ╚════██║  ╚██╔╝  ██║     ██╔══██║██║   ██║
██║     ███████║   ██║   ╚██████╗██║  ██║╚██████╔╝
╚═╝     ╚══════╝   ╚═╝    ╚═════╝╚═╝  ╚═╝ ╚═════╝  PORTAL
`

var (
	accent     = color.New(color.FgHiMagenta, color.Bold).SprintFunc()
	dim        = color.New(color.FgHiBlack).SprintFunc()
	userStyle  = color.New(color.FgHiCyan, color.Bold).SprintFunc()
	agentStyle = color.New(color.FgHiGreen, color.Bold).SprintFunc()
	warnText   = color.New(color.FgHiYellow).SprintFunc()
	errText    = color.New(color.FgHiRed).SprintFunc()
	okText     = color.New(color.FgHiGreen).SprintFunc()
	bold       = color.New(color.Bold).SprintFunc()
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	width -= 4
	if width > 120 {
		width = 120
	}
	if width < 40 {
		width = 40
	}
	return width
}

// renderMarkdown formats agent responses for the terminal, falling back to
// the raw text when not attached to one.
func renderMarkdown(content string) string {
	if !isTTY() {
		return content
	}
	return string(markdown.Render(content, terminalWidth(), 2))
}

func printBanner() {
	fmt.Println(accent(banner))
	fmt.Println(dim("  Self-evolving AI assistant · Persistent knowledge graph · Local-first"))
	fmt.Println()
}

func printHeader(a *agent.Agent, provider string) {
	fmt.Printf("%s %s  %s  %s %s %s  %s %s\n",
		dim("session:"), bold(shorten(a.SessionID(), 8)),
		dim("│"),
		dim("model:"), bold(a.Model()), dim("("+provider+")"),
		dim("│"),
		dim(time.Now().Format("15:04")))
	fmt.Println(dim(strings.Repeat("─", terminalWidth())))
}

func printSystem(message string) {
	fmt.Println(dim("  " + message))
}

func printError(message string) {
	fmt.Println(errText("  ERROR  " + message))
}

func printExitSummary(stats map[string]any) {
	fmt.Println()
	fmt.Println(accent("  Session Summary"))
	rows := [][2]string{
		{"Session ID", str(stats["session_id"])},
		{"Messages this session", str(stats["short_term_turns"])},
		{"Total sessions", str(stats["sessions"])},
		{"Total messages", str(stats["interactions"])},
		{"Facts stored", str(stats["facts"])},
		{"Graph nodes", str(stats["graph_nodes"])},
		{"Model", str(stats["model"])},
	}
	for _, row := range rows {
		fmt.Printf("  %s %s\n", dim(fmt.Sprintf("%22s", row[0])), bold(row[1]))
	}
	fmt.Println()
	fmt.Println(dim("  Memory persisted. See you next time."))
	fmt.Println()
}

func printTraits(traits map[string]float64, statusLine string) {
	fmt.Println()
	fmt.Println(accent("  Personality Calibration"))
	names := make([]string, 0, len(traits))
	for name := range traits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := traits[name]
		fmt.Printf("  %s %s %3.0f%%\n",
			dim(fmt.Sprintf("%18s", strings.TrimSuffix(name, "_level"))),
			knowledge.ConfidenceBar(value, 10), value*100)
	}
	if statusLine != "" {
		fmt.Println(dim("  " + statusLine))
	}
	fmt.Println()
}

func confidenceColor(conf float64) func(a ...any) string {
	switch {
	case conf > 0.7:
		return okText
	case conf > 0.4:
		return warnText
	default:
		return errText
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func str(v any) string {
	if v == nil {
		return "-"
	}
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%.2f", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

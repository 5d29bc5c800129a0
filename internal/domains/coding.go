package domains

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"psycho/internal/logging"
	"psycho/internal/storage"
)

// ExecutionTimeout caps a single sandboxed script run.
const ExecutionTimeout = 10 * time.Second

var (
	codeBlockRe = regexp.MustCompile("(?s)```(\\w*)\n(.*?)```")
	runTriggers = regexp.MustCompile(`(?i)\b(run|execute|test|try|eval|check|verify|see if|can you run|please run)\b`)
)

// ExtractCodeBlocks lifts all fenced code blocks from a markdown response.
func ExtractCodeBlocks(text string) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range codeBlockRe.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(strings.TrimSpace(m[1]))
		if lang == "" {
			lang = "text"
		}
		code := strings.TrimSpace(m[2])
		if code != "" {
			blocks = append(blocks, CodeBlock{Language: lang, Code: code})
		}
	}
	return blocks
}

// ExecutionResult is the outcome of one sandboxed script run.
type ExecutionResult struct {
	Code     string  `json:"code"`
	Language string  `json:"language"`
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	ExitCode int     `json:"exit_code"`
	Elapsed  float64 `json:"elapsed_ms"`
	TimedOut bool    `json:"timed_out"`
	Error    string  `json:"error,omitempty"`
}

// Success reports a clean run.
func (r *ExecutionResult) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut && r.Error == ""
}

// Display renders a compact human-readable result.
func (r *ExecutionResult) Display() string {
	var parts []string
	if r.Stdout != "" {
		parts = append(parts, "Output:\n"+strings.TrimSpace(r.Stdout))
	}
	if r.Stderr != "" {
		parts = append(parts, "Stderr:\n"+truncate(strings.TrimSpace(r.Stderr), 500))
	}
	if r.TimedOut {
		parts = append(parts, fmt.Sprintf("Execution timed out (%s limit)", ExecutionTimeout))
	}
	if r.Error != "" {
		parts = append(parts, "Error: "+r.Error)
	}
	status := "✓"
	if !r.Success() {
		status = "✗"
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s No output (%.0fms)", status, r.Elapsed)
	}
	return fmt.Sprintf("%s Executed (%.0fms)\n%s", status, r.Elapsed, strings.Join(parts, "\n"))
}

// Executor runs Python snippets in a subprocess: separate process, temp
// file, captured output, hard timeout.
type Executor struct {
	interpreter string
	logger      logging.Logger
}

// NewExecutor resolves the interpreter from PATH.
func NewExecutor(logger logging.Logger) *Executor {
	return &Executor{interpreter: "python3", logger: logging.OrNop(logger)}
}

// Execute runs one script and returns the captured result. Only Python is
// supported; other languages come back with an error field set.
func (e *Executor) Execute(ctx context.Context, code, language string) *ExecutionResult {
	result := &ExecutionResult{Code: code, Language: language}
	switch language {
	case "python", "py", "python3", "":
	default:
		result.Error = fmt.Sprintf("execution only supported for Python (got %q)", language)
		return result
	}

	tmp, err := os.CreateTemp("", "psycho-exec-*.py")
	if err != nil {
		result.Error = err.Error()
		return result
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := tmp.WriteString(code); err != nil {
		_ = tmp.Close()
		result.Error = err.Error()
		return result
	}
	_ = tmp.Close()

	runCtx, cancel := context.WithTimeout(ctx, ExecutionTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, e.interpreter, tmpPath)
	cmd.Dir = filepath.Dir(tmpPath)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result.Elapsed = float64(time.Since(start).Milliseconds())
	result.Stdout = truncate(stdout.String(), 3000)
	result.Stderr = truncate(stderr.String(), 1000)

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.Error = fmt.Sprintf("timed out after %s", ExecutionTimeout)
	} else if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Error = err.Error()
		}
	}

	e.logger.Debug("code executed: exit=%d %0.fms timeout=%v",
		result.ExitCode, result.Elapsed, result.TimedOut)
	return result
}

// CodingHandler extracts code blocks from responses and auto-executes
// Python when the user asked for a run.
type CodingHandler struct {
	db       *storage.DB
	executor *Executor
	logger   logging.Logger
}

// NewCodingHandler wires the handler.
func NewCodingHandler(db *storage.DB, logger logging.Logger) *CodingHandler {
	return &CodingHandler{db: db, executor: NewExecutor(logger), logger: logging.OrNop(logger)}
}

func (h *CodingHandler) Name() string { return DomainCoding }

func (h *CodingHandler) SystemAddendum() string {
	return "\nFor coding questions: always include working code examples. " +
		"Use proper syntax highlighting markers (```python). " +
		"For Python, prefer modern idioms (f-strings, type hints, dataclasses). " +
		"Be explicit about Python version when relevant (3.11+)."
}

func (h *CodingHandler) PromptContext(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}

func (h *CodingHandler) PostProcess(ctx context.Context, ex Exchange, response string) (*Result, error) {
	result := NewResult(DomainCoding)
	blocks := ExtractCodeBlocks(response)
	result.CodeBlocks = blocks

	wantsExecution := runTriggers.MatchString(ex.UserMessage)
	var pythonBlock *CodeBlock
	for i := range blocks {
		switch blocks[i].Language {
		case "python", "py", "python3":
			pythonBlock = &blocks[i]
		}
		if pythonBlock != nil {
			break
		}
	}

	switch {
	case wantsExecution && pythonBlock != nil:
		execResult := h.executor.Execute(ctx, pythonBlock.Code, pythonBlock.Language)
		result.StructuredData["execution"] = execResult

		status := "PASS"
		if !execResult.Success() {
			status = "FAIL"
		}
		lines := []string{fmt.Sprintf("── Execution Result (%.0fms) ──", execResult.Elapsed)}
		if execResult.Stdout != "" {
			lines = append(lines, truncate(strings.TrimSpace(execResult.Stdout), 800))
		}
		if execResult.Stderr != "" {
			lines = append(lines, truncate(strings.TrimSpace(execResult.Stderr), 400))
		}
		if execResult.TimedOut {
			lines = append(lines, fmt.Sprintf("Timed out after %s", ExecutionTimeout))
		}
		result.AddExtra(strings.Join(lines, "\n"))
		result.AddAction(fmt.Sprintf("Executed Python code: %s (%.0fms)", status, execResult.Elapsed))

	case len(blocks) > 0:
		result.AddAction(fmt.Sprintf("Detected %d code block(s)", len(blocks)))
	}

	return result, nil
}

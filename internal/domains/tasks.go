package domains

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"psycho/internal/logging"
	"psycho/internal/storage"
)

var taskCreationRe = regexp.MustCompile(`(?i)\b(` +
	`remind me to|don'?t let me forget|remember to|` +
	`i need to|i have to|i should|i must|` +
	`need to remember|TODO:|to-?do:|task:|` +
	`add (?:a )?(?:task|reminder|todo) (?:to|for)|` +
	`make (?:a )?note (?:to|that)|` +
	`schedule (?:a|to)|` +
	`follow up (?:on|with|about)` +
	`)\b`)

var priorityRes = map[string]*regexp.Regexp{
	storage.PriorityUrgent: regexp.MustCompile(`(?i)\b(urgent|asap|immediately|right away|critical|emergency)\b`),
	storage.PriorityHigh:   regexp.MustCompile(`(?i)\b(important|high priority|priorit(?:y|ize)|soon)\b`),
	storage.PriorityLow:    regexp.MustCompile(`(?i)\b(whenever|eventually|low priority|not urgent|someday)\b`),
}

var duePhraseRes = []struct {
	re   *regexp.Regexp
	when func(now time.Time) time.Time
}{
	{regexp.MustCompile(`(?i)\b(today|tonight|this evening|before end of day)\b`),
		func(now time.Time) time.Time { return now }},
	{regexp.MustCompile(`(?i)\b(tomorrow|next morning)\b`),
		func(now time.Time) time.Time { return now.AddDate(0, 0, 1) }},
	{regexp.MustCompile(`(?i)\b(this week|by friday|by end of week)\b`),
		func(now time.Time) time.Time {
			days := (int(time.Friday) - int(now.Weekday()) + 7) % 7
			if days == 0 {
				days = 7
			}
			return now.AddDate(0, 0, days)
		}},
	{regexp.MustCompile(`(?i)\b(next week|next monday)\b`),
		func(now time.Time) time.Time {
			days := (int(time.Monday) - int(now.Weekday()) + 7) % 7
			if days == 0 {
				days = 7
			}
			return now.AddDate(0, 0, days)
		}},
}

var titleLeadRe = regexp.MustCompile(`(?i)^(to |that |about |for |a |the )`)

// ExtractTaskTitle pulls the task title out of a message like "remind me to
// call John".
func ExtractTaskTitle(userMessage string) string {
	cleaned := strings.TrimSpace(taskCreationRe.ReplaceAllString(userMessage, ""))
	cleaned = strings.TrimSpace(titleLeadRe.ReplaceAllString(cleaned, ""))
	if cleaned == "" {
		return truncate(userMessage, 100)
	}
	return capitalize(truncate(cleaned, 200))
}

// DetectPriority maps urgency phrasing to a priority level.
func DetectPriority(text string) string {
	for _, priority := range []string{storage.PriorityUrgent, storage.PriorityHigh, storage.PriorityLow} {
		if priorityRes[priority].MatchString(text) {
			return priority
		}
	}
	return storage.PriorityNormal
}

// DetectDueDate resolves coarse due phrasing ("tomorrow", "this week") to an
// ISO date, or "" when absent.
func DetectDueDate(text string, now time.Time) string {
	for _, p := range duePhraseRes {
		if p.re.MatchString(text) {
			return p.when(now).Format("2006-01-02")
		}
	}
	return ""
}

// TaskManager creates and queries tasks.
type TaskManager struct {
	db     *storage.DB
	logger logging.Logger
}

// NewTaskManager wires the manager.
func NewTaskManager(db *storage.DB, logger logging.Logger) *TaskManager {
	return &TaskManager{db: db, logger: logging.OrNop(logger)}
}

// Create inserts a new pending task.
func (m *TaskManager) Create(ctx context.Context, task *storage.Task) error {
	task.Title = truncate(task.Title, 300)
	task.Description = truncate(task.Description, 500)
	if err := m.db.CreateTask(ctx, task); err != nil {
		return err
	}
	m.logger.Info("task created: %q [%s]", truncate(task.Title, 50), task.Priority)
	return nil
}

// Complete marks a task done.
func (m *TaskManager) Complete(ctx context.Context, id string) error {
	return m.db.UpdateTaskStatus(ctx, id, storage.TaskStatusDone)
}

// Pending lists open tasks, urgent first.
func (m *TaskManager) Pending(ctx context.Context, limit int) ([]*storage.Task, error) {
	return m.db.ListTasks(ctx, storage.TaskStatusPending, limit)
}

// PendingSummary formats open tasks for system prompt injection, or "".
func (m *TaskManager) PendingSummary(ctx context.Context, maxItems int) (string, error) {
	if maxItems <= 0 {
		maxItems = 5
	}
	pending, err := m.Pending(ctx, maxItems)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "", nil
	}
	lines := []string{fmt.Sprintf("\n─── PENDING TASKS (%d) ───", len(pending))}
	for _, t := range pending {
		due := ""
		if t.DueDate != "" {
			due = " [due: " + t.DueDate + "]"
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s%s",
			strings.ToUpper(t.Priority), truncate(t.Title, 60), due))
	}
	lines = append(lines, "─────────────────────────────────────")
	return strings.Join(lines, "\n"), nil
}

// Stats reports pending and total counts.
func (m *TaskManager) Stats(ctx context.Context) (pending, total int, err error) {
	open, err := m.db.ListTasks(ctx, storage.TaskStatusPending, 0)
	if err != nil {
		return 0, 0, err
	}
	all, err := m.db.ListTasks(ctx, "", 0)
	if err != nil {
		return 0, 0, err
	}
	return len(open), len(all), nil
}

// TaskHandler auto-creates tasks from messages like "remind me to X" and
// surfaces pending tasks in the system prompt.
type TaskHandler struct {
	manager *TaskManager
	logger  logging.Logger
}

// NewTaskHandler wires the handler.
func NewTaskHandler(db *storage.DB, logger logging.Logger) *TaskHandler {
	return &TaskHandler{manager: NewTaskManager(db, logger), logger: logging.OrNop(logger)}
}

func (h *TaskHandler) Name() string { return DomainTasks }

// Manager exposes the underlying task manager for the API layer.
func (h *TaskHandler) Manager() *TaskManager { return h.manager }

func (h *TaskHandler) SystemAddendum() string {
	return "For task/planning questions:\n" +
		"- When the user mentions something they need to do, proactively offer to add it as a task\n" +
		"- Reference open tasks when planning daily priorities\n" +
		"- Be specific about deadlines and priorities"
}

func (h *TaskHandler) PromptContext(ctx context.Context, sessionID string) (string, error) {
	return h.manager.PendingSummary(ctx, 5)
}

func (h *TaskHandler) PostProcess(ctx context.Context, ex Exchange, response string) (*Result, error) {
	result := NewResult(DomainTasks)
	if !taskCreationRe.MatchString(ex.UserMessage) {
		return result, nil
	}

	title := ExtractTaskTitle(ex.UserMessage)
	if len(title) <= 5 {
		return result, nil
	}
	task := &storage.Task{
		Title:     title,
		Priority:  DetectPriority(ex.UserMessage),
		DueDate:   DetectDueDate(ex.UserMessage, time.Now()),
		SessionID: ex.SessionID,
	}
	if err := h.manager.Create(ctx, task); err != nil {
		return result, err
	}

	result.StructuredData["task_created"] = task
	due := ""
	if task.DueDate != "" {
		due = " [due " + task.DueDate + "]"
	}
	result.AddAction(fmt.Sprintf("Task created: %q [%s]%s", truncate(title, 50), task.Priority, due))
	result.AddExtra(fmt.Sprintf("  Task added: %s [%s]%s", truncate(title, 60), task.Priority, due))
	return result, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

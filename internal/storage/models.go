package storage

// Session is one conversation lifetime, opened by the loop and closed at
// reflection time.
type Session struct {
	ID           string  `json:"id"`
	StartedAt    float64 `json:"started_at"`
	EndedAt      float64 `json:"ended_at,omitempty"`
	MessageCount int     `json:"message_count"`
	Domain       string  `json:"domain"`
	Summary      string  `json:"summary,omitempty"`
}

// Interaction is one immutable user/agent turn.
type Interaction struct {
	ID            string  `json:"id"`
	SessionID     string  `json:"session_id"`
	UserMessage   string  `json:"user_message"`
	AgentResponse string  `json:"agent_response"`
	Domain        string  `json:"domain"`
	Timestamp     float64 `json:"timestamp"`
	TokensUsed    int     `json:"tokens_used"`
}

// Fact is a standalone durable statement outside the graph.
type Fact struct {
	ID            string  `json:"id"`
	Content       string  `json:"content"`
	Domain        string  `json:"domain"`
	Confidence    float64 `json:"confidence"`
	CreatedAt     float64 `json:"created_at"`
	UpdatedAt     float64 `json:"updated_at"`
	SourceSession string  `json:"source_session,omitempty"`
	Tags          string  `json:"tags"`
}

// Mistake is a confirmed agent error; user_input is also vector-indexed
// under the same id.
type Mistake struct {
	ID            string  `json:"id"`
	SessionID     string  `json:"session_id"`
	UserInput     string  `json:"user_input"`
	AgentResponse string  `json:"agent_response"`
	Correction    string  `json:"correction"`
	Domain        string  `json:"domain"`
	ErrorPattern  string  `json:"error_pattern"`
	Timestamp     float64 `json:"timestamp"`
	SimilarCount  int     `json:"similar_count"`
}

// Preference is a keyed user preference row.
type Preference struct {
	Key       string  `json:"key"`
	Value     string  `json:"value"`
	Domain    string  `json:"domain"`
	UpdatedAt float64 `json:"updated_at"`
}

// HealthMetric is a structured measurement extracted by the health domain.
type HealthMetric struct {
	ID         string  `json:"id"`
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Notes      string  `json:"notes"`
	Timestamp  float64 `json:"timestamp"`
	SessionID  string  `json:"session_id"`
}

// Task statuses and priorities.
const (
	TaskStatusPending   = "pending"
	TaskStatusDone      = "done"
	TaskStatusCancelled = "cancelled"

	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Task is a tracked todo created by the tasks domain or the API.
type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	DueDate     string  `json:"due_date,omitempty"`
	Tags        string  `json:"tags"`
	CreatedAt   float64 `json:"created_at"`
	UpdatedAt   float64 `json:"updated_at"`
	CompletedAt float64 `json:"completed_at,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
}

// Recurrence values shared by reminders and calendar events.
const (
	RecurrenceNone    = "none"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// Reminder is a scheduled nudge surfaced by the proactive scheduler.
type Reminder struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Notes        string  `json:"notes"`
	DueTimestamp float64 `json:"due_timestamp"`
	Recurrence   string  `json:"recurrence"`
	Priority     string  `json:"priority"`
	Completed    bool    `json:"completed"`
	SnoozedUntil float64 `json:"snoozed_until"`
	CreatedAt    float64 `json:"created_at"`
	SessionID    string  `json:"session_id"`
}

// CalendarEvent is a scheduled event with a pre-event notification window.
type CalendarEvent struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	StartTimestamp  float64 `json:"start_timestamp"`
	EndTimestamp    float64 `json:"end_timestamp"`
	Location        string  `json:"location"`
	Notes           string  `json:"notes"`
	Recurrence      string  `json:"recurrence"`
	GoogleEventID   string  `json:"google_event_id,omitempty"`
	AllDay          bool    `json:"all_day"`
	ReminderMinutes int     `json:"reminder_minutes"`
	CreatedAt       float64 `json:"created_at"`
}

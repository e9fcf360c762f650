package types

import (
	"encoding/json"
	"time"
)

// ProcessID attributes memory records written by the agent.
const ProcessID = "plan_learn_agent"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation as the client holds it.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TaskOutcome classifies how a completed task went.
type TaskOutcome string

const (
	OutcomeCompleted TaskOutcome = "completed"
	OutcomeAdapted   TaskOutcome = "adapted"
	OutcomeLearned   TaskOutcome = "learned"
)

// OutcomeFromScore derives an outcome from a 0-10 success score.
func OutcomeFromScore(score float64) TaskOutcome {
	switch {
	case score >= 8:
		return OutcomeCompleted
	case score >= 5:
		return OutcomeAdapted
	default:
		return OutcomeLearned
	}
}

// NewTask is a task submitted for ingestion.
type NewTask struct {
	Date     string      `json:"date"`
	Name     string      `json:"name"`
	Score    float64     `json:"score"`
	TaskType string      `json:"task_type"`
	Outcome  TaskOutcome `json:"outcome,omitempty"`
	Notes    string      `json:"notes,omitempty"`
}

// Task is a persisted task_event row.
type Task struct {
	ID        string      `json:"id"`
	UserID    string      `json:"-"`
	Date      string      `json:"date"`
	Name      string      `json:"name"`
	Score     float64     `json:"score"`
	TaskType  string      `json:"task_type"`
	Outcome   TaskOutcome `json:"outcome"`
	Notes     string      `json:"notes,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Severity values used by generated and detected alerts.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeveritySuccess = "success"
	SeverityMedium  = "medium"
)

// NewAlert is an alert to persist.
type NewAlert struct {
	UserID    string         `json:"-"`
	AlertType string         `json:"alert_type"`
	Severity  string         `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
}

// Alert is a persisted alert_event row.
type Alert struct {
	ID             string          `json:"id"`
	UserID         string          `json:"-"`
	AlertType      string          `json:"alert_type"`
	Severity       string          `json:"severity"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at"`
}

// UsageEvent records tokens spent on one LLM-backed request.
type UsageEvent struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Endpoint         string    `json:"endpoint"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	BYOAPIKey        bool      `json:"byo_api_key"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates a user's usage events.
type UsageSummary struct {
	Events      int   `json:"events"`
	TotalTokens int64 `json:"total_tokens"`
}

// DeleteResult counts rows removed by a user data reset.
type DeleteResult struct {
	Alerts int64 `json:"alerts"`
	Usage  int64 `json:"usage"`
	Tasks  int64 `json:"tasks"`
}

// Embedding status values for facts.
const (
	EmbeddingPending  = "pending"
	EmbeddingComplete = "complete"
	EmbeddingFailed   = "failed"
)

// Fact is a memory fact attributed to a user entity.
type Fact struct {
	ID              string    `json:"id"`
	UserID          string    `json:"-"`
	Content         string    `json:"content"`
	NumTimes        int       `json:"num_times"`
	Embedding       []float32 `json:"-"`
	EmbeddingStatus string    `json:"-"`
	DateCreated     time.Time `json:"date_created"`
	DateLastTime    time.Time `json:"date_last_time"`
}

// Session is one memory session for a user.
type Session struct {
	ID          string    `json:"session_id"`
	DateCreated time.Time `json:"created_at"`
}

// StoredMessage is a persisted conversation message.
type StoredMessage struct {
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	SessionID   string    `json:"session_id"`
	DateCreated time.Time `json:"created_at"`
}

// ProcessAttribute describes something the agent process handles.
type ProcessAttribute struct {
	Content      string    `json:"attribute"`
	NumTimes     int       `json:"mention_count"`
	DateLastTime time.Time `json:"last_mentioned"`
}

// Triple is one knowledge-graph edge.
type Triple struct {
	Subject     string    `json:"subject"`
	Predicate   string    `json:"predicate"`
	Object      string    `json:"object"`
	DateCreated time.Time `json:"created_at"`
}

// SessionInfo summarizes a user's memory sessions.
type SessionInfo struct {
	TotalSessions int `json:"total_sessions"`
	TotalMessages int `json:"total_messages"`
}

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
	StepFailed   StepStatus = "failed"
)

// PlanStep is one step of an agent plan.
type PlanStep struct {
	StepNumber      int        `json:"step_number"`
	Action          string     `json:"action"`
	Reasoning       string     `json:"reasoning,omitempty"`
	ExpectedOutcome string     `json:"expected_outcome,omitempty"`
	Status          StepStatus `json:"status"`
	Result          string     `json:"result,omitempty"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	UserID              string        `json:"user_id"`
	Message             string        `json:"message"`
	OpenAIAPIKey        string        `json:"openai_api_key,omitempty"`
	ConversationHistory []ChatMessage `json:"conversation_history,omitempty"`
}

// IngestTasksRequest is the body of POST /api/tasks.
type IngestTasksRequest struct {
	UserID       string    `json:"user_id"`
	Tasks        []NewTask `json:"tasks"`
	OpenAIAPIKey string    `json:"openai_api_key,omitempty"`
}

// InsightsRequest is the body of POST /api/insights.
type InsightsRequest struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
}

// DetectRequest is the body of POST /api/alerts/{user_id}/detect.
type DetectRequest struct {
	Recent   []float64 `json:"recent"`
	Baseline []float64 `json:"baseline"`
}

// Pattern is a learned strategy recalled from memory.
type Pattern struct {
	Pattern       string     `json:"pattern"`
	TimesUsed     int        `json:"times_used"`
	LastUsed      time.Time  `json:"last_used"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	Effectiveness string     `json:"effectiveness,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// UsageResponse reports how much of the free allowance a user consumed.
type UsageResponse struct {
	UserID      string `json:"user_id"`
	FreeUses    int    `json:"free_uses"`
	Limit       int    `json:"limit"`
	NeedsAPIKey bool   `json:"needs_api_key"`
}

// IngestTasksResponse is the body returned by POST /api/tasks.
type IngestTasksResponse struct {
	Status   string   `json:"status"`
	Ingested int      `json:"ingested"`
	TaskIDs  []string `json:"task_ids"`
	Tasks    []Task   `json:"tasks"`
}

// InsightsResponse is the body returned by POST /api/insights.
type InsightsResponse struct {
	Learnings          []string `json:"learnings"`
	PatternsDiscovered []string `json:"patterns_discovered"`
	Success            bool     `json:"success"`
}

// AcknowledgeResponse reports the outcome of acknowledging an alert.
type AcknowledgeResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	ID           string `json:"id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// GenerateAlertsResponse is the body returned by alert generation.
type GenerateAlertsResponse struct {
	SuggestionsCreated int     `json:"suggestions_created"`
	Alerts             []Alert `json:"alerts"`
}

// AlertMessage is one message on a live alert stream.
type AlertMessage struct {
	Type  string `json:"type"`
	Count *int   `json:"count,omitempty"`
	Alert *Alert `json:"alert,omitempty"`
}

// Alert stream message types.
const (
	AlertMessageConnected = "connected"
	AlertMessageAlert     = "alert"
	AlertMessageHeartbeat = "heartbeat"
)

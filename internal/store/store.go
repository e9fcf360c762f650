package store

import (
	"context"
	"time"

	"github.com/hyperengineering/planlearn/internal/types"
)

// UsageStore records LLM usage per user.
type UsageStore interface {
	RecordUsage(ctx context.Context, event types.UsageEvent) (*types.UsageEvent, error)
	CountFreeUsage(ctx context.Context, userID string) (int, error)
	GetUsageSummary(ctx context.Context, userID string) (*types.UsageSummary, error)
}

// TaskStore persists completed tasks.
type TaskStore interface {
	CreateTasks(ctx context.Context, userID string, tasks []types.NewTask) ([]types.Task, error)
	ListTasks(ctx context.Context, userID string, limit int) ([]types.Task, error)
}

// AlertStore persists alerts and their acknowledgement state.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert types.NewAlert) (*types.Alert, error)
	ListAlerts(ctx context.Context, userID string) ([]types.Alert, error)
	ListAlertsSince(ctx context.Context, userID string, since time.Time) ([]types.Alert, error)
	CountAlerts(ctx context.Context, userID string) (int, error)
	AcknowledgeAlert(ctx context.Context, id string) (*types.Alert, error)
}

// MemoryStore persists the long-term memory model: facts, sessions,
// conversations, process attributes and knowledge-graph triples.
type MemoryStore interface {
	UpsertFact(ctx context.Context, userID, content string, embedding []float32) (*types.Fact, error)
	QueryFacts(ctx context.Context, q FactQuery) ([]types.Fact, error)
	CountFacts(ctx context.Context, q FactQuery) (int, error)
	FactsWithEmbeddings(ctx context.Context, userID string) ([]types.Fact, error)
	GetPendingEmbeddings(ctx context.Context, limit int) ([]types.Fact, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	MarkEmbeddingFailed(ctx context.Context, id string) error
	PruneFacts(ctx context.Context, olderThan time.Time) (int64, error)

	RecordConversation(ctx context.Context, userID string, messages []types.ChatMessage) (string, error)
	GetSessionInfo(ctx context.Context, userID string) (*types.SessionInfo, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]types.Session, error)
	RecentMessages(ctx context.Context, userID string, limit int) ([]types.StoredMessage, error)
	CountConversations(ctx context.Context, userID string) (int, error)

	UpsertProcessAttribute(ctx context.Context, processID, content string) error
	ListProcessAttributes(ctx context.Context, processID string, limit int) ([]types.ProcessAttribute, error)
	AddTriple(ctx context.Context, userID string, triple types.Triple) error
	ListTriples(ctx context.Context, userID string, limit int) ([]types.Triple, error)
}

// Store is the full persistence contract used by the server.
type Store interface {
	UsageStore
	TaskStore
	AlertStore
	MemoryStore
	DeleteUserData(ctx context.Context, userID string) (*types.DeleteResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// FactOrder selects the sort order for fact queries.
type FactOrder int

const (
	// OrderRecent sorts by date_last_time, newest first.
	OrderRecent FactOrder = iota
	// OrderFrequent sorts by num_times, then date_last_time, both descending.
	OrderFrequent
)

// FactQuery filters a user's facts.
// Keywords and Terms are case-insensitive substring matches. A fact must
// contain at least one keyword (when any are given) and at least one term
// (when any are given).
type FactQuery struct {
	UserID   string
	Keywords []string
	Terms    []string
	Order    FactOrder
	Limit    int
}

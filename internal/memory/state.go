package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/types"
)

// patternListKeywords widen patternKeywords for the pattern browser.
var patternListKeywords = []string{"strategy", "pattern", "approach", "steps", "learned", "successful", "effective"}

// statsKeywords mark facts counted as learned patterns.
var statsKeywords = []string{"strategy", "pattern", "learned"}

const (
	stateFactLimit     = 20
	stateSessionLimit  = 10
	stateMessageLimit  = 20
	stateContentLength = 500
	activityLimit      = 5
	activityLength     = 100
)

// StoredMessageView is a recent message in the state snapshot.
type StoredMessageView struct {
	Role      types.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	SessionID string     `json:"session_id"`
}

// StateStats summarizes a state snapshot.
type StateStats struct {
	TotalFacts    int `json:"total_facts"`
	TotalSessions int `json:"total_sessions"`
	TotalMessages int `json:"total_messages"`
}

// State is a snapshot of a user's memory.
type State struct {
	EntityID            string              `json:"entity_id"`
	Facts               []RecalledFact      `json:"facts"`
	Sessions            []types.Session     `json:"sessions"`
	RecentConversations []StoredMessageView `json:"recent_conversations"`
	Stats               StateStats          `json:"stats"`
}

// Activity is one entry of recent memory activity.
type Activity struct {
	Fact      string    `json:"fact"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskStats aggregates what memory knows about a user's tasks.
type TaskStats struct {
	TotalPatternsLearned int        `json:"total_patterns_learned"`
	TotalConversations   int        `json:"total_conversations"`
	MostCommonTaskTypes  []string   `json:"most_common_task_types"`
	RecentActivity       []Activity `json:"recent_activity"`
}

// State returns the user's recent facts, sessions and messages.
func (m *Manager) State(ctx context.Context, userID string) (*State, error) {
	facts, err := m.Facts(ctx, userID, stateFactLimit)
	if err != nil {
		return nil, err
	}
	sessions, err := m.store.ListSessions(ctx, userID, stateSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	messages, err := m.store.RecentMessages(ctx, userID, stateMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}

	views := make([]StoredMessageView, len(messages))
	for i, msg := range messages {
		views[i] = StoredMessageView{
			Role:      msg.Role,
			Content:   truncate(msg.Content, stateContentLength),
			CreatedAt: msg.DateCreated,
			SessionID: msg.SessionID,
		}
	}
	if sessions == nil {
		sessions = []types.Session{}
	}

	return &State{
		EntityID:            userID,
		Facts:               facts,
		Sessions:            sessions,
		RecentConversations: views,
		Stats: StateStats{
			TotalFacts:    len(facts),
			TotalSessions: len(sessions),
			TotalMessages: len(views),
		},
	}, nil
}

// Facts returns the user's most recently mentioned facts.
func (m *Manager) Facts(ctx context.Context, userID string, limit int) ([]RecalledFact, error) {
	facts, err := m.store.QueryFacts(ctx, store.FactQuery{UserID: userID, Order: store.OrderRecent, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	out := make([]RecalledFact, len(facts))
	for i, f := range facts {
		created := f.DateCreated
		out[i] = RecalledFact{
			Fact:          f.Content,
			MentionCount:  f.NumTimes,
			LastMentioned: f.DateLastTime,
			CreatedAt:     &created,
		}
	}
	return out, nil
}

// KnowledgeGraph returns the user's newest triples.
func (m *Manager) KnowledgeGraph(ctx context.Context, userID string, limit int) ([]types.Triple, error) {
	triples, err := m.store.ListTriples(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if triples == nil {
		triples = []types.Triple{}
	}
	return triples, nil
}

// ProcessAttributes returns what a process handles most often.
func (m *Manager) ProcessAttributes(ctx context.Context, processID string, limit int) ([]types.ProcessAttribute, error) {
	attrs, err := m.store.ListProcessAttributes(ctx, processID, limit)
	if err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = []types.ProcessAttribute{}
	}
	return attrs, nil
}

// Patterns lists learned strategies with an effectiveness rating. A task
// type narrows the list to facts mentioning it.
func (m *Manager) Patterns(ctx context.Context, userID, taskType string, limit int) ([]types.Pattern, error) {
	q := store.FactQuery{
		UserID:   userID,
		Keywords: patternListKeywords,
		Order:    store.OrderFrequent,
		Limit:    limit,
	}
	if taskType != "" {
		// A task-type filter does not widen the keyword set
		q.Keywords = append(append([]string{}, patternKeywords...), "learned")
		q.Terms = []string{taskType}
	}

	facts, err := m.store.QueryFacts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	out := make([]types.Pattern, len(facts))
	for i, f := range facts {
		created := f.DateCreated
		out[i] = types.Pattern{
			Pattern:       f.Content,
			TimesUsed:     f.NumTimes,
			LastUsed:      f.DateLastTime,
			CreatedAt:     &created,
			Effectiveness: Effectiveness(f.NumTimes),
		}
	}
	return out, nil
}

// Effectiveness rates a pattern by how often it was used.
func Effectiveness(timesUsed int) string {
	switch {
	case timesUsed > 3:
		return "high"
	case timesUsed > 1:
		return "medium"
	default:
		return "new"
	}
}

// TaskStats counts learned patterns and conversations and lists recent
// activity.
func (m *Manager) TaskStats(ctx context.Context, userID string) (*TaskStats, error) {
	learned, err := m.store.CountFacts(ctx, store.FactQuery{UserID: userID, Keywords: statsKeywords})
	if err != nil {
		return nil, err
	}
	conversations, err := m.store.CountConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := m.store.QueryFacts(ctx, store.FactQuery{UserID: userID, Order: store.OrderRecent, Limit: activityLimit})
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}

	activity := make([]Activity, len(recent))
	for i, f := range recent {
		text := f.Content
		if len([]rune(text)) > activityLength {
			text = truncate(text, activityLength) + "..."
		}
		activity[i] = Activity{Fact: text, Timestamp: f.DateLastTime}
	}

	return &TaskStats{
		TotalPatternsLearned: learned,
		TotalConversations:   conversations,
		MostCommonTaskTypes:  []string{},
		RecentActivity:       activity,
	}, nil
}

// Export is a portable dump of a user's memory.
type Export struct {
	EntityID   string             `json:"entity_id"`
	ExportedAt time.Time          `json:"exported_at"`
	Facts      []RecalledFact     `json:"facts"`
	Patterns   []types.Pattern    `json:"patterns"`
	Triples    []types.Triple     `json:"triples"`
	Sessions   []types.Session    `json:"sessions"`
	Info       *types.SessionInfo `json:"session_info"`
}

const exportLimit = 1000

// Export collects everything memory holds for a user.
func (m *Manager) Export(ctx context.Context, userID string) (*Export, error) {
	facts, err := m.Facts(ctx, userID, exportLimit)
	if err != nil {
		return nil, err
	}
	patterns, err := m.Patterns(ctx, userID, "", exportLimit)
	if err != nil {
		return nil, err
	}
	triples, err := m.KnowledgeGraph(ctx, userID, exportLimit)
	if err != nil {
		return nil, err
	}
	sessions, err := m.store.ListSessions(ctx, userID, exportLimit)
	if err != nil {
		return nil, err
	}
	info, err := m.store.GetSessionInfo(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Export{
		EntityID:   userID,
		ExportedAt: time.Now().UTC(),
		Facts:      facts,
		Patterns:   patterns,
		Triples:    triples,
		Sessions:   sessions,
		Info:       info,
	}, nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

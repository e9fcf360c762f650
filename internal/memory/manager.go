// Package memory is the agent's long-term memory: user facts, sessions,
// process attributes and knowledge-graph triples, with vector recall and
// background fact extraction.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/hyperengineering/planlearn/internal/embedding"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/types"
)

// Limits applied by recall and pattern lookups.
const (
	RecallLimit          = 10
	LearnedPatternsLimit = 5
	DefaultPatternTTL    = 30 * time.Second
)

// patternKeywords mark a fact as a reusable strategy.
var patternKeywords = []string{"strategy", "pattern", "approach", "steps"}

// RecalledFact is a fact as surfaced to the chat client.
type RecalledFact struct {
	Fact          string     `json:"fact"`
	MentionCount  int        `json:"mention_count"`
	LastMentioned time.Time  `json:"last_mentioned"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// Job is a unit of background fact extraction.
type Job struct {
	UserID   string
	Messages []types.ChatMessage
}

// Queue accepts extraction jobs. Enqueue reports false when the job was
// dropped.
type Queue interface {
	Enqueue(job Job) bool
}

// Manager coordinates the memory store, the vector index and the pattern
// cache.
type Manager struct {
	store    store.MemoryStore
	embedder embedding.Embedder
	index    *Index
	patterns *ristretto.Cache
	ttl      time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	gens  map[string]uint64
	queue Queue
}

// NewManager creates a memory manager. A nil embedder disables vector
// recall.
func NewManager(st store.MemoryStore, emb embedding.Embedder, logger *slog.Logger) (*Manager, error) {
	if emb == nil {
		emb = embedding.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create pattern cache: %w", err)
	}
	return &Manager{
		store:    st,
		embedder: emb,
		index:    NewIndex(),
		patterns: cache,
		ttl:      DefaultPatternTTL,
		logger:   logger,
		gens:     make(map[string]uint64),
	}, nil
}

// AttachQueue sets where RecordConversation sends extraction jobs.
func (m *Manager) AttachQueue(q Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = q
}

// Close releases the pattern cache.
func (m *Manager) Close() {
	m.patterns.Close()
}

// Recall returns the facts most relevant to query. Vector similarity is
// used when the user has embedded facts and the query can be embedded;
// otherwise the most recently mentioned facts are returned.
func (m *Manager) Recall(ctx context.Context, userID, query string) ([]RecalledFact, error) {
	if strings.TrimSpace(query) != "" {
		recalled, err := m.semanticRecall(ctx, userID, query)
		switch {
		case err == nil && len(recalled) > 0:
			return recalled, nil
		case err != nil && !errors.Is(err, embedding.ErrUnavailable):
			m.logger.Warn("vector recall failed, using recency",
				"component", "memory",
				"user_id", userID,
				"error", err,
			)
		}
	}

	facts, err := m.store.QueryFacts(ctx, store.FactQuery{
		UserID: userID,
		Order:  store.OrderRecent,
		Limit:  RecallLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("recall facts: %w", err)
	}
	out := make([]RecalledFact, len(facts))
	for i, f := range facts {
		out[i] = RecalledFact{Fact: f.Content, MentionCount: f.NumTimes, LastMentioned: f.DateLastTime}
	}
	return out, nil
}

func (m *Manager) semanticRecall(ctx context.Context, userID, query string) ([]RecalledFact, error) {
	err := m.index.Warm(ctx, userID, func(ctx context.Context) ([]types.Fact, error) {
		return m.store.FactsWithEmbeddings(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	if m.index.Count(userID) == 0 {
		return nil, nil
	}

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := m.index.Query(ctx, userID, vec, RecallLimit)
	if err != nil {
		return nil, err
	}

	out := make([]RecalledFact, len(matches))
	for i, match := range matches {
		out[i] = RecalledFact{Fact: match.Content, MentionCount: match.NumTimes, LastMentioned: match.DateLastTime}
	}
	return out, nil
}

// SessionInfo counts the user's sessions and messages.
func (m *Manager) SessionInfo(ctx context.Context, userID string) (*types.SessionInfo, error) {
	return m.store.GetSessionInfo(ctx, userID)
}

// LearnedPatterns returns up to five strategy facts, most used first. When
// a task type or keywords are given, a fact must also mention one of them.
func (m *Manager) LearnedPatterns(ctx context.Context, userID, taskType string, keywords []string) ([]types.Pattern, error) {
	var terms []string
	if taskType != "" {
		terms = append(terms, taskType)
	}
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			terms = append(terms, k)
		}
	}

	key := m.cacheKey(userID, "learned", taskType, strings.Join(terms, "\x1f"))
	if v, ok := m.patterns.Get(key); ok {
		if cached, ok := v.([]types.Pattern); ok {
			return cached, nil
		}
	}

	facts, err := m.store.QueryFacts(ctx, store.FactQuery{
		UserID:   userID,
		Keywords: patternKeywords,
		Terms:    terms,
		Order:    store.OrderFrequent,
		Limit:    LearnedPatternsLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("learned patterns: %w", err)
	}

	patterns := make([]types.Pattern, len(facts))
	for i, f := range facts {
		patterns[i] = types.Pattern{Pattern: f.Content, TimesUsed: f.NumTimes, LastUsed: f.DateLastTime}
	}

	m.patterns.SetWithTTL(key, patterns, 1, m.ttl)
	m.patterns.Wait()
	return patterns, nil
}

// SearchFacts does a case-insensitive substring search over a user's
// facts, most mentioned first.
func (m *Manager) SearchFacts(ctx context.Context, userID, query string, limit int) ([]types.Fact, error) {
	q := store.FactQuery{UserID: userID, Order: store.OrderFrequent, Limit: limit}
	if query != "" {
		q.Terms = []string{query}
	}
	return m.store.QueryFacts(ctx, q)
}

// StoreFact upserts a fact and embeds it when it is new. Embedding
// failures leave the fact pending for the retry worker.
func (m *Manager) StoreFact(ctx context.Context, userID, content string) (*types.Fact, error) {
	fact, err := m.store.UpsertFact(ctx, userID, content, nil)
	if err != nil {
		return nil, err
	}
	m.invalidate(userID)

	if fact.EmbeddingStatus == types.EmbeddingPending {
		vec, err := m.embedder.Embed(ctx, fact.Content)
		switch {
		case err == nil:
			if err := m.store.UpdateEmbedding(ctx, fact.ID, vec); err != nil {
				return nil, err
			}
			fact.Embedding = vec
			fact.EmbeddingStatus = types.EmbeddingComplete
		case errors.Is(err, embedding.ErrUnavailable):
		default:
			m.logger.Warn("fact embedding deferred",
				"component", "memory",
				"fact_id", fact.ID,
				"error", err,
			)
		}
	}

	m.Indexed(ctx, *fact)
	return fact, nil
}

// Indexed refreshes the vector index entry for an embedded fact.
func (m *Manager) Indexed(ctx context.Context, fact types.Fact) {
	if err := m.index.Add(ctx, fact); err != nil {
		m.logger.Warn("index update failed",
			"component", "memory",
			"fact_id", fact.ID,
			"error", err,
		)
	}
}

// RecordConversation persists an exchange and queues it for fact
// extraction. Returns the new session id.
func (m *Manager) RecordConversation(ctx context.Context, userID string, messages []types.ChatMessage) (string, error) {
	sessionID, err := m.store.RecordConversation(ctx, userID, messages)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	q := m.queue
	m.mu.Unlock()
	if q != nil && !q.Enqueue(Job{UserID: userID, Messages: messages}) {
		m.logger.Warn("augmentation queue full, conversation not analyzed",
			"component", "memory",
			"user_id", userID,
			"session_id", sessionID,
		)
	}
	return sessionID, nil
}

// LearnFromTask records a completed task as a conversation so its
// learnings are extracted in the background.
func (m *Manager) LearnFromTask(ctx context.Context, userID string, task types.Task) error {
	summary := fmt.Sprintf("On %s, the user completed a %s task: '%s' with a success score of %s/10.",
		task.Date, task.TaskType, task.Name, formatScore(task.Score))
	if task.Notes != "" {
		summary += " Notes: " + task.Notes
	}
	_, err := m.RecordConversation(ctx, userID, []types.ChatMessage{
		{Role: types.RoleSystem, Content: TaskLearningPrompt},
		{Role: types.RoleUser, Content: summary},
	})
	return err
}

// TaskLearningPrompt frames completed-task summaries for extraction.
const TaskLearningPrompt = "You are processing completed task data. Extract learnings and patterns that can help with future similar tasks."

// Prune removes stale one-off facts and resets derived state.
func (m *Manager) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := m.store.PruneFacts(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := m.index.Reset(); err != nil {
			return n, err
		}
		m.patterns.Clear()
	}
	return n, nil
}

// Forget drops cached state for a user after their data was deleted.
func (m *Manager) Forget(userID string) {
	m.invalidate(userID)
	if err := m.index.Drop(userID); err != nil {
		m.logger.Warn("index drop failed", "component", "memory", "user_id", userID, "error", err)
	}
}

// cacheKey namespaces a cache entry under the user's current generation so
// one write invalidates every entry for that user.
func (m *Manager) cacheKey(userID string, parts ...string) string {
	m.mu.Lock()
	gen := m.gens[userID]
	m.mu.Unlock()
	return fmt.Sprintf("%s\x1e%d\x1e%s", userID, gen, strings.Join(parts, "\x1e"))
}

func (m *Manager) invalidate(userID string) {
	m.mu.Lock()
	m.gens[userID]++
	m.mu.Unlock()
}

func formatScore(score float64) string {
	if score == float64(int64(score)) {
		return fmt.Sprintf("%d", int64(score))
	}
	return fmt.Sprintf("%g", score)
}

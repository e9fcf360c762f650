package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hyperengineering/planlearn/internal/plan"
	"github.com/hyperengineering/planlearn/internal/stream"
	"github.com/hyperengineering/planlearn/internal/types"
)

// Session is one user's conversation. It carries the history between
// turns and follows the agent's plan from stream events.
type Session struct {
	client *Client
	userID string
	apiKey string

	mu      sync.Mutex
	history []types.ChatMessage
	board   plan.Board
	phase   plan.Machine
}

// NewSession starts an empty session. apiKey is the user's own OpenAI key
// and may be empty.
func (c *Client) NewSession(userID, apiKey string) *Session {
	return &Session{client: c, userID: userID, apiKey: apiKey}
}

// Send runs one chat turn. onText, when non-nil, receives assistant text as
// it streams. The exchange joins the history only when the turn succeeds.
func (s *Session) Send(ctx context.Context, message string, onText func(string)) (string, error) {
	s.mu.Lock()
	history := make([]types.ChatMessage, len(s.history))
	copy(history, s.history)
	s.phase = plan.Machine{}
	s.mu.Unlock()

	reply, err := s.client.Chat(ctx, types.ChatRequest{
		UserID:              s.userID,
		Message:             message,
		OpenAIAPIKey:        s.apiKey,
		ConversationHistory: history,
	}, Handler{
		OnText:  onText,
		OnEvent: s.apply,
	})
	if err != nil {
		return reply, err
	}

	s.mu.Lock()
	s.history = append(s.history,
		types.ChatMessage{Role: types.RoleUser, Content: message},
		types.ChatMessage{Role: types.RoleAssistant, Content: reply},
	)
	s.mu.Unlock()
	return reply, nil
}

func (s *Session) apply(ev stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase.Reduce(ev)
	if err := s.board.ApplyEvent(ev); err != nil {
		slog.Debug("plan update skipped", "component", "client", "user_id", s.userID, "error", err)
	}
}

// History returns a copy of the conversation so far.
func (s *Session) History() []types.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Plan returns the current plan steps grouped by status.
func (s *Session) Plan() plan.Columns {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Columns()
}

// Phase returns the workflow phase reached by the last turn.
func (s *Session) Phase() plan.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase.Current()
}

// Reset clears the history and the plan.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.board = plan.Board{}
	s.phase = plan.Machine{}
}

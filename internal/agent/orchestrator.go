package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/memory"
	"github.com/hyperengineering/planlearn/internal/plan"
	"github.com/hyperengineering/planlearn/internal/stream"
	"github.com/hyperengineering/planlearn/internal/types"
)

// ChatEndpoint is the usage endpoint recorded for chat turns.
const ChatEndpoint = "/api/chat"

// ErrStreamInterrupted wraps failures that happened after the response
// started streaming. An error event has already been written for them.
var ErrStreamInterrupted = errors.New("chat stream interrupted")

// ProviderSource picks the provider for a request.
type ProviderSource interface {
	For(byoKey string) llm.Provider
}

// ChatMemory is the memory surface a chat turn needs.
type ChatMemory interface {
	LearnedPatterns(ctx context.Context, userID, taskType string, keywords []string) ([]types.Pattern, error)
	Recall(ctx context.Context, userID, query string) ([]memory.RecalledFact, error)
	SessionInfo(ctx context.Context, userID string) (*types.SessionInfo, error)
	RecordConversation(ctx context.Context, userID string, messages []types.ChatMessage) (string, error)
}

// ToolExecutor runs one tool call.
type ToolExecutor interface {
	Execute(ctx context.Context, name, argsJSON, userID string) string
}

// UsageRecorder persists token usage.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, event types.UsageEvent) (*types.UsageEvent, error)
}

// Options tune the model calls of a chat turn.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Orchestrator runs chat turns.
type Orchestrator struct {
	providers ProviderSource
	memory    ChatMemory
	tools     ToolExecutor
	usage     UsageRecorder
	opts      Options
	logger    *slog.Logger
}

// NewOrchestrator wires a chat orchestrator.
func NewOrchestrator(providers ProviderSource, mem ChatMemory, tools ToolExecutor, usage UsageRecorder, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		providers: providers,
		memory:    mem,
		tools:     tools,
		usage:     usage,
		opts:      opts,
		logger:    logger,
	}
}

type recallData struct {
	Facts        []memory.RecalledFact `json:"facts"`
	SessionInfo  types.SessionInfo     `json:"session_info"`
	RecallTimeMS int64                 `json:"recall_time_ms"`
}

// Chat runs one turn and streams assistant text interleaved with status
// events to w.
//
// When the provider fails before producing any output, nothing is written
// and the error is returned as is so the caller can still choose the HTTP
// status. Later failures are reported in-band as an error event and
// returned wrapped in ErrStreamInterrupted.
func (o *Orchestrator) Chat(ctx context.Context, req types.ChatRequest, w io.Writer) error {
	start := time.Now()
	provider := o.providers.For(req.OpenAIAPIKey)
	out := newEventWriter(w)
	userID := req.UserID

	patterns, err := o.memory.LearnedPatterns(ctx, userID, "", nil)
	if err != nil {
		o.logger.Warn("pattern lookup failed", "component", "agent", "user_id", userID, "error", err)
	}
	system, history := splitHistory(SystemPrompt(userID, patterns), req.ConversationHistory)

	out.event(stream.NewEvent(stream.TypeRecallStart, stream.StatusRetrieving, "Retrieving memories from Memori...", nil))

	recallStart := time.Now()
	facts, err := o.memory.Recall(ctx, userID, req.Message)
	if err != nil {
		o.logger.Warn("recall failed", "component", "agent", "user_id", userID, "error", err)
	}
	if facts == nil {
		facts = []memory.RecalledFact{}
	}
	var info types.SessionInfo
	if si, err := o.memory.SessionInfo(ctx, userID); err != nil {
		o.logger.Warn("session info failed", "component", "agent", "user_id", userID, "error", err)
	} else {
		info = *si
	}

	out.event(stream.NewEvent(stream.TypeRecallComplete, stream.StatusComplete,
		fmt.Sprintf("Found %d relevant memories", len(facts)),
		recallData{Facts: facts, SessionInfo: info, RecallTimeMS: time.Since(recallStart).Milliseconds()},
	))
	out.event(stream.NewEvent(stream.TypeLLMStart, stream.StatusProcessing, "Processing with enhanced context...", nil))

	messages := append(history, llm.UserMessage(req.Message))
	onDelta := func(d llm.Delta) error { return out.text(d.Text) }

	first, err := provider.Stream(ctx, llm.Request{
		System:      system,
		Messages:    messages,
		Tools:       Definitions(),
		Temperature: o.opts.Temperature,
		MaxTokens:   o.opts.MaxTokens,
	}, onDelta)
	if err != nil {
		return o.fail(out, userID, err)
	}
	if err := out.release(); err != nil {
		return err
	}

	usage := first.Usage
	var reply strings.Builder
	reply.WriteString(first.Text)

	calls := namedCalls(first.ToolCalls)
	if len(calls) > 0 {
		names := make([]string, len(calls))
		for i, c := range calls {
			names[i] = c.Name
		}
		if err := out.event(stream.NewEvent(stream.TypeToolExecutionStart, stream.StatusExecuting,
			"Executing tools: "+strings.Join(names, ", "),
			map[string]any{"tools": names},
		)); err != nil {
			return err
		}

		followUp := append(append([]llm.Message{}, messages...), llm.Message{
			Role:      llm.RoleAssistant,
			Content:   first.Text,
			ToolCalls: calls,
		})
		results := make([]plan.ToolResult, 0, len(calls))
		for _, c := range calls {
			result := o.tools.Execute(ctx, c.Name, c.Arguments, userID)
			followUp = append(followUp, llm.ToolResultMessage(c.ID, result))
			results = append(results, plan.ToolResult{Tool: c.Name, ResultPreview: result})
		}

		if err := out.event(stream.NewEvent(stream.TypeToolExecutionComplete, stream.StatusComplete,
			fmt.Sprintf("Retrieved data from %d tool(s)", len(results)),
			map[string]any{"results": results},
		)); err != nil {
			return err
		}

		second, err := provider.Stream(ctx, llm.Request{
			System:      system,
			Messages:    followUp,
			Temperature: o.opts.Temperature,
			MaxTokens:   o.opts.MaxTokens,
		}, onDelta)
		if err != nil {
			return o.fail(out, userID, err)
		}
		usage = usage.Add(second.Usage)
		reply.WriteString(second.Text)
	}

	if err := out.event(stream.NewEvent(stream.TypeStoreStart, stream.StatusStoring, "Storing new memories in Memori...", nil)); err != nil {
		return err
	}

	// The turn is already delivered; persistence failures are only logged
	if _, err := o.memory.RecordConversation(ctx, userID, []types.ChatMessage{
		{Role: types.RoleUser, Content: req.Message},
		{Role: types.RoleAssistant, Content: reply.String()},
	}); err != nil {
		o.logger.Error("record conversation failed", "component", "agent", "user_id", userID, "error", err)
	}
	if _, err := o.usage.RecordUsage(ctx, types.UsageEvent{
		UserID:           userID,
		Endpoint:         ChatEndpoint,
		Provider:         provider.Name(),
		Model:            provider.Model(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.Total(),
		BYOAPIKey:        req.OpenAIAPIKey != "",
	}); err != nil {
		o.logger.Error("record usage failed", "component", "agent", "user_id", userID, "error", err)
	}

	if err := out.event(stream.NewEvent(stream.TypeStoreComplete, stream.StatusComplete, "Memories stored successfully", nil)); err != nil {
		return err
	}

	o.logger.Info("chat turn complete",
		"component", "agent",
		"action", "chat",
		"user_id", userID,
		"tools", len(calls),
		"total_tokens", usage.Total(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// fail reports a provider error. Before release the error is returned
// untouched; afterwards it is written as an error event.
func (o *Orchestrator) fail(out *eventWriter, userID string, err error) error {
	if !out.released || errors.Is(err, context.Canceled) {
		return err
	}
	o.logger.Error("chat stream failed", "component", "agent", "user_id", userID, "error", err)
	out.event(stream.NewEvent(stream.TypeError, stream.StatusError, ErrorMessage(err), nil))
	return fmt.Errorf("%w: %w", ErrStreamInterrupted, err)
}

// ErrorMessage is the user-facing text for a provider failure.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrInvalidAPIKey):
		return "Invalid API key. Please check your OpenAI API key and try again."
	case errors.Is(err, llm.ErrRateLimited):
		return "Rate limit exceeded. Please wait a moment and try again."
	case errors.Is(err, llm.ErrProviderUnavailable):
		return "The AI service is temporarily unavailable. Please try again later."
	default:
		return "Something went wrong while generating a response."
	}
}

// splitHistory folds system messages from the client history into the
// system prompt and converts the rest.
func splitHistory(system string, history []types.ChatMessage) (string, []llm.Message) {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case types.RoleSystem:
			system += "\n\n" + m.Content
		case types.RoleAssistant:
			msgs = append(msgs, llm.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, llm.UserMessage(m.Content))
		}
	}
	return system, msgs
}

func namedCalls(calls []llm.ToolCall) []llm.ToolCall {
	var out []llm.ToolCall
	for _, c := range calls {
		if c.Name != "" {
			out = append(out, c)
		}
	}
	return out
}

// Package llm abstracts the chat-completion providers used by the agent.
package llm

import (
	"context"
)

// Role identifies the author of a provider message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a provider conversation.
// Assistant messages may carry ToolCalls; tool messages answer the call
// named by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a function invocation requested by the model.
// Arguments is the raw JSON argument object as the model produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a function the model may call.
// Parameters is a JSON schema object with "properties" and "required".
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single completion request.
type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// Delta is an incremental piece of streamed assistant text.
type Delta struct {
	Text string
}

// Usage counts tokens spent by one provider call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Add sums two usage records.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// Response is the assembled result of a completion.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is a chat-completion backend.
type Provider interface {
	// Stream sends text deltas to onDelta as they arrive and returns the
	// assembled response. An error returned by onDelta aborts the stream.
	Stream(ctx context.Context, req Request, onDelta func(Delta) error) (*Response, error)
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
	Model() string
}

// UserMessage is shorthand for a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage is shorthand for a plain assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage answers a tool call.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// schemaParts splits a JSON schema object into its properties and
// required list.
func schemaParts(schema map[string]any) (map[string]any, []string) {
	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return props, required
}

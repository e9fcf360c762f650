package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Compile-time interface check
var _ Provider = (*Anthropic)(nil)

const defaultAnthropicMaxTokens = 2048

// eventStream is the subset of the SDK's SSE stream the provider reads.
type eventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

// MessagesService defines the Messages API calls the provider makes.
type MessagesService interface {
	New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, params anthropic.MessageNewParams) eventStream
}

type sdkMessages struct {
	svc *anthropic.MessageService
}

func (s sdkMessages) New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return s.svc.New(ctx, params)
}

func (s sdkMessages) NewStreaming(ctx context.Context, params anthropic.MessageNewParams) eventStream {
	return s.svc.NewStreaming(ctx, params)
}

// Anthropic implements Provider with the Claude Messages API.
type Anthropic struct {
	messages MessagesService
	model    string
}

// NewAnthropic creates a provider for the given key and model.
func NewAnthropic(apiKey, model string) *Anthropic {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Anthropic{
		messages: sdkMessages{svc: &client.Messages},
		model:    model,
	}
}

func (a *Anthropic) Name() string  { return "anthropic" }
func (a *Anthropic) Model() string { return a.model }

func (a *Anthropic) params(req Request) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	return params
}

// Complete runs a non-streaming request.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := a.messages.New(ctx, a.params(req))
	if err != nil {
		return nil, classifyAnthropic(err)
	}
	return fromAnthropicMessage(msg), nil
}

// Stream runs a streaming request, accumulating events into the final
// message while forwarding text deltas.
func (a *Anthropic) Stream(ctx context.Context, req Request, onDelta func(Delta) error) (*Response, error) {
	stream := a.messages.NewStreaming(ctx, a.params(req))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate stream event: %w", err)
		}

		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := onDelta(Delta{Text: delta.Text}); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropic(err)
	}

	return fromAnthropicMessage(&message), nil
}

func fromAnthropicMessage(msg *anthropic.Message) *Response {
	out := &Response{
		Usage: Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil || len(args) == 0 || string(args) == "null" {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})
		}
	}
	return out
}

// toAnthropicMessages converts provider-neutral messages. Consecutive tool
// results are merged into a single user turn, as the Messages API expects.
func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			out = append(out, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return out
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		props, required := schemaParts(t.Parameters)
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		}
	}
	return out
}

func classifyAnthropic(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classify(apiErr.StatusCode, err)
	}
	return classify(0, err)
}

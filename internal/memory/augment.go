package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/plan"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/types"
)

const augmentationPrompt = `You maintain the long-term memory of a task planning assistant.
Read the conversation and extract what is worth remembering about the user.

Return only a JSON object with these keys:
- "facts": short standalone statements about the user's preferences, habits, goals, and any strategy, pattern, approach, or steps that worked for them
- "attributes": short labels for the kinds of tasks the assistant handled (e.g. "research planning", "workout scheduling")
- "triples": knowledge-graph edges as objects {"subject", "predicate", "object"}

Use empty arrays when nothing is worth remembering.`

// Extraction is what the augmentation model found in a conversation.
type Extraction struct {
	Facts      []string       `json:"facts"`
	Attributes []string       `json:"attributes"`
	Triples    []types.Triple `json:"triples"`
}

// ParseExtraction decodes model output, tolerating a code fence.
func ParseExtraction(raw string) (*Extraction, error) {
	var ex Extraction
	if err := json.Unmarshal([]byte(plan.StripFence(raw)), &ex); err != nil {
		return nil, fmt.Errorf("parse extraction: %w", err)
	}
	return &ex, nil
}

// Augmenter turns conversations into facts, process attributes and
// triples.
type Augmenter struct {
	manager  *Manager
	provider llm.Provider
	logger   *slog.Logger
}

// NewAugmenter creates an augmenter that writes through manager.
func NewAugmenter(manager *Manager, provider llm.Provider, logger *slog.Logger) *Augmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Augmenter{manager: manager, provider: provider, logger: logger}
}

// Extract analyzes one job. Unparseable model output stores nothing.
func (a *Augmenter) Extract(ctx context.Context, job Job) error {
	resp, err := a.provider.Complete(ctx, llm.Request{
		System:   augmentationPrompt,
		Messages: []llm.Message{llm.UserMessage(transcript(job.Messages))},
	})
	if err != nil {
		return fmt.Errorf("augmentation call: %w", err)
	}

	ex, err := ParseExtraction(resp.Text)
	if err != nil {
		a.logger.Debug("augmentation output discarded",
			"component", "augmenter",
			"user_id", job.UserID,
			"error", err,
		)
		return nil
	}

	var errs []error
	facts := 0
	for _, f := range ex.Facts {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if _, err := a.manager.StoreFact(ctx, job.UserID, f); err != nil {
			errs = append(errs, err)
			continue
		}
		facts++
	}
	for _, attr := range ex.Attributes {
		if strings.TrimSpace(attr) == "" {
			continue
		}
		if err := a.manager.store.UpsertProcessAttribute(ctx, types.ProcessID, attr); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range ex.Triples {
		err := a.manager.store.AddTriple(ctx, job.UserID, t)
		if err != nil && !errors.Is(err, store.ErrEmptyContent) {
			errs = append(errs, err)
		}
	}

	a.logger.Info("conversation augmented",
		"component", "augmenter",
		"user_id", job.UserID,
		"facts", facts,
		"attributes", len(ex.Attributes),
		"triples", len(ex.Triples),
	)
	return errors.Join(errs...)
}

func transcript(messages []types.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

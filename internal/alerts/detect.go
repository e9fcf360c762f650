// Package alerts detects, generates and fans out user alerts.
package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/planlearn/internal/types"
)

// Alert types.
const (
	TypeSpendingSpike = "spending_spike"
	TypeSuggestion    = "suggestion"
)

// SpikeFactor is how far the recent mean must exceed the baseline mean.
const SpikeFactor = 1.2

// SpendingSpike returns an alert when the mean of recent exceeds the mean
// of baseline by more than SpikeFactor. Empty input never alerts.
func SpendingSpike(userID string, recent, baseline []float64) *types.NewAlert {
	if len(recent) == 0 || len(baseline) == 0 {
		return nil
	}
	recentAvg, baselineAvg := mean(recent), mean(baseline)
	if recentAvg <= baselineAvg*SpikeFactor {
		return nil
	}
	return &types.NewAlert{
		UserID:    userID,
		AlertType: TypeSpendingSpike,
		Severity:  types.SeverityMedium,
		Title:     "Spending spike detected",
		Message:   "Your recent spending is significantly higher than your usual pattern.",
		Metadata: map[string]any{
			"recent_avg":   recentAvg,
			"baseline_avg": baselineAvg,
		},
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Creator persists alerts.
type Creator interface {
	CreateAlert(ctx context.Context, alert types.NewAlert) (*types.Alert, error)
}

// Detector inspects input and returns zero or more alerts.
type Detector func(in DetectInput) []types.NewAlert

// DetectInput is the data detectors run against.
type DetectInput struct {
	UserID   string
	Recent   []float64
	Baseline []float64
}

// DetectSpendingSpike adapts SpendingSpike to the Detector signature.
func DetectSpendingSpike(in DetectInput) []types.NewAlert {
	if a := SpendingSpike(in.UserID, in.Recent, in.Baseline); a != nil {
		return []types.NewAlert{*a}
	}
	return nil
}

// Pipeline runs detectors and persists what they find.
type Pipeline struct {
	store     Creator
	detectors []Detector
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. Without detectors it runs the spending
// spike detector.
func NewPipeline(store Creator, logger *slog.Logger, detectors ...Detector) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if len(detectors) == 0 {
		detectors = []Detector{DetectSpendingSpike}
	}
	return &Pipeline{store: store, detectors: detectors, logger: logger}
}

// Run detects alerts for the input and stores them, returning the stored
// alerts in detection order.
func (p *Pipeline) Run(ctx context.Context, in DetectInput) ([]types.Alert, error) {
	created := []types.Alert{}
	for _, detect := range p.detectors {
		for _, a := range detect(in) {
			a.UserID = in.UserID
			alert, err := p.store.CreateAlert(ctx, a)
			if err != nil {
				return created, fmt.Errorf("persist %s alert: %w", a.AlertType, err)
			}
			created = append(created, *alert)
		}
	}
	if len(created) > 0 {
		p.logger.Info("alerts detected",
			"component", "alerts",
			"action", "detect",
			"user_id", in.UserID,
			"count", len(created),
		)
	}
	return created, nil
}

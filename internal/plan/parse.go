package plan

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/hyperengineering/planlearn/internal/types"
)

// ErrNoPlan is returned when text holds no recognizable plan.
var ErrNoPlan = errors.New("no plan steps found")

// stepNumber accepts a JSON number or numeric string.
type stepNumber int

func (n *stepNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Non-numeric labels are renumbered later
		*n = 0
		return nil
	}
	*n = stepNumber(f)
	return nil
}

type rawStep struct {
	StepNumber      stepNumber `json:"step_number"`
	Action          string     `json:"action"`
	Description     string     `json:"description"`
	Reasoning       string     `json:"reasoning"`
	ExpectedOutcome string     `json:"expected_outcome"`
}

type rawPlan struct {
	Steps           []rawStep `json:"steps"`
	SuccessCriteria string    `json:"success_criteria"`
}

type rawEnvelope struct {
	Plan *rawPlan `json:"plan"`
	rawPlan
}

// ParsePlan reads plan steps from model output or a create_plan tool
// result. It accepts {"plan":{"steps":[...]}} and {"steps":[...]}, with or
// without a surrounding markdown code fence. Every returned step is
// pending and step numbers are unique.
func ParsePlan(raw string) ([]types.PlanStep, string, error) {
	body := StripFence(raw)

	var env rawEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, "", ErrNoPlan
	}

	src := env.rawPlan
	if env.Plan != nil && len(env.Plan.Steps) > 0 {
		src = *env.Plan
	}
	if len(src.Steps) == 0 {
		return nil, "", ErrNoPlan
	}

	steps := make([]types.PlanStep, len(src.Steps))
	for i, rs := range src.Steps {
		action := rs.Action
		if action == "" {
			action = rs.Description
		}
		num := int(rs.StepNumber)
		if num <= 0 {
			num = i + 1
		}
		steps[i] = types.PlanStep{
			StepNumber:      num,
			Action:          action,
			Reasoning:       rs.Reasoning,
			ExpectedOutcome: rs.ExpectedOutcome,
			Status:          types.StepPending,
		}
	}

	if hasDuplicateNumbers(steps) {
		for i := range steps {
			steps[i].StepNumber = i + 1
		}
	}

	return steps, src.SuccessCriteria, nil
}

// FallbackPlan is the single-step plan used when the model's plan cannot be parsed.
func FallbackPlan() []types.PlanStep {
	return []types.PlanStep{{
		StepNumber: 1,
		Action:     "Complete the task",
		Status:     types.StepPending,
	}}
}

// StripFence returns the body of the first ```json block in s, or of the
// first bare ``` block when there is none. Prose around the block is
// dropped. Text without a fence is returned trimmed.
func StripFence(s string) string {
	for _, open := range []string{"```json", "```"} {
		_, rest, ok := strings.Cut(s, open)
		if !ok {
			continue
		}
		body, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(s)
}

func hasDuplicateNumbers(steps []types.PlanStep) bool {
	seen := make(map[int]struct{}, len(steps))
	for _, s := range steps {
		if _, ok := seen[s.StepNumber]; ok {
			return true
		}
		seen[s.StepNumber] = struct{}{}
	}
	return false
}

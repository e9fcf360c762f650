package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/hyperengineering/planlearn/internal/stream"
	"github.com/hyperengineering/planlearn/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid step transition")
	ErrUnknownStep       = errors.New("unknown step")
)

// Board tracks plan steps through pending, active, complete and failed.
// The zero value is an empty board. A Board is not safe for concurrent use.
type Board struct {
	steps           []types.PlanStep
	successCriteria string
}

// Columns groups a board's steps by status, each in step order.
type Columns struct {
	Pending  []types.PlanStep `json:"pending"`
	Active   []types.PlanStep `json:"active"`
	Complete []types.PlanStep `json:"complete"`
	Failed   []types.PlanStep `json:"failed"`
}

// Load replaces the board's steps. Steps without a status start pending.
func (b *Board) Load(steps []types.PlanStep) {
	b.steps = make([]types.PlanStep, len(steps))
	copy(b.steps, steps)
	for i := range b.steps {
		if b.steps[i].Status == "" {
			b.steps[i].Status = types.StepPending
		}
	}
	sort.SliceStable(b.steps, func(i, j int) bool {
		return b.steps[i].StepNumber < b.steps[j].StepNumber
	})
}

// Steps returns a copy of the board's steps in step order.
func (b *Board) Steps() []types.PlanStep {
	out := make([]types.PlanStep, len(b.steps))
	copy(out, b.steps)
	return out
}

// SuccessCriteria returns the criteria of the last loaded tool plan.
func (b *Board) SuccessCriteria() string {
	return b.successCriteria
}

// Start moves a pending step to active.
func (b *Board) Start(n int) error {
	step, err := b.find(n)
	if err != nil {
		return err
	}
	if step.Status != types.StepPending {
		return fmt.Errorf("%w: step %d is %s", ErrInvalidTransition, n, step.Status)
	}
	step.Status = types.StepActive
	return nil
}

// Complete finishes a pending or active step successfully.
func (b *Board) Complete(n int, result string) error {
	return b.finish(n, types.StepComplete, result)
}

// Fail finishes a pending or active step unsuccessfully.
func (b *Board) Fail(n int, result string) error {
	return b.finish(n, types.StepFailed, result)
}

func (b *Board) finish(n int, status types.StepStatus, result string) error {
	step, err := b.find(n)
	if err != nil {
		return err
	}
	switch step.Status {
	case types.StepPending, types.StepActive:
	default:
		return fmt.Errorf("%w: step %d is %s", ErrInvalidTransition, n, step.Status)
	}
	step.Status = status
	step.Result = result
	return nil
}

func (b *Board) find(n int) (*types.PlanStep, error) {
	for i := range b.steps {
		if b.steps[i].StepNumber == n {
			return &b.steps[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownStep, n)
}

// Columns groups steps by status.
func (b *Board) Columns() Columns {
	cols := Columns{
		Pending:  []types.PlanStep{},
		Active:   []types.PlanStep{},
		Complete: []types.PlanStep{},
		Failed:   []types.PlanStep{},
	}
	for _, s := range b.steps {
		switch s.Status {
		case types.StepActive:
			cols.Active = append(cols.Active, s)
		case types.StepComplete:
			cols.Complete = append(cols.Complete, s)
		case types.StepFailed:
			cols.Failed = append(cols.Failed, s)
		default:
			cols.Pending = append(cols.Pending, s)
		}
	}
	return cols
}

// ToolResult is one entry of a tool_execution_complete event.
type ToolResult struct {
	Tool          string `json:"tool"`
	ResultPreview string `json:"result_preview"`
}

type executionResult struct {
	Execution struct {
		StepNumber stepNumber `json:"step_number"`
		Result     string     `json:"result"`
		Success    bool       `json:"success"`
	} `json:"execution"`
}

// ApplyEvent updates the board from a tool_execution_complete event.
// create_plan results load a new plan; execute_step results complete or
// fail the named step. Other events are ignored. Every result is applied
// even when an earlier one fails; the errors are joined.
func (b *Board) ApplyEvent(ev stream.Event) error {
	if ev.Type != stream.TypeToolExecutionComplete {
		return nil
	}

	var data struct {
		Results []ToolResult `json:"results"`
	}
	if err := ev.DecodeData(&data); err != nil {
		return fmt.Errorf("decode tool results: %w", err)
	}

	var errs []error
	for _, r := range data.Results {
		switch r.Tool {
		case "create_plan":
			steps, criteria, err := ParsePlan(r.ResultPreview)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			b.Load(steps)
			b.successCriteria = criteria
		case "execute_step":
			var exec executionResult
			if err := json.Unmarshal([]byte(r.ResultPreview), &exec); err != nil {
				errs = append(errs, fmt.Errorf("decode execute_step result: %w", err))
				continue
			}
			n := int(exec.Execution.StepNumber)
			if exec.Execution.Success {
				errs = append(errs, b.Complete(n, exec.Execution.Result))
			} else {
				errs = append(errs, b.Fail(n, exec.Execution.Result))
			}
		}
	}
	return errors.Join(errs...)
}

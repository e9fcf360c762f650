// Package workflow runs the non-streaming Plan & Learn pipeline behind the
// insights endpoint: recall, plan, execute, evaluate and learn.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/plan"
	"github.com/hyperengineering/planlearn/internal/types"
)

const planSystemPrompt = `You are a planning expert. Create a detailed step-by-step plan for the given task.

Consider these proven patterns if relevant:%s

Return a JSON object with:
{
    "steps": [
        {"step_number": 1, "action": "...", "reasoning": "...", "expected_outcome": "..."}
    ],
    "success_criteria": "How to know when task is complete",
    "patterns_applied": ["list of patterns from memory that you're using"]
}`

const executeSystemPrompt = `You are executing a step in a plan.
Perform the action and report the result.
Return a JSON object with:
{"success": true/false, "result": "what happened", "notes": "any observations"}`

const evaluateSystemPrompt = `Evaluate the task execution and identify learnings.
Return a JSON object with:
{
    "success_assessment": "overall evaluation",
    "learnings": ["key takeaways from this execution"],
    "new_patterns": ["reusable patterns discovered"],
    "improvements": ["what could be done better next time"]
}`

// Memory is the memory surface the workflow reads patterns from and
// writes discoveries to.
type Memory interface {
	LearnedPatterns(ctx context.Context, userID, taskType string, keywords []string) ([]types.Pattern, error)
	StoreFact(ctx context.Context, userID, content string) (*types.Fact, error)
}

// StepResult is the execution report for one plan step.
type StepResult struct {
	StepNumber int    `json:"step_number"`
	Success    bool   `json:"success"`
	Result     string `json:"result"`
	Notes      string `json:"notes"`
}

// Result is the outcome of a workflow run.
type Result struct {
	Learnings          []string         `json:"learnings"`
	PatternsDiscovered []string         `json:"patterns_discovered"`
	Success            bool             `json:"success"`
	Steps              []types.PlanStep `json:"steps"`
	SuccessCriteria    string           `json:"success_criteria"`
	Executions         []StepResult     `json:"execution_results"`
	Phase              plan.Phase       `json:"phase"`
}

// PlanLearn runs the pipeline against one provider.
type PlanLearn struct {
	provider llm.Provider
	memory   Memory
	logger   *slog.Logger
}

// New creates a workflow runner.
func New(provider llm.Provider, mem Memory, logger *slog.Logger) *PlanLearn {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanLearn{provider: provider, memory: mem, logger: logger}
}

// run carries the state of one pipeline execution.
type run struct {
	userID   string
	task     string
	recalled []types.Pattern
	machine  plan.Machine
	board    plan.Board
	usage    llm.Usage
	result   Result
}

// Run executes the pipeline for task. Provider failures abort the run and
// leave the returned result in the error phase.
func (p *PlanLearn) Run(ctx context.Context, userID, task string) (*Result, error) {
	start := time.Now()
	r := &run{userID: userID, task: task}

	stages := []struct {
		phase plan.Phase
		fn    func(context.Context, *run) error
	}{
		{plan.PhaseRecall, p.recall},
		{plan.PhasePlan, p.plan},
		{plan.PhaseExecute, p.execute},
		{plan.PhaseLearn, p.learn},
	}

	var runErr error
	for _, s := range stages {
		if err := r.machine.Advance(s.phase); err != nil {
			runErr = err
			break
		}
		if err := s.fn(ctx, r); err != nil {
			runErr = fmt.Errorf("%s phase: %w", s.phase, err)
			_ = r.machine.Fail(runErr)
			break
		}
	}
	if runErr == nil {
		runErr = r.machine.Advance(plan.PhaseComplete)
	}

	r.result.Steps = r.board.Steps()
	r.result.Phase = r.machine.Current()
	if r.result.Learnings == nil {
		r.result.Learnings = []string{}
	}
	if r.result.PatternsDiscovered == nil {
		r.result.PatternsDiscovered = []string{}
	}

	logger := p.logger.With("component", "workflow", "action", "run", "user_id", userID)
	if runErr != nil {
		logger.Error("workflow failed", "phase", r.result.Phase, "error", runErr)
		return &r.result, runErr
	}
	logger.Info("workflow complete",
		"steps", len(r.result.Steps),
		"success", r.result.Success,
		"patterns", len(r.result.PatternsDiscovered),
		"total_tokens", r.usage.Total(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &r.result, nil
}

func (p *PlanLearn) complete(ctx context.Context, r *run, system, user string) (string, error) {
	resp, err := p.provider.Complete(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{llm.UserMessage(user)},
	})
	if err != nil {
		return "", err
	}
	r.usage = r.usage.Add(resp.Usage)
	return resp.Text, nil
}

// recall loads the user's learned patterns. A lookup failure leaves the
// plan without hints.
func (p *PlanLearn) recall(ctx context.Context, r *run) error {
	patterns, err := p.memory.LearnedPatterns(ctx, r.userID, "", nil)
	if err != nil {
		p.logger.Warn("pattern recall failed", "component", "workflow", "user_id", r.userID, "error", err)
		return nil
	}
	r.recalled = patterns
	return nil
}

func (p *PlanLearn) plan(ctx context.Context, r *run) error {
	hints := ""
	if len(r.recalled) > 0 {
		lines := make([]string, len(r.recalled))
		for i, pt := range r.recalled {
			lines[i] = "- " + pt.Pattern
		}
		hints = "\n\nRelevant patterns from past successes:\n" + strings.Join(lines, "\n")
	}

	text, err := p.complete(ctx, r, fmt.Sprintf(planSystemPrompt, hints), "Create a plan for: "+r.task)
	if err != nil {
		return err
	}

	steps, criteria, err := plan.ParsePlan(text)
	if err != nil {
		p.logger.Debug("plan unparseable, using fallback", "component", "workflow", "user_id", r.userID, "error", err)
		steps, criteria = plan.FallbackPlan(), "Task completed successfully"
	}
	r.board.Load(steps)
	r.result.SuccessCriteria = criteria
	return nil
}

type stepReport struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Notes   string `json:"notes"`
}

func (p *PlanLearn) execute(ctx context.Context, r *run) error {
	r.result.Success = true
	for _, step := range r.board.Steps() {
		if err := r.board.Start(step.StepNumber); err != nil {
			return err
		}

		prompt := fmt.Sprintf("Execute step %d:\nAction: %s\nReasoning: %s\nExpected outcome: %s",
			step.StepNumber, step.Action, step.Reasoning, step.ExpectedOutcome)
		text, err := p.complete(ctx, r, executeSystemPrompt, prompt)
		if err != nil {
			return err
		}

		var rep stepReport
		if err := json.Unmarshal([]byte(plan.StripFence(text)), &rep); err != nil {
			rep = stepReport{Result: "Execution error: " + err.Error()}
		}

		if rep.Success {
			err = r.board.Complete(step.StepNumber, rep.Result)
		} else {
			r.result.Success = false
			err = r.board.Fail(step.StepNumber, rep.Result)
		}
		if err != nil {
			return err
		}
		r.result.Executions = append(r.result.Executions, StepResult{
			StepNumber: step.StepNumber,
			Success:    rep.Success,
			Result:     rep.Result,
			Notes:      rep.Notes,
		})
	}
	return nil
}

type evaluation struct {
	Learnings   []string `json:"learnings"`
	NewPatterns []string `json:"new_patterns"`
}

// learn evaluates the run and, when every step succeeded, stores each
// discovered pattern as a memory fact.
func (p *PlanLearn) learn(ctx context.Context, r *run) error {
	lines := make([]string, len(r.result.Executions))
	for i, e := range r.result.Executions {
		verdict := "FAILED"
		if e.Success {
			verdict = "SUCCESS"
		}
		lines[i] = fmt.Sprintf("Step %d: %s - %s", e.StepNumber, verdict, e.Result)
	}
	prompt := fmt.Sprintf("Task: %s\n\nSuccess Criteria: %s\n\nExecution Results:\n%s\n\nOverall Success: %t",
		r.task, r.result.SuccessCriteria, strings.Join(lines, "\n"), r.result.Success)

	text, err := p.complete(ctx, r, evaluateSystemPrompt, prompt)
	if err != nil {
		return err
	}

	var ev evaluation
	if err := json.Unmarshal([]byte(plan.StripFence(text)), &ev); err != nil {
		p.logger.Debug("evaluation unparseable", "component", "workflow", "user_id", r.userID, "error", err)
		ev = evaluation{}
	}
	r.result.Learnings = ev.Learnings
	r.result.PatternsDiscovered = ev.NewPatterns

	if !r.result.Success {
		return nil
	}
	for _, pattern := range ev.NewPatterns {
		if strings.TrimSpace(pattern) == "" {
			continue
		}
		if _, err := p.memory.StoreFact(ctx, r.userID, PatternFact(r.task, pattern)); err != nil {
			p.logger.Warn("store pattern failed", "component", "workflow", "user_id", r.userID, "error", err)
		}
	}
	return nil
}

// PatternFact phrases a discovered pattern as a memory fact.
func PatternFact(task, pattern string) string {
	return fmt.Sprintf("Successful pattern from %q: %s", task, pattern)
}

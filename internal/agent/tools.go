// Package agent runs the Plan & Learn chat agent: its tools, its prompt
// and the streaming orchestration of a chat turn.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/planlearn/internal/llm"
	"github.com/hyperengineering/planlearn/internal/types"
)

// Tool names.
const (
	ToolCreatePlan      = "create_plan"
	ToolExecuteStep     = "execute_step"
	ToolSearchKnowledge = "search_knowledge"
	ToolRecallPatterns  = "recall_patterns"
	ToolStoreLearning   = "store_learning"
)

// timestampLayout formats tool result timestamps.
const timestampLayout = "2006-01-02 15:04:05"

const internalSearchLimit = 5

// Memory is the slice of the memory manager the tools use.
type Memory interface {
	SearchFacts(ctx context.Context, userID, query string, limit int) ([]types.Fact, error)
	LearnedPatterns(ctx context.Context, userID, taskType string, keywords []string) ([]types.Pattern, error)
	StoreFact(ctx context.Context, userID, content string) (*types.Fact, error)
}

// Definitions returns the schemas of every agent tool.
func Definitions() []llm.Tool {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	return []llm.Tool{
		{
			Name:        ToolCreatePlan,
			Description: "Break down a task into structured, actionable steps. Use this at the start of any complex task to create a clear execution roadmap.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_description": str("The task to break down into steps"),
					"steps": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"step_number":      map[string]any{"type": "integer"},
								"action":           map[string]any{"type": "string"},
								"reasoning":        map[string]any{"type": "string"},
								"expected_outcome": map[string]any{"type": "string"},
							},
						},
						"description": "Array of steps to complete the task",
					},
					"success_criteria": str("How to know when the task is successfully completed"),
				},
				"required": []string{"task_description", "steps", "success_criteria"},
			},
		},
		{
			Name:        ToolExecuteStep,
			Description: "Execute a specific step from the plan and record the outcome. Use this to track progress through your plan.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"step_number":  map[string]any{"type": "integer", "description": "Which step number you are executing"},
					"action_taken": str("What action you performed"),
					"result":       str("The outcome of executing this step"),
					"success":      map[string]any{"type": "boolean", "description": "Whether the step completed successfully"},
					"notes":        str("Any learnings or observations from this step"),
				},
				"required": []string{"step_number", "action_taken", "result", "success"},
			},
		},
		{
			Name:        ToolSearchKnowledge,
			Description: "Search for information to help complete a task. Can search web resources or internal knowledge base.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": str("What to search for"),
					"source": map[string]any{
						"type":        "string",
						"enum":        []string{"web", "internal", "both"},
						"description": "Where to search: web, internal knowledge, or both",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolRecallPatterns,
			Description: "Retrieve successful patterns from similar past tasks. Use this before planning to leverage previous learnings.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_type": str("The type or category of task you're trying to accomplish"),
					"keywords": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Keywords related to the task to find relevant patterns",
					},
				},
				"required": []string{"task_type"},
			},
		},
		{
			Name:        ToolStoreLearning,
			Description: "Explicitly store a successful strategy or pattern for future reuse. Call this after completing a task successfully.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_type":    str("Category of task this pattern applies to"),
					"pattern_name": str("Short descriptive name for this pattern"),
					"strategy":     str("The successful approach/steps that worked"),
					"when_to_use":  str("Conditions when this pattern should be applied"),
					"effectiveness": map[string]any{
						"type":        "string",
						"enum":        []string{"high", "medium", "low"},
						"description": "How effective was this strategy",
					},
				},
				"required": []string{"task_type", "pattern_name", "strategy", "when_to_use"},
			},
		},
	}
}

// Tools executes agent tool calls for one user.
type Tools struct {
	memory Memory
	web    WebSearcher
	now    func() time.Time
	logger *slog.Logger
}

// NewTools creates a tool executor. A nil web searcher disables web
// findings.
func NewTools(memory Memory, web WebSearcher, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{memory: memory, web: web, now: time.Now, logger: logger}
}

// Execute runs the named tool and returns its JSON result. It never
// fails: malformed arguments decode as an empty object and unknown tools
// return an error object.
func (t *Tools) Execute(ctx context.Context, name, argsJSON, userID string) string {
	args := parseArgs(argsJSON)

	var result any
	switch name {
	case ToolCreatePlan:
		result = t.createPlan(args)
	case ToolExecuteStep:
		result = t.executeStep(args)
	case ToolSearchKnowledge:
		result = t.searchKnowledge(ctx, args, userID)
	case ToolRecallPatterns:
		result = t.recallPatterns(ctx, args, userID)
	case ToolStoreLearning:
		result = t.storeLearning(ctx, args, userID)
	default:
		result = map[string]string{"error": "Unknown tool"}
	}

	out, err := json.Marshal(result)
	if err != nil {
		return `{"error":"Tool result could not be encoded"}`
	}
	return string(out)
}

func (t *Tools) timestamp() string {
	return t.now().Format(timestampLayout)
}

type planSummary struct {
	Task            string            `json:"task"`
	TotalSteps      int               `json:"total_steps"`
	Steps           []json.RawMessage `json:"steps"`
	SuccessCriteria string            `json:"success_criteria"`
	Status          string            `json:"status"`
	CreatedAt       string            `json:"created_at"`
}

type createPlanResult struct {
	Status     string      `json:"status"`
	Message    string      `json:"message"`
	Plan       planSummary `json:"plan"`
	NextAction string      `json:"next_action"`
}

func (t *Tools) createPlan(args toolArgs) createPlanResult {
	task := args.str("task_description", "")
	steps := args.list("steps")

	return createPlanResult{
		Status:  "plan_created",
		Message: fmt.Sprintf("Created a %d-step plan for: %s", len(steps), task),
		Plan: planSummary{
			Task:            task,
			TotalSteps:      len(steps),
			Steps:           steps,
			SuccessCriteria: args.str("success_criteria", ""),
			Status:          "created",
			CreatedAt:       t.timestamp(),
		},
		NextAction: "Execute step 1 using execute_step tool",
	}
}

type executionRecord struct {
	StepNumber int    `json:"step_number"`
	Action     string `json:"action"`
	Result     string `json:"result"`
	Success    bool   `json:"success"`
	Notes      string `json:"notes"`
	ExecutedAt string `json:"executed_at"`
}

type executeStepResult struct {
	Status         string          `json:"status"`
	Execution      executionRecord `json:"execution"`
	Message        string          `json:"message"`
	Recommendation string          `json:"recommendation"`
}

func (t *Tools) executeStep(args toolArgs) executeStepResult {
	rec := executionRecord{
		StepNumber: args.integer("step_number", 0),
		Action:     args.str("action_taken", ""),
		Result:     args.str("result", ""),
		Success:    args.boolean("success", false),
		Notes:      args.str("notes", ""),
		ExecutedAt: t.timestamp(),
	}

	res := executeStepResult{Status: "step_executed", Execution: rec}
	if rec.Success {
		res.Message = fmt.Sprintf("Step %d completed successfully", rec.StepNumber)
		res.Recommendation = "Continue to next step or store learning if task complete"
	} else {
		res.Message = fmt.Sprintf("Step %d encountered issues", rec.StepNumber)
		res.Recommendation = "Consider revising approach or trying alternative method"
	}
	return res
}

// Finding is one search_knowledge hit.
type Finding struct {
	Source    string `json:"source"`
	Content   string `json:"content"`
	Relevance string `json:"relevance"`
}

type searchResult struct {
	Query    string    `json:"query"`
	Source   string    `json:"source"`
	Findings []Finding `json:"findings"`
	Message  string    `json:"message,omitempty"`
}

func (t *Tools) searchKnowledge(ctx context.Context, args toolArgs, userID string) searchResult {
	res := searchResult{
		Query:    args.str("query", ""),
		Source:   args.str("source", "internal"),
		Findings: []Finding{},
	}

	if res.Source == "internal" || res.Source == "both" {
		facts, err := t.memory.SearchFacts(ctx, userID, res.Query, internalSearchLimit)
		if err != nil {
			t.logger.Warn("internal knowledge search failed",
				"component", "tools",
				"user_id", userID,
				"error", err,
			)
		}
		for _, f := range facts {
			relevance := "medium"
			if f.NumTimes > 2 {
				relevance = "high"
			}
			res.Findings = append(res.Findings, Finding{Source: "memory", Content: f.Content, Relevance: relevance})
		}
	}

	if res.Source == "web" || res.Source == "both" {
		res.Findings = append(res.Findings, t.searchWeb(ctx, res.Query)...)
	}

	if len(res.Findings) == 0 {
		res.Message = "No relevant information found. Consider rephrasing your query."
	}
	return res
}

func (t *Tools) searchWeb(ctx context.Context, query string) []Finding {
	if t.web != nil {
		results, err := t.web.Search(ctx, query)
		if err == nil && len(results) > 0 {
			findings := make([]Finding, len(results))
			for i, r := range results {
				findings[i] = Finding{Source: "web", Content: r, Relevance: "medium"}
			}
			return findings
		}
		if err != nil {
			t.logger.Warn("web search failed",
				"component", "tools",
				"query", query,
				"error", err,
			)
		}
	}
	return []Finding{{
		Source:    "web",
		Content:   fmt.Sprintf("Web search results for '%s' are unavailable right now. Try again later or search internal knowledge.", query),
		Relevance: "info",
	}}
}

type patternsFound struct {
	Status         string          `json:"status"`
	TaskType       string          `json:"task_type"`
	PatternsCount  int             `json:"patterns_count"`
	Patterns       []types.Pattern `json:"patterns"`
	Recommendation string          `json:"recommendation"`
}

type noPatterns struct {
	Status         string `json:"status"`
	TaskType       string `json:"task_type"`
	Message        string `json:"message"`
	Recommendation string `json:"recommendation"`
}

func (t *Tools) recallPatterns(ctx context.Context, args toolArgs, userID string) any {
	taskType := args.str("task_type", "")
	patterns, err := t.memory.LearnedPatterns(ctx, userID, taskType, args.stringList("keywords"))
	if err != nil {
		t.logger.Warn("pattern recall failed",
			"component", "tools",
			"user_id", userID,
			"error", err,
		)
	}

	if len(patterns) > 0 {
		return patternsFound{
			Status:         "patterns_found",
			TaskType:       taskType,
			PatternsCount:  len(patterns),
			Patterns:       patterns,
			Recommendation: "Consider adapting these proven patterns to your current task",
		}
	}
	return noPatterns{
		Status:         "no_patterns",
		TaskType:       taskType,
		Message:        "No existing patterns found for this task type. This will be a learning opportunity!",
		Recommendation: "Proceed with planning and be sure to store successful strategies",
	}
}

type learningRecord struct {
	Type          string `json:"type"`
	TaskType      string `json:"task_type"`
	PatternName   string `json:"pattern_name"`
	Strategy      string `json:"strategy"`
	WhenToUse     string `json:"when_to_use"`
	Effectiveness string `json:"effectiveness"`
	StoredAt      string `json:"stored_at"`
}

type storeLearningResult struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Learning learningRecord `json:"learning"`
	Note     string         `json:"note"`
}

func (t *Tools) storeLearning(ctx context.Context, args toolArgs, userID string) storeLearningResult {
	rec := learningRecord{
		Type:          "learned_pattern",
		TaskType:      args.str("task_type", ""),
		PatternName:   args.str("pattern_name", ""),
		Strategy:      args.str("strategy", ""),
		WhenToUse:     args.str("when_to_use", ""),
		Effectiveness: args.str("effectiveness", "medium"),
		StoredAt:      t.timestamp(),
	}

	if _, err := t.memory.StoreFact(ctx, userID, LearningFact(rec.TaskType, rec.PatternName, rec.Strategy, rec.WhenToUse)); err != nil {
		t.logger.Warn("store learning failed",
			"component", "tools",
			"user_id", userID,
			"error", err,
		)
	}

	return storeLearningResult{
		Status:   "learning_stored",
		Message:  fmt.Sprintf("Stored pattern '%s' for future %s tasks", rec.PatternName, rec.TaskType),
		Learning: rec,
		Note:     "This pattern will be available when you face similar tasks in the future",
	}
}

// LearningFact phrases a learned pattern as a memory fact so that pattern
// lookups find it by task type and keyword.
func LearningFact(taskType, name, strategy, whenToUse string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Learned %s pattern '%s': strategy: %s", taskType, name, strategy)
	if whenToUse != "" {
		fmt.Fprintf(&b, " (use when: %s)", whenToUse)
	}
	return b.String()
}

// toolArgs holds decoded tool arguments with lenient accessors.
type toolArgs map[string]json.RawMessage

func parseArgs(raw string) toolArgs {
	args := toolArgs{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return toolArgs{}
	}
	return args
}

func (a toolArgs) str(key, def string) string {
	var s string
	if v, ok := a[key]; ok && json.Unmarshal(v, &s) == nil {
		return s
	}
	return def
}

func (a toolArgs) integer(key string, def int) int {
	v, ok := a[key]
	if !ok {
		return def
	}
	var f float64
	if json.Unmarshal(v, &f) == nil {
		return int(f)
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return def
}

func (a toolArgs) boolean(key string, def bool) bool {
	var b bool
	if v, ok := a[key]; ok && json.Unmarshal(v, &b) == nil {
		return b
	}
	return def
}

func (a toolArgs) list(key string) []json.RawMessage {
	var items []json.RawMessage
	if v, ok := a[key]; ok && json.Unmarshal(v, &items) == nil && items != nil {
		return items
	}
	return []json.RawMessage{}
}

func (a toolArgs) stringList(key string) []string {
	var items []string
	if v, ok := a[key]; ok && json.Unmarshal(v, &items) == nil {
		return items
	}
	return nil
}

package validation

import (
	"fmt"

	"github.com/hyperengineering/planlearn/internal/types"
)

// Request limits.
const (
	MaxUserIDLength   = 128
	MaxMessageLength  = 8000
	MaxTaskNameLength = 500
	MaxNotesLength    = 2000
	MaxTasksPerIngest = 100
	MaxHistoryLength  = 50
)

var (
	validRoles    = []string{string(types.RoleSystem), string(types.RoleUser), string(types.RoleAssistant)}
	validOutcomes = []string{string(types.OutcomeCompleted), string(types.OutcomeAdapted), string(types.OutcomeLearned)}
)

// ValidateUserID checks an opaque user identifier.
func ValidateUserID(field, value string) []ValidationError {
	var c Collector
	c.Add(ValidateRequired(field, value))
	c.Add(ValidateMaxLength(field, value, MaxUserIDLength))
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	return c.Errors()
}

// ValidateTaskEntry validates a single submitted task.
// The index is used in field names, e.g. "tasks[2].name".
func ValidateTaskEntry(index int, task types.NewTask) []ValidationError {
	var c Collector
	prefix := fmt.Sprintf("tasks[%d]", index)

	c.Add(ValidateRequired(prefix+".name", task.Name))
	c.Add(ValidateMaxLength(prefix+".name", task.Name, MaxTaskNameLength))
	c.Add(ValidateUTF8(prefix+".name", task.Name))
	c.Add(ValidateNoNullBytes(prefix+".name", task.Name))

	c.Add(ValidateDate(prefix+".date", task.Date))
	c.Add(ValidateRequired(prefix+".task_type", task.TaskType))
	c.Add(ValidateRange(prefix+".score", task.Score, 0, 10))

	if task.Outcome != "" {
		c.Add(ValidateEnum(prefix+".outcome", string(task.Outcome), validOutcomes))
	}
	if task.Notes != "" {
		c.Add(ValidateMaxLength(prefix+".notes", task.Notes, MaxNotesLength))
		c.Add(ValidateNoNullBytes(prefix+".notes", task.Notes))
	}

	return c.Errors()
}

// ValidateIngestTasksRequest validates a task ingestion batch.
func ValidateIngestTasksRequest(req types.IngestTasksRequest) []ValidationError {
	errs := ValidateUserID("user_id", req.UserID)

	switch {
	case len(req.Tasks) == 0:
		errs = append(errs, ValidationError{Field: "tasks", Message: "must contain at least one task"})
	case len(req.Tasks) > MaxTasksPerIngest:
		errs = append(errs, ValidationError{
			Field:   "tasks",
			Message: fmt.Sprintf("exceeds maximum batch size of %d", MaxTasksPerIngest),
		})
	default:
		for i, task := range req.Tasks {
			errs = append(errs, ValidateTaskEntry(i, task)...)
		}
	}

	return errs
}

// ValidateChatRequest validates a chat turn and its history.
func ValidateChatRequest(req types.ChatRequest) []ValidationError {
	errs := ValidateUserID("user_id", req.UserID)

	var c Collector
	c.Add(ValidateRequired("message", req.Message))
	c.Add(ValidateMaxLength("message", req.Message, MaxMessageLength))
	c.Add(ValidateUTF8("message", req.Message))
	c.Add(ValidateNoNullBytes("message", req.Message))

	if len(req.ConversationHistory) > MaxHistoryLength {
		c.Add(&ValidationError{
			Field:   "conversation_history",
			Message: fmt.Sprintf("exceeds maximum of %d messages", MaxHistoryLength),
		})
	}
	for i, msg := range req.ConversationHistory {
		field := fmt.Sprintf("conversation_history[%d]", i)
		c.Add(ValidateEnum(field+".role", string(msg.Role), validRoles))
		c.Add(ValidateMaxLength(field+".content", msg.Content, MaxMessageLength))
	}

	return append(errs, c.Errors()...)
}

// ValidateInsightsRequest validates an insights question.
func ValidateInsightsRequest(req types.InsightsRequest) []ValidationError {
	errs := ValidateUserID("user_id", req.UserID)

	var c Collector
	c.Add(ValidateRequired("question", req.Question))
	c.Add(ValidateMaxLength("question", req.Question, MaxMessageLength))
	c.Add(ValidateNoNullBytes("question", req.Question))

	return append(errs, c.Errors()...)
}

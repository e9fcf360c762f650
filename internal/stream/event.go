// Package stream frames agent status events inside a plain-text chat stream.
//
// Events travel in-band as [MEMORI]{json}[/MEMORI] blocks between chunks of
// assistant text. Frame encodes one block; Split and Splitter take them apart
// again on the receiving side.
package stream

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Event types emitted during a chat turn.
const (
	TypeRecallStart           = "memori_recall_start"
	TypeRecallComplete        = "memori_recall_complete"
	TypeLLMStart              = "memori_llm_start"
	TypeToolExecutionStart    = "tool_execution_start"
	TypeToolExecutionComplete = "tool_execution_complete"
	TypeStoreStart            = "memori_store_start"
	TypeStoreComplete         = "memori_store_complete"
	TypeError                 = "error"
)

// Status values carried by events.
const (
	StatusRetrieving = "retrieving"
	StatusProcessing = "processing"
	StatusExecuting  = "executing"
	StatusStoring    = "storing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

const (
	openTag  = "[MEMORI]"
	closeTag = "[/MEMORI]"
)

var blockPattern = regexp.MustCompile(`(?s)\[MEMORI\](.*?)\[/MEMORI\]`)

// Event is one status block.
type Event struct {
	Type    string          `json:"type"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event, encoding data as its payload. A nil data
// leaves the payload empty.
func NewEvent(eventType, status, message string, data any) Event {
	ev := Event{Type: eventType, Status: status, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// DecodeData unmarshals the event payload into v.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Frame encodes an event as a tagged block.
func Frame(ev Event) string {
	raw, err := json.Marshal(ev)
	if err != nil {
		// Event fields are strings and pre-encoded JSON; this only fails on
		// a hand-built invalid Data payload.
		raw, _ = json.Marshal(Event{Type: ev.Type, Status: ev.Status, Message: ev.Message})
	}
	return openTag + string(raw) + closeTag
}

// Split extracts every complete block from text. It returns the remaining
// text concatenated and the decoded events in order. Blocks that fail to
// decode are removed from the text and skipped.
func Split(text string) (string, []Event) {
	var (
		plain  strings.Builder
		events []Event
		last   int
	)
	for _, m := range blockPattern.FindAllStringSubmatchIndex(text, -1) {
		plain.WriteString(text[last:m[0]])
		if ev, ok := decode(text[m[2]:m[3]]); ok {
			events = append(events, ev)
		}
		last = m[1]
	}
	plain.WriteString(text[last:])
	return plain.String(), events
}

func decode(body string) (Event, bool) {
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}

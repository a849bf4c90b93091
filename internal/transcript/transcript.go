// Package transcript defines the conversation data model: ordered,
// append-only turns whose content is a sequence of items (text segments,
// tool calls, tool results). Text is stored raw; tag interpretation
// (<to_student>, <from_student>) belongs to the presentation side.
package transcript

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ItemType identifies a content item variant.
type ItemType string

const (
	ItemText       ItemType = "text"
	ItemToolCall   ItemType = "tool_call"
	ItemToolResult ItemType = "tool_result"
)

// ToolCall is a model-issued request to invoke a named tool.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult answers a ToolCall. Content is always a string; failures use
// the "Error: ..." prefix convention so the model can see and react to them.
type ToolResult struct {
	CallID  string `json:"tool_call_id"`
	Content string `json:"content"`
}

// Item is one content item within a turn. Exactly one of the payload
// fields is set, selected by Type.
type Item struct {
	Type       ItemType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextItem builds a text content item.
func TextItem(text string) Item {
	return Item{Type: ItemText, Text: text}
}

// ToolCallItem builds a tool_call content item.
func ToolCallItem(id, name string, input map[string]any) Item {
	return Item{Type: ItemToolCall, ToolCall: &ToolCall{ID: id, Name: name, Input: input}}
}

// ToolResultItem builds a tool_result content item answering callID.
func ToolResultItem(callID, content string) Item {
	return Item{Type: ItemToolResult, ToolResult: &ToolResult{CallID: callID, Content: content}}
}

// Turn is one role-tagged message in a transcript.
type Turn struct {
	Role  Role   `json:"role"`
	Items []Item `json:"items"`
}

// UserTurn builds a user turn holding a single text item.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Items: []Item{TextItem(text)}}
}

// AssistantTurn builds an assistant turn from the given items.
func AssistantTurn(items ...Item) Turn {
	return Turn{Role: RoleAssistant, Items: items}
}

// ToolCalls returns the turn's tool_call items in order.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, it := range t.Items {
		if it.Type == ItemToolCall && it.ToolCall != nil {
			calls = append(calls, *it.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the turn's tool_result items in order.
func (t Turn) ToolResults() []ToolResult {
	var results []ToolResult
	for _, it := range t.Items {
		if it.Type == ItemToolResult && it.ToolResult != nil {
			results = append(results, *it.ToolResult)
		}
	}
	return results
}

// Text returns the concatenation of the turn's text items, in order.
func (t Turn) Text() string {
	var s string
	for _, it := range t.Items {
		if it.Type == ItemText {
			s += it.Text
		}
	}
	return s
}

// Empty reports whether the turn carries no content at all.
func (t Turn) Empty() bool {
	for _, it := range t.Items {
		switch it.Type {
		case ItemText:
			if it.Text != "" {
				return false
			}
		case ItemToolCall, ItemToolResult:
			return false
		}
	}
	return true
}

// Transcript is the ordered record of all turns in one tutoring session.
// The session controller owns its lifecycle; the turn engine only appends.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Student   string    `json:"student"`
	StartedAt time.Time `json:"started_at"`
	Sealed    bool      `json:"sealed,omitempty"`
	Turns     []Turn    `json:"turns"`
}

// New creates an empty transcript for the given student with a fresh
// session id.
func New(student string) *Transcript {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4
		// semantics rather than plumbing an error through every caller.
		id = uuid.New()
	}
	return &Transcript{
		SessionID: id.String(),
		Student:   student,
		StartedAt: time.Now().UTC(),
	}
}

// Append adds turns to the end of the transcript.
func (tr *Transcript) Append(turns ...Turn) {
	tr.Turns = append(tr.Turns, turns...)
}

// Len returns the number of turns.
func (tr *Transcript) Len() int {
	return len(tr.Turns)
}

// Last returns the final turn and true, or a zero turn and false when the
// transcript is empty.
func (tr *Transcript) Last() (Turn, bool) {
	if len(tr.Turns) == 0 {
		return Turn{}, false
	}
	return tr.Turns[len(tr.Turns)-1], true
}

// Validate checks the tool pairing invariant: every tool_call in an
// assistant turn is answered by exactly one tool_result in the immediately
// following user turn, with matching ids in the same order, and no
// tool_result appears without a matching preceding call. The model backend
// rejects transcripts that violate this, so it is checked before queries.
func (tr *Transcript) Validate() error {
	for i, turn := range tr.Turns {
		if turn.Role == RoleUser {
			for _, res := range turn.ToolResults() {
				if i == 0 || !answersCall(tr.Turns[i-1], res.CallID) {
					return fmt.Errorf("turn %d: tool_result %q answers no call in the preceding assistant turn", i, res.CallID)
				}
			}
			continue
		}

		calls := turn.ToolCalls()
		if len(calls) == 0 {
			continue
		}
		if i+1 >= len(tr.Turns) {
			return fmt.Errorf("turn %d: %d dangling tool call(s) at end of transcript", i, len(calls))
		}
		next := tr.Turns[i+1]
		if next.Role != RoleUser {
			return fmt.Errorf("turn %d: tool calls not followed by a user turn", i)
		}
		results := next.ToolResults()
		if len(results) != len(calls) {
			return fmt.Errorf("turn %d: %d tool call(s) but %d result(s) in following turn", i, len(calls), len(results))
		}
		for j, call := range calls {
			if results[j].CallID != call.ID {
				return fmt.Errorf("turn %d: result %d answers %q, want %q (order must match)", i, j, results[j].CallID, call.ID)
			}
		}
	}
	return nil
}

// answersCall reports whether turn contains a tool_call with the given id.
func answersCall(turn Turn, callID string) bool {
	if turn.Role != RoleAssistant {
		return false
	}
	for _, call := range turn.ToolCalls() {
		if call.ID == callID {
			return true
		}
	}
	return false
}

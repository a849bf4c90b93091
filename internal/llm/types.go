// Package llm provides language model client implementations.
package llm

import (
	"log/slog"

	"github.com/studyhall/tutor-agent/internal/transcript"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// StopReason distinguishes why the model stopped producing output.
type StopReason string

const (
	// StopEndTurn is a natural stop: the model finished its reply.
	StopEndTurn StopReason = "end_turn"

	// StopToolUse means the model stopped to request one or more tool calls.
	StopToolUse StopReason = "tool_use"

	// StopMaxTokens means the reply was truncated by the output budget.
	StopMaxTokens StopReason = "max_tokens"
)

// Request carries everything needed for one model query: the fixed system
// instruction, the full ordered transcript, and the tool schemas the model
// may invoke.
type Request struct {
	Model     string
	System    string
	Turns     []transcript.Turn
	Tools     []map[string]any // {name, description, input_schema} per tool
	MaxTokens int
}

// Response is the provider-neutral result of one model query. Wire format
// conversion happens at provider boundaries (anthropic.go).
type Response struct {
	// Turn is the assistant turn the model produced. It may mix text and
	// tool_call items, and may be empty when the model returned nothing.
	Turn transcript.Turn

	StopReason StopReason

	Model        string
	InputTokens  int
	OutputTokens int
}

package tools

import "strings"

// Outcome is an internal tool execution result. Success and failure are
// carried as a tagged value; the "Error: " string convention the model
// is trained on appears only at the model boundary, in String.
type Outcome struct {
	Content string
	Err     bool
}

// OK wraps a successful result.
func OK(content string) Outcome {
	return Outcome{Content: content}
}

// Fail wraps an error message.
func Fail(msg string) Outcome {
	return Outcome{Content: msg, Err: true}
}

// String renders the outcome as the tool_result content the model sees.
// Error outcomes are prefixed with "Error: " unless already present.
func (o Outcome) String() string {
	if o.Err && !strings.HasPrefix(o.Content, "Error:") {
		return "Error: " + o.Content
	}
	return o.Content
}

package tools

import (
	"context"
	"fmt"
)

// FinishQuestionName is the tool the model calls to signal that the
// current question is wrapped up and the session should move on.
const FinishQuestionName = "finish_question"

// FinishQuestionTool returns the question-completion signal tool. The
// handler only acknowledges; acting on the signal is the caller's job,
// which detects the call by name.
func FinishQuestionTool() *Tool {
	return &Tool{
		Name: FinishQuestionName,
		Description: "Mark the current question as finished. Call this once the " +
			"student has solved the problem, or has decided to move on, so a " +
			"fresh question can begin.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Short explanation of why the question is finished.",
				},
			},
			"required": []string{"reason"},
		},
		Handler: func(ctx context.Context, student string, args map[string]any) (string, error) {
			reason, _ := args["reason"].(string)
			return fmt.Sprintf("FINISH_QUESTION: %s", reason), nil
		},
	}
}

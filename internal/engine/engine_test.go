package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/studyhall/tutor-agent/internal/llm"
	"github.com/studyhall/tutor-agent/internal/prompts"
	"github.com/studyhall/tutor-agent/internal/tools"
	"github.com/studyhall/tutor-agent/internal/transcript"
)

// mockLLM returns scripted responses in sequence and fails the test on
// extra calls.
type mockLLM struct {
	t        *testing.T
	steps    []mockStep
	calls    int
	requests []*llm.Request
}

type mockStep struct {
	resp *llm.Response
	err  error
}

func (m *mockLLM) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.requests = append(m.requests, req)
	if m.calls >= len(m.steps) {
		m.t.Fatalf("unexpected model call %d", m.calls+1)
	}
	step := m.steps[m.calls]
	m.calls++
	return step.resp, step.err
}

func (m *mockLLM) Ping(ctx context.Context) error { return nil }

func textResp(text string) *llm.Response {
	return &llm.Response{
		Turn:       transcript.AssistantTurn(transcript.TextItem(text)),
		StopReason: llm.StopEndTurn,
	}
}

func callResp(items ...transcript.Item) *llm.Response {
	return &llm.Response{
		Turn:       transcript.AssistantTurn(items...),
		StopReason: llm.StopToolUse,
	}
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(slog.Default())
	reg.MustRegister(
		&tools.Tool{
			Name:        "echo",
			Description: "echoes its message",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"message"},
			},
			Handler: func(ctx context.Context, student string, args map[string]any) (string, error) {
				return fmt.Sprintf("echo: %v", args["message"]), nil
			},
		},
		&tools.Tool{
			Name:        "fail",
			Description: "always errors",
			Handler: func(ctx context.Context, student string, args map[string]any) (string, error) {
				return "", errors.New("broken")
			},
		},
		tools.FinishQuestionTool(),
	)
	return reg
}

func testEngine(t *testing.T, mock *mockLLM, maxTurns int) *Engine {
	t.Helper()
	return New(slog.Default(), mock, Config{Model: "test-model", MaxTurns: maxTurns})
}

func newTr() *transcript.Transcript {
	tr := transcript.New("ada")
	tr.Append(transcript.UserTurn("opening prompt"))
	return tr
}

func TestRunFinalText(t *testing.T) {
	mock := &mockLLM{t: t, steps: []mockStep{
		{resp: textResp("<to_student>What is 2+2?</to_student>")},
	}}
	tr := newTr()

	res, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Finished || res.Exhausted || res.Iterations != 1 {
		t.Errorf("res = %+v", res)
	}
	if tr.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tr.Len())
	}
	last, _ := tr.Last()
	if last.Role != transcript.RoleAssistant || !strings.Contains(last.Text(), "2+2") {
		t.Errorf("last turn = %+v", last)
	}
	if mock.requests[0].System != "sys" || mock.requests[0].Model != "test-model" {
		t.Errorf("request = %+v", mock.requests[0])
	}
	if len(mock.requests[0].Tools) != 3 {
		t.Errorf("sent %d tool defs, want 3", len(mock.requests[0].Tools))
	}
}

func TestRunToolCallThenText(t *testing.T) {
	mock := &mockLLM{t: t, steps: []mockStep{
		{resp: callResp(transcript.ToolCallItem("c1", "echo", map[string]any{"message": "hi"}))},
		{resp: textResp("done")},
	}}
	tr := newTr()

	res, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d", res.Iterations)
	}
	// opening, assistant call, user result, assistant text
	if tr.Len() != 4 {
		t.Fatalf("Len = %d, want 4", tr.Len())
	}
	results := tr.Turns[2].ToolResults()
	if len(results) != 1 || results[0].CallID != "c1" || results[0].Content != "echo: hi" {
		t.Errorf("results = %+v", results)
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("transcript invalid: %v", err)
	}
	// The second query saw the tool results.
	if got := len(mock.requests[1].Turns); got != 3 {
		t.Errorf("second request had %d turns, want 3", got)
	}
}

func TestRunParallelBatchOrder(t *testing.T) {
	mock := &mockLLM{t: t, steps: []mockStep{
		{resp: callResp(
			transcript.TextItem("checking notes"),
			transcript.ToolCallItem("c1", "echo", map[string]any{"message": "one"}),
			transcript.ToolCallItem("c2", "fail", map[string]any{}),
			transcript.ToolCallItem("c3", "echo", map[string]any{"message": "three"}),
		)},
		{resp: textResp("done")},
	}}
	tr := newTr()

	if _, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, testRegistry(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// All results land in one user turn, in call order, and a failing
	// tool does not stop the rest of the batch.
	results := tr.Turns[2].ToolResults()
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	wantIDs := []string{"c1", "c2", "c3"}
	for i, r := range results {
		if r.CallID != wantIDs[i] {
			t.Errorf("results[%d] = %s, want %s", i, r.CallID, wantIDs[i])
		}
	}
	if results[1].Content != "Error: broken" {
		t.Errorf("failed tool result = %q", results[1].Content)
	}
	if results[2].Content != "echo: three" {
		t.Errorf("batch stopped after failure: %q", results[2].Content)
	}
	// The assistant's accompanying text survived.
	if tr.Turns[1].Text() != "checking notes" {
		t.Errorf("assistant text = %q", tr.Turns[1].Text())
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("transcript invalid: %v", err)
	}
}

func TestRunPanickingTool(t *testing.T) {
	reg := testRegistry(t)
	reg.MustRegister(&tools.Tool{
		Name:        "explode",
		Description: "panics",
		Handler: func(ctx context.Context, student string, args map[string]any) (string, error) {
			panic("boom")
		},
	})
	mock := &mockLLM{t: t, steps: []mockStep{
		{resp: callResp(
			transcript.ToolCallItem("c1", "explode", nil),
			transcript.ToolCallItem("c2", "echo", map[string]any{"message": "still here"}),
		)},
		{resp: textResp("done")},
	}}
	tr := newTr()

	if _, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, reg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	results := tr.Turns[2].ToolResults()
	if !strings.HasPrefix(results[0].Content, "Error:") || !strings.Contains(results[0].Content, "boom") {
		t.Errorf("panic result = %q", results[0].Content)
	}
	if results[1].Content != "echo: still here" {
		t.Errorf("batch stopped after panic: %q", results[1].Content)
	}
}

func TestRunUnknownTool(t *testing.T) {
	mock := &mockLLM{t: t, steps: []mockStep{
		{resp: callResp(transcript.ToolCallItem("c1", "teleport", nil))},
		{resp: textResp("sorry")},
	}}
	tr := newTr()

	if _, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, testRegistry(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	results := tr.Turns[2].ToolResults()
	if results[0].Content != "Error: Tool teleport not found" {
		t.Errorf("result = %q", results[0].Content)
	}
}

func TestRunFinishShortCircuits(t *testing.T) {
	mock := &mockLLM{t: t, steps: []mockStep{
		{resp: callResp(
			transcript.ToolCallItem("c1", tools.FinishQuestionName, map[string]any{"reason": "solved"}),
		)},
		// No further steps: a second model call fails the test.
	}}
	tr := newTr()

	res, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Finished || res.Exhausted || res.Iterations != 1 {
		t.Errorf("res = %+v", res)
	}
	// The finish call is still answered so the transcript stays valid.
	if err := tr.Validate(); err != nil {
		t.Errorf("transcript invalid: %v", err)
	}
	last, _ := tr.Last()
	if got := last.ToolResults(); len(got) != 1 || !strings.HasPrefix(got[0].Content, "FINISH_QUESTION:") {
		t.Errorf("last turn = %+v", last)
	}
}

func TestRunBudgetExhausted(t *testing.T) {
	call := func(id string) *llm.Response {
		return callResp(transcript.ToolCallItem(id, "echo", map[string]any{"message": id}))
	}
	mock := &mockLLM{t: t, steps: []mockStep{
		{resp: call("c1")},
		{resp: call("c2")},
		{resp: call("c3")},
	}}
	tr := newTr()

	res, err := testEngine(t, mock, 3).Run(context.Background(), "sys", tr, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Exhausted || res.Finished || res.Iterations != 3 {
		t.Errorf("res = %+v", res)
	}
	if mock.calls != 3 {
		t.Errorf("model called %d times, want 3", mock.calls)
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("transcript invalid: %v", err)
	}

	// The warning appears exactly once, in the final results turn.
	warnings := 0
	for i, turn := range tr.Turns {
		for _, item := range turn.Items {
			if item.Type == transcript.ItemText && strings.Contains(item.Text, "WARNING: Maximum number of turns") {
				warnings++
				if i != tr.Len()-1 {
					t.Errorf("warning in turn %d, want final turn %d", i, tr.Len()-1)
				}
			}
		}
	}
	if warnings != 1 {
		t.Errorf("warning appeared %d times, want 1", warnings)
	}
	last, _ := tr.Last()
	if !strings.Contains(last.Text(), prompts.MaxTurnsWarning) {
		t.Errorf("final turn lacks warning: %+v", last)
	}
}

func TestRunEmptyReplySkipped(t *testing.T) {
	mock := &mockLLM{t: t, steps: []mockStep{
		{resp: &llm.Response{Turn: transcript.Turn{Role: transcript.RoleAssistant}}},
	}}
	tr := newTr()

	res, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d", res.Iterations)
	}
	if tr.Len() != 1 {
		t.Errorf("empty reply was appended, Len = %d", tr.Len())
	}
}

func TestRunModelError(t *testing.T) {
	wantErr := errors.New("api down")
	mock := &mockLLM{t: t, steps: []mockStep{
		{resp: callResp(transcript.ToolCallItem("c1", "echo", map[string]any{"message": "x"}))},
		{err: wantErr},
	}}
	tr := newTr()

	_, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, testRegistry(t))
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run error = %v, want %v", err, wantErr)
	}
	// The failure hit at a query boundary, so the transcript extended so
	// far is still consistent and safe to retry from.
	if tr.Len() != 3 {
		t.Errorf("Len = %d, want 3", tr.Len())
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("transcript invalid after failure: %v", err)
	}
}

func TestRunRejectsInvalidTranscript(t *testing.T) {
	mock := &mockLLM{t: t}
	tr := newTr()
	tr.Append(transcript.AssistantTurn(transcript.ToolCallItem("c1", "echo", nil)))

	if _, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, testRegistry(t)); err == nil {
		t.Fatal("Run accepted transcript with dangling tool call")
	}
	if mock.calls != 0 {
		t.Errorf("model queried despite invalid transcript")
	}
}

func TestRunTokenAccounting(t *testing.T) {
	r1 := callResp(transcript.ToolCallItem("c1", "echo", map[string]any{"message": "x"}))
	r1.InputTokens, r1.OutputTokens = 100, 20
	r2 := textResp("done")
	r2.InputTokens, r2.OutputTokens = 150, 30

	mock := &mockLLM{t: t, steps: []mockStep{{resp: r1}, {resp: r2}}}
	tr := newTr()

	res, err := testEngine(t, mock, 0).Run(context.Background(), "sys", tr, testRegistry(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.InputTokens != 250 || res.OutputTokens != 50 {
		t.Errorf("tokens = %d in, %d out", res.InputTokens, res.OutputTokens)
	}
}

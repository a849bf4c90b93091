// Package engine runs the model/tool conversation loop.
//
// One Run call drives a transcript forward until the model produces a
// final text reply, calls the finish tool, or exhausts the turn budget.
// The engine owns the tool-call/tool-result pairing invariant: every
// tool call the model issues is answered, in order, in a single user
// turn appended immediately after the assistant turn that issued it.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studyhall/tutor-agent/internal/llm"
	"github.com/studyhall/tutor-agent/internal/prompts"
	"github.com/studyhall/tutor-agent/internal/tools"
	"github.com/studyhall/tutor-agent/internal/transcript"
)

const (
	// DefaultMaxTurns bounds model queries per Run call. The budget
	// exists to stop tool-call loops, not to ration tokens.
	DefaultMaxTurns = 10

	defaultMaxTokens = 8192
)

// Config tunes a turn engine.
type Config struct {
	Model      string
	MaxTokens  int // per-response token cap, 0 means defaultMaxTokens
	MaxTurns   int // model queries per Run, 0 means DefaultMaxTurns
	FinishTool string
}

// Result summarizes one Run.
type Result struct {
	// Finished reports that the model called the finish tool.
	Finished bool

	// Exhausted reports that the turn budget stopped the run. This is
	// a policy stop, not an error; the transcript is left consistent.
	Exhausted bool

	// Iterations is the number of model queries made.
	Iterations int

	InputTokens  int
	OutputTokens int
}

// Engine drives conversations. It is stateless between Run calls; all
// conversation state lives in the transcript.
type Engine struct {
	logger     *slog.Logger
	client     llm.Client
	model      string
	maxTokens  int
	maxTurns   int
	finishTool string
}

// New creates a turn engine.
func New(logger *slog.Logger, client llm.Client, cfg Config) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.FinishTool == "" {
		cfg.FinishTool = tools.FinishQuestionName
	}
	return &Engine{
		logger:     logger.With("component", "engine"),
		client:     client,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxTurns:   cfg.MaxTurns,
		finishTool: cfg.FinishTool,
	}
}

// Run advances the transcript until the model stops, the finish tool
// fires, or the turn budget runs out. On a model query error the
// transcript is returned as extended so far; because failures happen at
// query boundaries it is always consistent and safe to retry.
func (e *Engine) Run(ctx context.Context, system string, tr *transcript.Transcript, reg *tools.Registry) (Result, error) {
	var res Result

	if err := tr.Validate(); err != nil {
		return res, fmt.Errorf("transcript invalid before run: %w", err)
	}

	defs := reg.Definitions()

	for turn := 0; ; turn++ {
		if turn >= e.maxTurns {
			e.logger.Warn("turn budget exhausted", "session", tr.SessionID, "max_turns", e.maxTurns)
			res.Exhausted = true
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		resp, err := e.client.Chat(ctx, &llm.Request{
			Model:     e.model,
			System:    system,
			Turns:     tr.Turns,
			Tools:     defs,
			MaxTokens: e.maxTokens,
		})
		if err != nil {
			return res, fmt.Errorf("model query failed (iteration %d): %w", turn, err)
		}
		res.Iterations = turn + 1
		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens

		calls := resp.Turn.ToolCalls()
		if len(calls) == 0 {
			// Final reply. An empty reply is skipped entirely so a
			// contentless turn never lands in the transcript.
			if !resp.Turn.Empty() {
				tr.Append(resp.Turn)
			} else {
				e.logger.Debug("model returned empty reply", "session", tr.SessionID)
			}
			return res, nil
		}

		// The assistant turn is kept whole: any text alongside the
		// tool calls stays in place.
		tr.Append(resp.Turn)

		items := make([]transcript.Item, 0, len(calls)+1)
		finished := false
		for _, call := range calls {
			out := reg.Dispatch(ctx, tr.Student, call)
			e.logger.Debug("tool result",
				"session", tr.SessionID,
				"tool", call.Name,
				"error", out.Err)
			items = append(items, transcript.ToolResultItem(call.ID, out.String()))
			if call.Name == e.finishTool && !out.Err {
				finished = true
			}
		}

		if turn == e.maxTurns-1 {
			items = append(items, transcript.TextItem(prompts.MaxTurnsWarning))
		}

		tr.Append(transcript.Turn{Role: transcript.RoleUser, Items: items})

		if finished {
			e.logger.Info("finish tool called", "session", tr.SessionID, "iterations", res.Iterations)
			res.Finished = true
			return res, nil
		}
	}
}

// Package tools provides the registry of model-callable tools and the
// dispatch path that executes them.
//
// Each tool carries a JSON-schema parameter description sent to the model
// verbatim. An unknown tool name, a missing required argument, or a
// panicking handler all produce an error result for the model to read
// and recover from, never a crashed turn.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/studyhall/tutor-agent/internal/transcript"
)

// ErrUnknownTool is returned by Get for unregistered tool names.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes a tool call. The student identity is injected by the
// dispatcher from the session; it never appears in the model-facing
// schema and the model cannot spoof it.
type Handler func(ctx context.Context, student string, args map[string]any) (string, error)

// Tool is a single callable capability.
type Tool struct {
	Name        string
	Description string

	// Parameters is a JSON-schema object describing the arguments,
	// in the {"type": "object", "properties": ..., "required": ...}
	// shape the Anthropic API expects. Nil means no arguments.
	Parameters map[string]any

	Handler Handler
}

// Registry holds the tools available to a session.
type Registry struct {
	logger *slog.Logger
	tools  map[string]*Tool
	order  []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "tools"),
		tools:  make(map[string]*Tool),
	}
}

// Register adds a tool, validating its schema up front. A malformed
// schema fails loudly here rather than surfacing as a confusing API
// error mid-conversation.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return errors.New("tool has empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has nil handler", t.Name)
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	if err := validateSchema(t.Parameters); err != nil {
		return fmt.Errorf("tool %s: %w", t.Name, err)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	r.logger.Debug("registered tool", "tool", t.Name)
	return nil
}

// MustRegister registers tools defined at startup, panicking on error.
func (r *Registry) MustRegister(ts ...*Tool) {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns the named tool, or ErrUnknownTool.
func (r *Registry) Get(name string) (*Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Definitions returns the tool definitions in API wire shape, in stable
// registration order.
func (r *Registry) Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": schema,
		})
	}
	return defs
}

// Dispatch executes one tool call on behalf of a student. It always
// returns an Outcome; execution failures, including handler panics,
// become error outcomes rather than Go errors so the conversation can
// continue and the model can self-correct.
func (r *Registry) Dispatch(ctx context.Context, student string, call transcript.ToolCall) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				"tool", call.Name,
				"student", student,
				"panic", rec,
				"stack", string(debug.Stack()))
			out = Fail(fmt.Sprintf("tool %s failed: %v", call.Name, rec))
		}
	}()

	t, err := r.Get(call.Name)
	if err != nil {
		return Fail(fmt.Sprintf("Tool %s not found", call.Name))
	}

	for _, p := range requiredParams(t.Parameters) {
		if _, ok := call.Input[p]; !ok {
			return Fail(fmt.Sprintf("missing required parameter %q for tool %s", p, call.Name))
		}
	}

	r.logger.Debug("dispatching tool", "tool", call.Name, "student", student, "call_id", call.ID)
	content, err := t.Handler(ctx, student, call.Input)
	if err != nil {
		r.logger.Warn("tool returned error", "tool", call.Name, "student", student, "error", err)
		return Fail(err.Error())
	}
	return OK(content)
}

// validateSchema checks the parts of a parameter schema the dispatcher
// relies on. It is not a full JSON-schema validator.
func validateSchema(schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if typ, ok := schema["type"].(string); !ok || typ != "object" {
		return errors.New(`schema "type" must be "object"`)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return errors.New(`schema "properties" must be an object`)
	}
	for _, p := range requiredParams(schema) {
		if _, ok := props[p]; !ok {
			return fmt.Errorf("required parameter %q not in properties", p)
		}
	}
	return nil
}

// requiredParams reads a schema's "required" list, tolerating both the
// []string written in Go code and the []any produced by JSON decoding.
func requiredParams(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

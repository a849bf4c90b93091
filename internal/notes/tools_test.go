package notes

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/studyhall/tutor-agent/internal/config"
	"github.com/studyhall/tutor-agent/internal/tools"
	"github.com/studyhall/tutor-agent/internal/transcript"
)

func testRegistry(t *testing.T) (*tools.Registry, *Store) {
	t.Helper()
	store := testStore(t)
	cfg := config.NotesConfig{Topics: []config.TopicConfig{
		{Name: "student_info", Default: "none"},
		{Name: "lesson_plan", Default: "none"},
	}}
	reg := tools.NewRegistry(slog.Default())
	for _, tool := range Tools(store, cfg) {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return reg, store
}

func dispatch(t *testing.T, reg *tools.Registry, name string, input map[string]any) tools.Outcome {
	t.Helper()
	return reg.Dispatch(context.Background(), "ada", transcript.ToolCall{
		ID: "c1", Name: name, Input: input,
	})
}

func TestGetNotesTool(t *testing.T) {
	reg, store := testRegistry(t)
	if err := store.Write("ada", "student_info", "Likes trains."); err != nil {
		t.Fatal(err)
	}

	out := dispatch(t, reg, ReadTool, map[string]any{"note_topic": "student_info"})
	if out.Err || out.String() != "Likes trains." {
		t.Errorf("get_notes = %+v", out)
	}

	out = dispatch(t, reg, ReadTool, map[string]any{"note_topic": "lesson_plan"})
	if !out.Err {
		t.Fatalf("get_notes on missing topic succeeded: %+v", out)
	}
	if got := out.String(); got != "Error: No notes found for lesson_plan" {
		t.Errorf("result = %q", got)
	}
}

func TestEditNotesTool(t *testing.T) {
	reg, store := testRegistry(t)
	if err := store.Write("ada", "lesson_plan", "addition drills"); err != nil {
		t.Fatal(err)
	}

	out := dispatch(t, reg, EditTool, map[string]any{
		"note_topic":  "lesson_plan",
		"old_excerpt": "addition",
		"new_excerpt": "subtraction",
	})
	if out.Err {
		t.Fatalf("edit_notes failed: %+v", out)
	}
	want := "Changes saved. New version of lesson_plan notes:\nsubtraction drills"
	if out.String() != want {
		t.Errorf("result = %q, want %q", out.String(), want)
	}
}

func TestEditNotesToolErrors(t *testing.T) {
	reg, store := testRegistry(t)
	if err := store.Write("ada", "lesson_plan", "addition drills"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input map[string]any
		want  string
	}{
		{
			"both excerpts empty",
			map[string]any{"note_topic": "lesson_plan", "old_excerpt": "", "new_excerpt": ""},
			"Error: Both old_excerpt and new_excerpt cannot be empty",
		},
		{
			"excerpt not found",
			map[string]any{"note_topic": "lesson_plan", "old_excerpt": "geometry", "new_excerpt": "x"},
			"Error: Could not find the exact text to replace in lesson_plan notes",
		},
		{
			"unknown topic",
			map[string]any{"note_topic": "hobbies", "old_excerpt": "a", "new_excerpt": "b"},
			"Error: No notes found for hobbies",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := dispatch(t, reg, EditTool, tc.input)
			if !out.Err {
				t.Fatalf("dispatch succeeded: %+v", out)
			}
			if out.String() != tc.want {
				t.Errorf("result = %q, want %q", out.String(), tc.want)
			}
		})
	}

	// None of the failures touched the note.
	got, _ := store.Read("ada", "lesson_plan")
	if got != "addition drills" {
		t.Errorf("note mutated: %q", got)
	}
}

func TestToolDefinitionsMentionTopics(t *testing.T) {
	reg, _ := testRegistry(t)
	for _, def := range reg.Definitions() {
		schema := def["input_schema"].(map[string]any)
		props := schema["properties"].(map[string]any)
		topicProp := props["note_topic"].(map[string]any)
		if !strings.Contains(topicProp["description"].(string), "student_info") {
			t.Errorf("%s topic description does not list topics: %q", def["name"], topicProp["description"])
		}
	}
}

package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/studyhall/tutor-agent/internal/config"
	"github.com/studyhall/tutor-agent/internal/tools"
)

// Tool names as the model sees them.
const (
	ReadTool = "get_notes"
	EditTool = "edit_notes"
)

// Tools exposes note reading and editing as model-callable tools.
func Tools(store *Store, cfg config.NotesConfig) []*tools.Tool {
	topicDesc := fmt.Sprintf("The notes topic. One of: %v.", cfg.TopicNames())

	return []*tools.Tool{
		{
			Name: ReadTool,
			Description: "Read the current notes for a topic. Notes persist across " +
				"sessions; read them before relying on remembered content.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"note_topic": map[string]any{
						"type":        "string",
						"description": topicDesc,
					},
				},
				"required": []string{"note_topic"},
			},
			Handler: func(ctx context.Context, student string, args map[string]any) (string, error) {
				topic, _ := args["note_topic"].(string)
				content, err := store.Read(student, topic)
				if errors.Is(err, ErrNotFound) {
					return "", fmt.Errorf("No notes found for %s", topic)
				}
				if err != nil {
					return "", err
				}
				return content, nil
			},
		},
		{
			Name: EditTool,
			Description: "Edit the notes for a topic by replacing an exact excerpt. " +
				"Provide the exact existing text in old_excerpt and its replacement " +
				"in new_excerpt. Leave old_excerpt empty to append new_excerpt at " +
				"the end, or new_excerpt empty to delete old_excerpt.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"note_topic": map[string]any{
						"type":        "string",
						"description": topicDesc,
					},
					"old_excerpt": map[string]any{
						"type":        "string",
						"description": "Exact text to replace. Empty string appends instead.",
					},
					"new_excerpt": map[string]any{
						"type":        "string",
						"description": "Replacement text. Empty string deletes the old excerpt.",
					},
				},
				"required": []string{"note_topic", "old_excerpt", "new_excerpt"},
			},
			Handler: func(ctx context.Context, student string, args map[string]any) (string, error) {
				topic, _ := args["note_topic"].(string)
				oldExcerpt, _ := args["old_excerpt"].(string)
				newExcerpt, _ := args["new_excerpt"].(string)

				updated, err := store.Edit(student, topic, oldExcerpt, newExcerpt)
				switch {
				case errors.Is(err, ErrEmptyEdit):
					return "", errors.New("Both old_excerpt and new_excerpt cannot be empty")
				case errors.Is(err, ErrNotFound):
					return "", fmt.Errorf("No notes found for %s", topic)
				case errors.Is(err, ErrExcerptNotFound):
					return "", fmt.Errorf("Could not find the exact text to replace in %s notes", topic)
				case err != nil:
					return "", err
				}
				return fmt.Sprintf("Changes saved. New version of %s notes:\n%s", topic, updated), nil
			},
		},
	}
}

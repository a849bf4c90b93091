// Package prompts holds the model-facing text: the tutor persona, the
// per-question opening message, and the fixed protocol strings the rest
// of the system keys on.
package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/studyhall/tutor-agent/internal/config"
)

// Timestamps shown to the model use this layout.
const TimeLayout = "2006-01-02 15:04:05"

// MaxTurnsWarning is injected alongside tool results when the next
// iteration would exhaust the turn budget.
const MaxTurnsWarning = "WARNING: Maximum number of turns reached. " +
	"You get one more response. Do not call any more tools."

// Apology is the assistant text persisted when the model backend stays
// unreachable after retries. It keeps the transcript coherent and gives
// the student something to read instead of a stack trace.
const Apology = "<to_student>\nSorry, I'm having trouble thinking right now. " +
	"Give me a moment and send your message again.\n</to_student>"

const persona = `You are a patient, encouraging math tutor working one-on-one with a student. The student only sees text you place inside <to_student> tags; everything else is your private workspace.

For each question, follow these steps:

1. Read your notes on the student to recall who they are, what they have been working on, and what has worked before.
2. Think up a problem suited to their level, slightly harder than the last one they solved comfortably. Write the problem inside <problem> tags.
3. Work out the full solution yourself inside <solution> tags before showing the student anything.
4. Present the problem to the student inside <to_student> tags. Do not reveal the solution.
5. When the student responds, check their work against your solution. Give hints rather than answers. Celebrate progress.
6. When the student solves the problem or wants to move on, update your notes with anything worth remembering, then call finish_question with a short reason.

Keep your notes current with the edit_notes tool. Guidance per topic:

`

// System renders the tutor system prompt, including the per-topic
// note-keeping guidance from configuration.
func System(cfg config.NotesConfig) string {
	var b strings.Builder
	b.WriteString(persona)
	for _, t := range cfg.Topics {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Guide)
	}
	return b.String()
}

// NotesBlock renders one topic's notes for the opening message.
func NotesBlock(topic, content string) string {
	return fmt.Sprintf("<notes topic=%q>\n%s\n</notes>\n", topic, content)
}

// FirstQuestion renders the opening user message for a fresh question:
// the current notes followed by the session timestamp.
func FirstQuestion(notesBlocks string, now time.Time) string {
	return fmt.Sprintf(
		"Here are your current notes on the student:\n\n%s\nThe current date and time is %s.\n\nLet's get started! Pick a problem for the student.",
		notesBlocks, now.Format(TimeLayout))
}

// WrapUp is the message sent when a question is rotated out without the
// model having called finish_question, giving it one pass to save notes.
func WrapUp() string {
	return "We're moving on from this question. Before we do, update your notes " +
		"with anything worth remembering about this exchange, then call " +
		"finish_question."
}

// FromStudent wraps a student's chat message for the transcript.
func FromStudent(text string) string {
	return fmt.Sprintf("<from_student>\n%s\n</from_student>", text)
}

// EnrollmentNote seeds the student_info notes from operator-supplied
// text at enrollment time.
func EnrollmentNote(student, info string) string {
	return fmt.Sprintf("User-supplied information for student %s (edit as needed):\n%s", student, info)
}

// Package session coordinates the tutoring lifecycle: enrolling
// students, opening questions, running conversational turns, and
// rotating to fresh questions with a clean context.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/studyhall/tutor-agent/internal/config"
	"github.com/studyhall/tutor-agent/internal/engine"
	"github.com/studyhall/tutor-agent/internal/notes"
	"github.com/studyhall/tutor-agent/internal/prompts"
	"github.com/studyhall/tutor-agent/internal/tools"
	"github.com/studyhall/tutor-agent/internal/transcript"
)

const (
	// defaultRetries is how many immediate attempts a turn gets before
	// the controller gives up and persists an apology.
	defaultRetries = 3

	// studentInfoTopic receives operator-supplied text at enrollment
	// when the configured topic set includes it.
	studentInfoTopic = "student_info"
)

// ErrInvalidStudent is returned when a student name sanitizes to
// nothing usable.
var ErrInvalidStudent = errors.New("invalid student name")

// Controller owns session policy. The engine advances transcripts; the
// controller decides when to start, retry, persist, and rotate.
type Controller struct {
	logger      *slog.Logger
	engine      *engine.Engine
	notes       *notes.Store
	transcripts *transcript.Store
	registry    *tools.Registry
	topics      config.NotesConfig
	system      string
	retries     int
}

// NewController wires a session controller from its dependencies.
func NewController(logger *slog.Logger, eng *engine.Engine, ns *notes.Store, ts *transcript.Store, reg *tools.Registry, cfg *config.Config) *Controller {
	retries := cfg.Session.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &Controller{
		logger:      logger.With("component", "session"),
		engine:      eng,
		notes:       ns,
		transcripts: ts,
		registry:    reg,
		topics:      cfg.Notes,
		system:      prompts.System(cfg.Notes),
		retries:     retries,
	}
}

// SanitizeStudent normalizes a display name into a storage key:
// lowercase, with everything outside [a-z0-9-_] dropped.
func SanitizeStudent(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EnrollStudent creates the configured note topics for a student and
// returns the storage key. Topics that already exist are left alone, so
// enrolling twice never loses edited notes. Operator-supplied info, if
// any, seeds the student_info topic.
func (c *Controller) EnrollStudent(name, info string) (string, error) {
	key := SanitizeStudent(name)
	if key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidStudent, name)
	}

	for _, t := range c.topics.Topics {
		text := t.Default
		if t.Name == studentInfoTopic && info != "" {
			text = prompts.EnrollmentNote(name, info)
		}
		created, err := c.notes.CreateIfMissing(key, t.Name, text)
		if err != nil {
			return "", fmt.Errorf("enroll %s: %w", key, err)
		}
		if created {
			c.logger.Debug("created notes", "student", key, "topic", t.Name)
		}
	}
	c.logger.Info("student enrolled", "student", key)
	return key, nil
}

// Enrolled reports whether the student has any notes on record.
func (c *Controller) Enrolled(student string) (bool, error) {
	topics, err := c.notes.Topics(student)
	if err != nil {
		return false, err
	}
	return len(topics) > 0, nil
}

// StartQuestion opens a fresh transcript for the student, seeded with
// their current notes and the wall-clock time. Each question starts
// from a clean context; anything worth carrying over must already be
// in the notes.
func (c *Controller) StartQuestion(ctx context.Context, student string) (*transcript.Transcript, error) {
	var blocks strings.Builder
	for _, t := range c.topics.Topics {
		content, err := c.notes.Read(student, t.Name)
		if errors.Is(err, notes.ErrNotFound) {
			content = t.Default
			if _, cerr := c.notes.CreateIfMissing(student, t.Name, content); cerr != nil {
				return nil, cerr
			}
		} else if err != nil {
			return nil, err
		}
		blocks.WriteString(prompts.NotesBlock(t.Name, content))
	}

	tr := transcript.New(student)
	tr.Append(transcript.UserTurn(prompts.FirstQuestion(blocks.String(), time.Now())))
	if err := c.transcripts.Save(tr); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}
	c.logger.Info("question started", "student", student, "session", tr.SessionID)
	return tr, nil
}

// Resume returns the student's latest unsealed transcript, or opens a
// fresh question when none exists.
func (c *Controller) Resume(ctx context.Context, student string) (*transcript.Transcript, error) {
	tr, err := c.transcripts.Latest(student)
	if err != nil {
		return nil, err
	}
	if tr == nil || tr.Sealed {
		return c.StartQuestion(ctx, student)
	}
	c.logger.Info("session resumed", "student", student, "session", tr.SessionID, "turns", tr.Len())
	return tr, nil
}

// RunTurn feeds optional student text into the transcript and runs the
// engine, retrying transient model failures on the spot. If every
// attempt fails, an apology turn is persisted and the turn reports
// success; the degradation is visible in the transcript, not as an
// error to the caller. Context cancellation is not retried.
func (c *Controller) RunTurn(ctx context.Context, tr *transcript.Transcript, studentText string) (engine.Result, error) {
	if tr.Sealed {
		return engine.Result{}, fmt.Errorf("session %s is sealed", tr.SessionID)
	}
	if studentText != "" {
		tr.Append(transcript.UserTurn(prompts.FromStudent(studentText)))
	}

	var (
		res engine.Result
		err error
	)
	for attempt := 1; attempt <= c.retries; attempt++ {
		res, err = c.engine.Run(ctx, c.system, tr, c.registry)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return res, err
		}
		c.logger.Warn("turn attempt failed",
			"student", tr.Student,
			"session", tr.SessionID,
			"attempt", attempt,
			"error", err)
	}
	if err != nil {
		c.logger.Error("turn failed after retries",
			"student", tr.Student,
			"session", tr.SessionID,
			"attempts", c.retries,
			"error", err)
		tr.Append(transcript.AssistantTurn(transcript.TextItem(prompts.Apology)))
	}

	if serr := c.transcripts.Save(tr); serr != nil {
		return res, fmt.Errorf("persist session: %w", serr)
	}
	return res, nil
}

// RotateQuestion closes out the current question and opens the next
// one. The model gets one wrap-up pass to flush observations into the
// notes; a failing wrap-up is logged and skipped, never blocks the
// rotation. The old transcript is sealed and a fresh one returned.
func (c *Controller) RotateQuestion(ctx context.Context, tr *transcript.Transcript) (*transcript.Transcript, error) {
	if !tr.Sealed {
		tr.Append(transcript.UserTurn(prompts.WrapUp()))
		if _, err := c.engine.Run(ctx, c.system, tr, c.registry); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.logger.Warn("wrap-up pass failed, rotating anyway",
				"student", tr.Student,
				"session", tr.SessionID,
				"error", err)
		}
		tr.Sealed = true
		if err := c.transcripts.Save(tr); err != nil {
			return nil, fmt.Errorf("seal session: %w", err)
		}
		c.logger.Info("question sealed", "student", tr.Student, "session", tr.SessionID)
	}
	return c.StartQuestion(ctx, tr.Student)
}

// tutor is an AI math tutor you talk to in the terminal.
//
// It keeps persistent per-student notes, hands one question at a time
// to the model, and resets the conversation context between questions
// so long sessions never silt up.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studyhall/tutor-agent/internal/buildinfo"
	"github.com/studyhall/tutor-agent/internal/config"
	"github.com/studyhall/tutor-agent/internal/engine"
	"github.com/studyhall/tutor-agent/internal/llm"
	"github.com/studyhall/tutor-agent/internal/notes"
	"github.com/studyhall/tutor-agent/internal/session"
	"github.com/studyhall/tutor-agent/internal/studentview"
	"github.com/studyhall/tutor-agent/internal/tools"
	"github.com/studyhall/tutor-agent/internal/transcript"
)

const usage = `Usage: tutor [flags] <command> [args]

Commands:
  chat [student]   start or resume a tutoring session
  init [dir]       write a starter tutor.yaml into dir (default .)
  version          print version information

Flags:
  -config <path>   config file (default: search tutor.yaml,
                   ~/.config/tutor/tutor.yaml, /etc/tutor/tutor.yaml)
  -o json          machine-readable output where supported

In a chat session, type your answers at the prompt.
  /next   move on to a new question
  /quit   end the session
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var (
		configPath string
		output     string
		rest       []string
	)
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-config", "--config":
			if i+1 >= len(args) {
				return errors.New("-config requires a path")
			}
			i++
			configPath = args[i]
		case "-o", "--output":
			if i+1 >= len(args) {
				return errors.New("-o requires a format")
			}
			i++
			output = args[i]
		case "-h", "--help", "help":
			fmt.Fprint(stdout, usage)
			return nil
		default:
			rest = append(rest, args[i])
		}
	}
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("no command given")
	}

	switch cmd := rest[0]; cmd {
	case "version":
		return cmdVersion(stdout, output)
	case "init":
		dir := "."
		if len(rest) > 1 {
			dir = rest[1]
		}
		return cmdInit(stdout, dir)
	case "chat":
		student := ""
		if len(rest) > 1 {
			student = strings.Join(rest[1:], " ")
		}
		return cmdChat(ctx, stdin, stdout, stderr, configPath, student)
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func cmdVersion(stdout io.Writer, output string) error {
	if output == "json" {
		return json.NewEncoder(stdout).Encode(buildinfo.Info())
	}
	fmt.Fprintln(stdout, buildinfo.String())
	return nil
}

const starterConfig = `# tutor configuration
data_dir: data
log_level: info

anthropic:
  api_key: ${ANTHROPIC_API_KEY}

model:
  name: claude-sonnet-4-20250514
  max_tokens: 8192

session:
  max_turns: 10
  retries: 3
`

func cmdInit(stdout io.Writer, dir string) error {
	path := filepath.Join(dir, "tutor.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s. Set ANTHROPIC_API_KEY and run: tutor chat\n", path)
	return nil
}

func cmdChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, studentName string) error {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	logger.Debug("starting", "version", buildinfo.Version, "config", cfgPath)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(cfg.DataDir, "tutor.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	noteStore, err := notes.NewStore(db)
	if err != nil {
		return err
	}
	transcriptStore, err := transcript.NewStore(db)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(logger)
	registry.MustRegister(notes.Tools(noteStore, cfg.Notes)...)
	registry.MustRegister(tools.FinishQuestionTool())

	client := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
	eng := engine.New(logger, client, engine.Config{
		Model:     cfg.Model.Name,
		MaxTokens: cfg.Model.MaxTokens,
		MaxTurns:  cfg.Session.MaxTurns,
	})
	ctl := session.NewController(logger, eng, noteStore, transcriptStore, registry, cfg)

	in := bufio.NewScanner(stdin)
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if studentName == "" {
		fmt.Fprint(stdout, "Student name: ")
		if !in.Scan() {
			return in.Err()
		}
		studentName = strings.TrimSpace(in.Text())
	}
	key := session.SanitizeStudent(studentName)
	if key == "" {
		return session.ErrInvalidStudent
	}

	enrolled, err := ctl.Enrolled(key)
	if err != nil {
		return err
	}
	if !enrolled {
		fmt.Fprintf(stdout, "Welcome, %s! Tell me a bit about yourself (grade, interests), or press enter to skip:\n> ", studentName)
		info := ""
		if in.Scan() {
			info = strings.TrimSpace(in.Text())
		}
		if _, err := ctl.EnrollStudent(studentName, info); err != nil {
			return err
		}
	}

	tr, err := ctl.Resume(ctx, key)
	if err != nil {
		return err
	}
	shown := tr.Len()

	// A brand-new transcript holds only the opening prompt; run the
	// engine once so the tutor poses the first problem.
	if tr.Len() == 1 {
		if _, err := ctl.RunTurn(ctx, tr, ""); err != nil {
			return err
		}
	}
	shown = display(stdout, tr, shown)

	for {
		fmt.Fprint(stdout, "\n> ")
		if !in.Scan() {
			fmt.Fprintln(stdout)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			fmt.Fprintln(stdout, "See you next time!")
			return nil
		case "/next":
			next, err := ctl.RotateQuestion(ctx, tr)
			if err != nil {
				return err
			}
			tr, shown = next, next.Len()
			if _, err := ctl.RunTurn(ctx, tr, ""); err != nil {
				return err
			}
			shown = display(stdout, tr, shown)
			continue
		}

		res, err := ctl.RunTurn(ctx, tr, line)
		if err != nil {
			return err
		}
		shown = display(stdout, tr, shown)

		if res.Finished {
			next, err := ctl.RotateQuestion(ctx, tr)
			if err != nil {
				return err
			}
			tr, shown = next, next.Len()
			if _, err := ctl.RunTurn(ctx, tr, ""); err != nil {
				return err
			}
			shown = display(stdout, tr, shown)
		}
	}
}

// display prints the student-visible text of assistant turns appended
// since the last call and returns the new high-water mark.
func display(stdout io.Writer, tr *transcript.Transcript, shown int) int {
	for _, turn := range tr.Turns[shown:] {
		if turn.Role != transcript.RoleAssistant {
			continue
		}
		if msg := studentview.ToStudent(turn.Text()); msg != "" {
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, msg)
		}
	}
	return tr.Len()
}

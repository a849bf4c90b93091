// Package config handles tutor configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./tutor.yaml, ~/.config/tutor/tutor.yaml, /etc/tutor/tutor.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"tutor.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tutor", "tutor.yaml"))
	}

	paths = append(paths, "/etc/tutor/tutor.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all tutor configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Model     ModelConfig     `yaml:"model"`
	Session   SessionConfig   `yaml:"session"`
	Notes     NotesConfig     `yaml:"notes"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// ModelConfig defines which model to use and its output budget.
type ModelConfig struct {
	Name      string `yaml:"name"`
	MaxTokens int    `yaml:"max_tokens"`
}

// SessionConfig defines per-question loop budgets.
type SessionConfig struct {
	// MaxTurns bounds the number of model queries per engine run.
	MaxTurns int `yaml:"max_turns"`
	// Retries is how many times a failed model query is retried
	// before the session degrades to an apology turn.
	Retries int `yaml:"retries"`
}

// NotesConfig defines the note topic set. The set is configuration-defined,
// not hard-coded: stores and tools take whatever topics appear here.
type NotesConfig struct {
	Topics []TopicConfig `yaml:"topics"`
}

// TopicConfig is one note topic and its placeholder text for new students.
type TopicConfig struct {
	Name    string `yaml:"name"`
	Default string `yaml:"default"`
	// Guide describes the topic's intended use; it is embedded into the
	// system prompt so the model knows what belongs where.
	Guide string `yaml:"guide,omitempty"`
}

// TopicNames returns the configured topic names in order.
func (n NotesConfig) TopicNames() []string {
	names := make([]string, 0, len(n.Topics))
	for _, t := range n.Topics {
		names = append(names, t.Name)
	}
	return names
}

// Topic looks up a topic by name. Returns false if not configured.
func (n NotesConfig) Topic(name string) (TopicConfig, bool) {
	for _, t := range n.Topics {
		if t.Name == name {
			return t, true
		}
	}
	return TopicConfig{}, false
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. api_key: ${ANTHROPIC_API_KEY}).
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural requirements that yaml decoding cannot.
func (c *Config) Validate() error {
	if len(c.Notes.Topics) == 0 {
		return fmt.Errorf("notes.topics must not be empty")
	}
	seen := make(map[string]bool, len(c.Notes.Topics))
	for _, t := range c.Notes.Topics {
		if t.Name == "" {
			return fmt.Errorf("notes.topics: topic with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("notes.topics: duplicate topic %q", t.Name)
		}
		seen[t.Name] = true
	}
	if c.Session.MaxTurns <= 0 {
		return fmt.Errorf("session.max_turns must be positive (got %d)", c.Session.MaxTurns)
	}
	return nil
}

// Default returns a default configuration with the standard topic set.
func Default() *Config {
	return &Config{
		DataDir:  "data",
		LogLevel: "info",
		Model: ModelConfig{
			Name:      "claude-sonnet-4-20250514",
			MaxTokens: 8192,
		},
		Session: SessionConfig{
			MaxTurns: 10,
			Retries:  3,
		},
		Notes: NotesConfig{
			Topics: []TopicConfig{
				{
					Name:    "student_info",
					Default: "No student info.",
					Guide:   "The student's grade level or professional situation, what areas they want to focus on, learning style, strategies that have worked well or poorly with them.",
				},
				{
					Name:    "lesson_plan",
					Default: "No lesson plan.",
					Guide:   "Start with a summary of short and long-term goals. Then have a list of topics that you want to cover, with details. Details include the material to cover, where the student is at (no proficiency, progressing, mastery). Use timestamps to keep track of when the topic was started and most recently worked on.",
				},
				{
					Name:    "past_problems",
					Default: "No past problems.",
					Guide:   "Use this to store problems that the student could not get right even after several tries, so that you can come back to them later once the student has progressed in their skills and is ready to try again.",
				},
				{
					Name:    "personal_interactions",
					Default: "No personal interactions.",
					Guide:   "This is for memories of your social connection with the student. For instance, if you or the student shared a personal detail that you think could be helpful when bonding with the student in the future.",
				},
			},
		},
	}
}

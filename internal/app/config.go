package app

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`

	// DBPath is the SQLite database file. Empty means the default under the
	// user home dir.
	DBPath string `yaml:"db_path"`

	// MaxConcurrentStreams caps live exchanges across all conversations.
	MaxConcurrentStreams int `yaml:"max_concurrent_streams"`

	// RecentWindow is how many raw messages are kept verbatim in the prompt
	// context alongside the rolling summary.
	RecentWindow int `yaml:"recent_window"`

	// SummarizeThreshold is the message-count interval at which the rolling
	// summary is refreshed. 0 disables summarization.
	SummarizeThreshold int `yaml:"summarize_threshold"`

	// MinSummarizeBatch is the smallest unsummarized backlog worth a provider
	// call; smaller backlogs wait for the next pass.
	MinSummarizeBatch int `yaml:"min_summarize_batch"`

	// ContextCharBudget bounds the combined prompt context in characters.
	ContextCharBudget int `yaml:"context_char_budget"`

	// TitleMaxLen caps generated session titles, ellipsis included.
	TitleMaxLen int `yaml:"title_max_len"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:              "https://openrouter.ai/api/v1/chat/completions",
		Model:                "z-ai/glm-4.5-air:free",
		MaxTokens:            4096,
		MaxConcurrentStreams: 8,
		RecentWindow:         20,
		SummarizeThreshold:   20,
		MinSummarizeBatch:    4,
		ContextCharBudget:    24_000,
		TitleMaxLen:          100,
	}
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".convo", "config.yaml")
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "convo.db"
	}
	return filepath.Join(home, ".convo", "convo.db")
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "z-ai/glm-4.5-air:free"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxConcurrentStreams <= 0 {
		cfg.MaxConcurrentStreams = 8
	}
	if cfg.MaxConcurrentStreams > 64 {
		cfg.MaxConcurrentStreams = 64
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 20
	}
	if cfg.SummarizeThreshold < 0 {
		cfg.SummarizeThreshold = 0
	}
	if cfg.MinSummarizeBatch <= 0 {
		cfg.MinSummarizeBatch = 4
	}
	if cfg.ContextCharBudget <= 0 {
		cfg.ContextCharBudget = 24_000
	}
	if cfg.TitleMaxLen <= 0 {
		cfg.TitleMaxLen = 100
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

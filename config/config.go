// Package config manages application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bilitext/internal/retry"
)

// Config holds all application configuration. It is loaded once at startup
// and treated as immutable afterwards.
type Config struct {
	// YtdlpPath is the path to the yt-dlp executable (default: "yt-dlp").
	YtdlpPath string `yaml:"ytdlp_path"`
	// YtdlpTimeout is the maximum time to wait for yt-dlp operations.
	YtdlpTimeout time.Duration `yaml:"ytdlp_timeout"`

	// WhisperPath is the path to the whisper executable used for
	// speech-to-text transcription (default: "whisper").
	WhisperPath string `yaml:"whisper_path"`
	// WhisperModel is the whisper model name (default: "small").
	WhisperModel string `yaml:"whisper_model"`
	// WhisperTimeout is the maximum time to wait for one transcription.
	WhisperTimeout time.Duration `yaml:"whisper_timeout"`

	// SESSDATA, BiliJCT and Buvid3 are Bilibili session cookies used to
	// access restricted content. All three come from the environment or a
	// .env file; they are never written back.
	SESSDATA string `yaml:"-"`
	BiliJCT  string `yaml:"-"`
	Buvid3   string `yaml:"-"`

	// LLMAPIKey authenticates the transcript post-processing endpoint.
	LLMAPIKey string `yaml:"-"`
	// LLMBaseURL is the OpenAI-compatible endpoint base URL.
	LLMBaseURL string `yaml:"llm_base_url"`
	// LLMModel is the model identifier for post-processing.
	LLMModel string `yaml:"llm_model"`

	// APIRequestsPerSecond caps the Bilibili API request rate.
	APIRequestsPerSecond float64 `yaml:"api_requests_per_second"`
	// ExportPacing is the delay applied between videos in batch export.
	ExportPacing time.Duration `yaml:"export_pacing"`

	// MaxRetries is the maximum number of retries for failed requests.
	MaxRetries int `yaml:"max_retries"`
	// InitialBackoff is the initial backoff duration for retries.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// MaxBackoff is the maximum backoff duration for retries.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		YtdlpPath:            "yt-dlp",
		YtdlpTimeout:         5 * time.Minute,
		WhisperPath:          "whisper",
		WhisperModel:         "small",
		WhisperTimeout:       30 * time.Minute,
		APIRequestsPerSecond: 2.0,
		ExportPacing:         2 * time.Second,
		MaxRetries:           3,
		InitialBackoff:       1 * time.Second,
		MaxBackoff:           30 * time.Second,
	}
}

// Load loads configuration from the config file, .env file and environment
// variables, and applies defaults.
// Priority: env vars > .env file > config file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(); err != nil {
		// Config file is optional
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// .env is optional too; godotenv does not override variables already
	// present in the environment.
	_ = godotenv.Load()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile attempts to load config from bilitext.yaml in the current
// directory or the user config directory.
func (c *Config) loadFromFile() error {
	paths := []string{
		"bilitext.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "bilitext", "bilitext.yaml"),
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	return os.ErrNotExist
}

// loadFromEnv overrides config with environment variables.
func (c *Config) loadFromEnv() {
	c.SESSDATA = os.Getenv("BILIBILI_SESSDATA")
	c.BiliJCT = os.Getenv("BILIBILI_BILI_JCT")
	c.Buvid3 = os.Getenv("BILIBILI_BUVID3")

	c.LLMAPIKey = os.Getenv("LLM_API_KEY")
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLMModel = v
	}

	if v := os.Getenv("BILITEXT_YTDLP_PATH"); v != "" {
		c.YtdlpPath = v
	}
	if v := os.Getenv("BILITEXT_YTDLP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.YtdlpTimeout = d
		}
	}
	if v := os.Getenv("BILITEXT_WHISPER_PATH"); v != "" {
		c.WhisperPath = v
	}
	if v := os.Getenv("BILITEXT_WHISPER_MODEL"); v != "" {
		c.WhisperModel = v
	}
	if v := os.Getenv("BILITEXT_EXPORT_PACING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ExportPacing = d
		}
	}
	if v := os.Getenv("BILITEXT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.YtdlpTimeout <= 0 {
		return fmt.Errorf("ytdlp_timeout must be positive")
	}
	if c.WhisperTimeout <= 0 {
		return fmt.Errorf("whisper_timeout must be positive")
	}
	if c.APIRequestsPerSecond <= 0 {
		return fmt.Errorf("api_requests_per_second must be positive")
	}
	if c.ExportPacing < 0 {
		return fmt.Errorf("export_pacing must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	return nil
}

// Retry returns the retry configuration derived from the tunables.
func (c *Config) Retry() retry.Config {
	return retry.Config{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// HasCredentials reports whether static session tokens are configured.
func (c *Config) HasCredentials() bool {
	return c.SESSDATA != ""
}

// HasLLM reports whether a post-processing endpoint is configured.
func (c *Config) HasLLM() bool {
	return c.LLMAPIKey != "" && c.LLMModel != ""
}

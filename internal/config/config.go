// Package config loads the service configuration from YAML with
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Recall.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Media         MediaConfig         `yaml:"media"`
	Twilio        TwilioConfig        `yaml:"twilio"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	MemoryService MemoryServiceConfig `yaml:"memory_service"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Reminders     RemindersConfig     `yaml:"reminders"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type MediaConfig struct {
	Root string `yaml:"root"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	WhisperModel string `yaml:"whisper_model"`
}

type MemoryServiceConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type ClassifierConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

type RemindersConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	PastTolerance time.Duration `yaml:"past_tolerance"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables
// referenced as ${VAR} or $VAR are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "recall.db"
	}
	if cfg.Media.Root == "" {
		cfg.Media.Root = "media"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.OpenAI.WhisperModel == "" {
		cfg.OpenAI.WhisperModel = "whisper-1"
	}
	if cfg.Classifier.ConfidenceThreshold == 0 {
		cfg.Classifier.ConfidenceThreshold = 0.5
	}
	if cfg.Reminders.TickInterval == 0 {
		cfg.Reminders.TickInterval = time.Minute
	}
	if cfg.Reminders.MaxAttempts == 0 {
		cfg.Reminders.MaxAttempts = 3
	}
	if cfg.Reminders.PastTolerance == 0 {
		cfg.Reminders.PastTolerance = 2 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 1 {
		return fmt.Errorf("classifier confidence threshold %f out of range", c.Classifier.ConfidenceThreshold)
	}
	if c.Reminders.MaxAttempts < 1 {
		return fmt.Errorf("reminder max attempts must be at least 1")
	}
	if c.Reminders.TickInterval < time.Second {
		return fmt.Errorf("reminder tick interval %s too small", c.Reminders.TickInterval)
	}
	return nil
}

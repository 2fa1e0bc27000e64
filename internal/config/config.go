// Package config loads the application configuration from a YAML file with
// environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/logging"
)

// Config is the root application configuration. Durations are plain numbers
// with the unit in the field name.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Log logging.Config `yaml:"log"`

	Queue struct {
		Database             string `yaml:"database"`
		MaxAttempts          int    `yaml:"max_attempts"`
		MaxStalledCount      int    `yaml:"max_stalled_count"`
		BackoffBaseSeconds   int    `yaml:"backoff_base_seconds"`
		SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
		CompletedTTLHours    int    `yaml:"completed_ttl_hours"`
		FailedTTLHours       int    `yaml:"failed_ttl_hours"`
	} `yaml:"queue"`

	Workers struct {
		Count                  int `yaml:"count"`
		LockDurationSeconds    int `yaml:"lock_duration_seconds"`
		PollIntervalMs         int `yaml:"poll_interval_ms"`
		DownloadTimeoutSeconds int `yaml:"download_timeout_seconds"`
	} `yaml:"workers"`

	Speech struct {
		CredentialsFile string `yaml:"credentials_file"`
		LanguageCode    string `yaml:"language_code"`
		Diarization     bool   `yaml:"diarization"`
	} `yaml:"speech"`

	Supabase struct {
		URL        string `yaml:"url"`
		ServiceKey string `yaml:"service_key"`
	} `yaml:"supabase"`
}

// Load reads the YAML config at path and applies environment overrides.
// A .env file next to the binary is honoured when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Queue.BackoffBaseSeconds) * time.Second
}

// SweepInterval returns how often the stall sweeper runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Queue.SweepIntervalSeconds) * time.Second
}

// CompletedTTL returns the retention window for completed jobs.
func (c *Config) CompletedTTL() time.Duration {
	return time.Duration(c.Queue.CompletedTTLHours) * time.Hour
}

// FailedTTL returns the retention window for failed jobs.
func (c *Config) FailedTTL() time.Duration {
	return time.Duration(c.Queue.FailedTTLHours) * time.Hour
}

// LockDuration returns how long a worker lease is valid.
func (c *Config) LockDuration() time.Duration {
	return time.Duration(c.Workers.LockDurationSeconds) * time.Second
}

// PollInterval returns the worker idle poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workers.PollIntervalMs) * time.Millisecond
}

// DownloadTimeout returns the hard audio download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Workers.DownloadTimeoutSeconds) * time.Second
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Queue.Database == "" {
		c.Queue.Database = "data/queue.db"
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.MaxStalledCount == 0 {
		c.Queue.MaxStalledCount = 2
	}
	if c.Queue.BackoffBaseSeconds == 0 {
		c.Queue.BackoffBaseSeconds = 2
	}
	if c.Queue.SweepIntervalSeconds == 0 {
		c.Queue.SweepIntervalSeconds = 30
	}
	if c.Queue.CompletedTTLHours == 0 {
		c.Queue.CompletedTTLHours = 1
	}
	if c.Queue.FailedTTLHours == 0 {
		c.Queue.FailedTTLHours = 24
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = 4
	}
	if c.Workers.LockDurationSeconds == 0 {
		c.Workers.LockDurationSeconds = 60
	}
	if c.Workers.PollIntervalMs == 0 {
		c.Workers.PollIntervalMs = 1000
	}
	if c.Workers.DownloadTimeoutSeconds == 0 {
		c.Workers.DownloadTimeoutSeconds = 300
	}
	if c.Speech.LanguageCode == "" {
		c.Speech.LanguageCode = "pt-BR"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Supabase.URL = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_KEY"); v != "" {
		c.Supabase.ServiceKey = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		c.Speech.CredentialsFile = v
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers.Count = n
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
}

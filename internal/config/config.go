package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Attempt AttemptConfig `yaml:"attempt"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig is the dev gateway's listen address and demo pacing.
type ServerConfig struct {
	Host         string        `yaml:"host" env:"QUIZLIVE_HOST"`
	Port         int           `yaml:"port" env:"QUIZLIVE_PORT"`
	DemoInterval time.Duration `yaml:"demo_interval" env:"QUIZLIVE_DEMO_INTERVAL"`
}

// GatewayConfig describes how to reach the realtime gateway and the
// REST API, and the reconnect budget for the event channel.
type GatewayConfig struct {
	WebSocketURL string        `yaml:"websocket_url" env:"QUIZLIVE_WS_URL"`
	BaseURL      string        `yaml:"base_url" env:"QUIZLIVE_BASE_URL"`
	MaxAttempts  int           `yaml:"max_attempts" env:"QUIZLIVE_MAX_ATTEMPTS"`
	RetryDelay   time.Duration `yaml:"retry_delay" env:"QUIZLIVE_RETRY_DELAY"`
}

// AttemptConfig bounds the attempt session's submission retries and
// sets the countdown resolution.
type AttemptConfig struct {
	MaxSubmitAttempts int           `yaml:"max_submit_attempts" env:"QUIZLIVE_MAX_SUBMIT_ATTEMPTS"`
	TickInterval      time.Duration `yaml:"tick_interval" env:"QUIZLIVE_TICK_INTERVAL"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"QUIZLIVE_LOG_LEVEL"`
}

// Default returns the built-in configuration. The reconnect budget
// matches the gateway's expectation: 5 attempts, fixed 1s backoff.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			DemoInterval: 3 * time.Second,
		},
		Gateway: GatewayConfig{
			WebSocketURL: "ws://127.0.0.1:8080/ws",
			BaseURL:      "http://127.0.0.1:8080",
			MaxAttempts:  5,
			RetryDelay:   time.Second,
		},
		Attempt: AttemptConfig{
			MaxSubmitAttempts: 3,
			TickInterval:      time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path (a missing file falls back to
// defaults), then applies environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No file: defaults plus environment.
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	return cfg, nil
}

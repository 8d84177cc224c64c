package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	BackendURL string `env:"BACKEND_URL,required"`
	APIToken   string `env:"API_TOKEN,required"`

	// Completion defaults
	Model       string  `env:"CHAT_MODEL" envDefault:"tngtech/deepseek-r1t2-chimera:free"`
	Temperature float64 `env:"CHAT_TEMPERATURE" envDefault:"0.7"`
	MaxTokens   int     `env:"CHAT_MAX_TOKENS" envDefault:"1000"`
	Thinking    bool    `env:"CHAT_THINKING" envDefault:"false"`

	// Resume an existing session instead of creating one on first send
	SessionID string `env:"CHAT_SESSION_ID"`

	// Metrics
	MetricsAddr string `env:"METRICS_ADDR"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

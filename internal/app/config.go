package app

import (
	"errors"
	"fmt"
)

// Config holds the process-level settings for an App. Everything about the
// training run itself lives in the run file at RunPath.
type Config struct {
	RunPath   string // hcl run definition
	Epochs    int    // overrides the run file when positive
	LogFormat string
	LogLevel  string
	Progress  bool // draw a progress bar per epoch
	Color     bool
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.RunPath == "" {
		return nil, errors.New("RunPath is a required configuration field and cannot be empty")
	}
	if cfg.Epochs < 0 {
		return nil, fmt.Errorf("epochs override cannot be negative, got %d", cfg.Epochs)
	}
	return &cfg, nil
}

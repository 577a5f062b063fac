package training

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// SidecarManager makes sure the plotting sidecar is reachable, launching it
// when it is not and a launch command is configured.
type SidecarManager struct {
	service   *PlottingService
	config    SidecarConfig
	logger    *slog.Logger
	process   *exec.Cmd
	isRunning bool
}

// SidecarConfig contains configuration for the sidecar service
type SidecarConfig struct {
	AutoStart    bool          `json:"auto_start"`
	Command      []string      `json:"command"` // e.g. ["python3", "app.py"] or ["docker", "compose", "up", "-d"]
	Dir          string        `json:"dir"`
	StartTimeout time.Duration `json:"start_timeout"`
	PollInterval time.Duration `json:"poll_interval"`
}

// DefaultSidecarConfig returns default configuration for the sidecar
func DefaultSidecarConfig() SidecarConfig {
	return SidecarConfig{
		AutoStart:    false,
		StartTimeout: 30 * time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}

// NewSidecarManager creates a manager for the sidecar behind service.
func NewSidecarManager(service *PlottingService, config SidecarConfig, logger *slog.Logger) (*SidecarManager, error) {
	if service == nil {
		return nil, fmt.Errorf("plotting service is required")
	}
	if config.AutoStart && len(config.Command) == 0 {
		return nil, fmt.Errorf("auto-start requires a launch command")
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = DefaultSidecarConfig().StartTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSidecarConfig().PollInterval
	}
	if logger == nil {
		logger = discardLogger
	}
	return &SidecarManager{service: service, config: config, logger: logger}, nil
}

// IsRunning checks if the sidecar service is responding
func (sm *SidecarManager) IsRunning() bool {
	return sm.service.CheckHealth() == nil
}

// Started reports whether this manager launched the sidecar process.
func (sm *SidecarManager) Started() bool {
	return sm.isRunning
}

// EnsureRunning returns once the sidecar answers its health check, launching
// it first when allowed. It gives up after StartTimeout or when ctx ends.
func (sm *SidecarManager) EnsureRunning(ctx context.Context) error {
	if sm.IsRunning() {
		return nil
	}
	if !sm.config.AutoStart {
		return fmt.Errorf("sidecar service not running at %s and auto-start is disabled", sm.service.BaseURL())
	}

	sm.logger.Info("starting visualization sidecar", "command", sm.config.Command)
	if err := sm.start(); err != nil {
		return fmt.Errorf("failed to start sidecar service: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sm.config.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(sm.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for sidecar service to start: %w", ctx.Err())
		case <-ticker.C:
			if sm.IsRunning() {
				sm.logger.Info("sidecar service is running", "url", sm.service.BaseURL())
				return nil
			}
		}
	}
}

// Stop kills a sidecar process started by this manager.
func (sm *SidecarManager) Stop() error {
	if !sm.isRunning || sm.process == nil {
		return nil
	}
	if err := sm.process.Process.Kill(); err != nil {
		return fmt.Errorf("failed to stop sidecar service: %w", err)
	}
	_ = sm.process.Wait()
	sm.process = nil
	sm.isRunning = false
	return nil
}

func (sm *SidecarManager) start() error {
	if _, err := exec.LookPath(sm.config.Command[0]); err != nil {
		return fmt.Errorf("command %q not found: %w", sm.config.Command[0], err)
	}

	cmd := exec.Command(sm.config.Command[0], sm.config.Command[1:]...)
	cmd.Dir = sm.config.Dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}

	sm.process = cmd
	sm.isRunning = true
	return nil
}

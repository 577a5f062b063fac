// Package app contains the application logic behind the trainloop command.
// It turns a run file into a dataset, model and training collaborators, runs
// the training engine and reports the result, independent of any entrypoint.
package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tsawler/go-trainloop/config"
)

// App owns the loaded run definition and the writers a run reports to.
type App struct {
	outW   io.Writer // final report
	errW   io.Writer // logs and progress
	logger *slog.Logger
	config *Config
	run    *config.Run
}

// NewApp loads and validates the run file named by appConfig. Logs and
// progress go to errW, the final loss report to outW.
func NewApp(outW, errW io.Writer, appConfig *Config) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, errW)

	run, err := config.Load(appConfig.RunPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if appConfig.Epochs > 0 {
		run.Epochs = appConfig.Epochs
	}
	logger.Debug("run file loaded", "path", appConfig.RunPath, "name", run.Name, "epochs", run.Epochs)

	return &App{
		outW:   outW,
		errW:   errW,
		logger: logger,
		config: appConfig,
		run:    run,
	}, nil
}

// Definition returns the loaded run definition.
func (a *App) Definition() *config.Run {
	return a.run
}

// Package cli parses command-line arguments, validates user input and
// carries process-level concerns like exit codes. It translates flags into
// the application's configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/tsawler/go-trainloop/internal/app"
)

// ExitError is an error that carries the process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns the application config,
// whether the program should exit cleanly right away, or an *ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("trainloop", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
trainloop - Supervised training runs described in HCL.

Usage:
  trainloop [options] [RUN_FILE]

Arguments:
  RUN_FILE
    Path to an .hcl run definition.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the run definition.")
	cFlag := flagSet.String("c", "", "Path to the run definition (shorthand).")
	epochsFlag := flagSet.Int("epochs", 0, "Override the number of epochs in the run file. 0 keeps the file's value.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	progressFlag := flagSet.Bool("progress", true, "Draw a progress bar per epoch.")
	colorFlag := flagSet.Bool("color", true, "Color the epoch summaries.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	if *configFlag != "" {
		path = *configFlag
	} else if *cFlag != "" {
		path = *cFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		RunPath:   path,
		Epochs:    *epochsFlag,
		LogFormat: logFormat,
		LogLevel:  logLevel,
		Progress:  *progressFlag,
		Color:     *colorFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return config, false, nil
}

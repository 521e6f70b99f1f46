package cli

import (
	"errors"
	"fmt"
)

// Exit codes returned by the guard command.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitConfig  = 2
	ExitDenied  = 3
	ExitUnready = 4
)

// ErrDenied is returned by commands whose limit decision was a denial, so
// scripts can branch on the exit code.
var ErrDenied = errors.New("request denied")

// ErrUnready is returned by the health command when a check fails.
var ErrUnready = errors.New("service not ready")

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrDenied):
		return ExitDenied
	case errors.Is(err, ErrUnready):
		return ExitUnready
	case errors.As(err, &cfgErr):
		return ExitConfig
	default:
		return ExitError
	}
}

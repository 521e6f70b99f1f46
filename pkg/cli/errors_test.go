package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("store.addrs", "missing required field")

	expected := "config error in store.addrs: missing required field"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestCommandError(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewCommandError("check", inner)

	if err.Error() != "command check failed: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("CommandError should unwrap to the inner error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"denied", fmt.Errorf("messages: %w", ErrDenied), ExitDenied},
		{"unready", NewCommandError("health", ErrUnready), ExitUnready},
		{"config", NewCommandError("serve", NewConfigError("x", "y")), ExitConfig},
		{"other", errors.New("boom"), ExitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

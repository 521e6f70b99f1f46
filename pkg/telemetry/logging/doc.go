// Package logging builds the service's structured logger.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - Structured logging with JSON, text, and console formats
//   - Context-aware logging with request IDs, user IDs and limit kinds
//   - Configurable log levels (debug, info, warn, error)
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithUser(ctx, "u1")
//	logger.InfoContext(ctx, "limit checked", "allowed", true)
//	// {"level":"INFO","msg":"limit checked","allowed":true,"request_id":"req-123","user_id":"u1"}
//
// Context fields are only picked up by the *Context logging methods.
package logging

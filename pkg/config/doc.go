// Package config loads the service configuration.
//
// Configuration comes from a YAML file with environment variable overrides.
// Everything is static: it is read once at startup and handed to the
// components that need it. There is no reload.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("guard.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("guard.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GUARD_SECTION_FIELD:
//
//   - GUARD_STORE_ADDRS overrides store.addrs (comma separated)
//   - GUARD_LIMITS_TOKENS_DAILY_LIMIT overrides limits.tokens.daily_limit
//   - GUARD_BREAKER_FAIL_OPEN_KINDS overrides breaker.fail_open_kinds
//   - GUARD_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// A set variable that does not parse is reported as a validation error
// rather than ignored. The limit kind table has no overrides.
//
// # Example Configuration
//
//	store:
//	  addrs: ["127.0.0.1:6379"]
//	  key_prefix: "guard:"
//
//	limits:
//	  kinds:
//	    messages: {max_requests: 30, window: 60s}
//	    conversations: {max_requests: 5, window: 60s}
//	  tokens:
//	    daily_limit: 50000
//	    monthly_limit: 1000000
//
//	breaker:
//	  failure_threshold: 5
//	  failure_window: 60s
//	  half_open_delay: 30s
//	  fail_open_kinds: [tokens]
//
//	analytics:
//	  retention: 720h
//	  prune_schedule: "0 * * * *"
//	  archive:
//	    enabled: true
//	    path: data/violations.db
package config

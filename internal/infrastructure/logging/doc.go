// Package logging provides structured logging for INDI Panel.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Formats
//
//   - json: production, machine-parsable
//   - text: slog key=value lines
//   - console: coloured, aligned output for a terminal (phsym/console-slog)
//
// All entries carry service and version fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text, console
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 5000)
//	logger.Error("failed to connect", "error", err)
//
// Never log secrets, tokens, or passwords.
package logging

// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Observer adapts the logger to bridge events, so every initialization,
// submit rejection and release violation is reported with its registry ID,
// envoy ID and handle.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	bridge := envoy.New(envoy.WithObserver(logging.NewObserver(logger)))
package logging

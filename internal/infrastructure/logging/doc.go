// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output with ECS-style keys
//   - Development: Colored console output for human readability
//
// The level is held in a zap.AtomicLevel so that central configuration can
// change it while the agent runs. Throttled rate limits warnings emitted on
// hot paths such as a full event queue.
//
// Example Usage:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	logger.Info("agent started", zap.String("service", name))
//	_ = logger.SetLevel("debug")
package logging

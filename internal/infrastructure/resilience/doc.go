/*
Package resilience provides circuit breaker implementation for graceful degradation.

# Overview

This package implements the circuit breaker pattern so that an unavailable
collector costs the agent no network I/O: while the breaker is open, batches
are dropped immediately instead of waiting for a timeout.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Configurable failure thresholds and timeouts
- Error classification so client errors do not trip the breaker
- State change callbacks for monitoring

# Usage

	// Guard the intake endpoint
	breaker := resilience.New("intake", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker changed state", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	// Execute request through breaker
	err := breaker.Execute(func() error {
		return client.SendEvents(ctx, body)
	})

# States

- Closed: Normal operation, requests pass through
- Open: Service unavailable, requests fail immediately
- Half-Open: Testing if service recovered, limited requests allowed

# Pattern

The circuit breaker transitions between states based on success/failure rates:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience

/*
Package transport is the agent's HTTP client for the collector.

# Endpoints

  - POST /intake/v2/events: gzip-compressed NDJSON batches, no retries,
    guarded by a circuit breaker so an unreachable collector costs no I/O
  - GET /config/v1/agents: conditional central config polls with bounded
    retries on connection errors and 5xx responses
  - GET /: collector version probe

# Authentication

An API key is sent as "Authorization: ApiKey <key>" and takes precedence
over a secret token, sent as "Authorization: Bearer <token>".

# Usage

	client, err := transport.New(cfg, logger, transport.WithUserAgent("tracepipe/1.0.0"))
	if err := client.SendEvents(ctx, body); err != nil {
		var httpErr *transport.HTTPError
		if errors.As(err, &httpErr) { ... }
	}
*/
package transport

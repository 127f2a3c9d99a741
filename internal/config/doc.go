// Package config provides agent configuration.
//
// Static configuration is loaded from ELASTIC_APM_* environment variables,
// optionally layered over a YAML or TOML file named by
// ELASTIC_APM_CONFIG_FILE. The dynamic subset (sample rate, span limit,
// queue bounds, flush interval, log level, recording) is published as an
// immutable Snapshot through a Store so that central configuration can
// replace it atomically while the agent runs.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	snap, err := config.NewSnapshot(cfg)
//	store := config.NewStore(snap)
//	if store.Load().Sampler.Sample(traceID) { ... }
//
// Environment Variables:
//   - SERVER_URL, SECRET_TOKEN, API_KEY, SERVER_TIMEOUT
//   - SERVICE_NAME, SERVICE_VERSION, SERVICE_NODE_NAME, ENVIRONMENT, GLOBAL_LABELS
//   - TRANSACTION_SAMPLE_RATE, TRANSACTION_MAX_SPANS, TRANSACTION_IGNORE_URLS
//   - MAX_QUEUE_EVENT_COUNT, MAX_BATCH_EVENT_COUNT, FLUSH_INTERVAL
//   - CENTRAL_CONFIG, CENTRAL_CONFIG_POLL_INTERVAL, METRICS_INTERVAL
//   - LOG_LEVEL, LOG_DEVELOPMENT, RECORDING, CAPTURE_HEADERS
package config

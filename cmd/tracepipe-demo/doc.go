// Package main runs a small instrumented service for trying the agent
// against a collector.
//
// The service exposes a gin HTTP API and an in-process gRPC health server.
// Each HTTP request is recorded as a transaction; the handler queries the
// gRPC server, producing an exit span and a linked server transaction.
//
// Configuration:
//   - ELASTIC_APM_* environment variables and ELASTIC_APM_CONFIG_FILE
//   - CLI flags for listen addresses
//
// Usage:
//
//	ELASTIC_APM_SERVICE_NAME=orders ELASTIC_APM_SERVER_URL=http://localhost:8200 \
//	  ./tracepipe-demo -addr :8080 -grpc-addr localhost:50051
//
// Endpoints:
//   - GET /orders/:id: traced request with a downstream gRPC call
//   - GET /metrics: agent self-metrics in Prometheus format
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, flushing queued events
package main

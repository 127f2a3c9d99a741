/*
Package monitoring provides the agent's self-monitoring metrics.

# Overview

Collectors are registered on a per-agent Prometheus registry rather than the
global default, so several agents can live in one process and the host
application's own /metrics output is left untouched. The agent's metrics
loop gathers this registry and ships it as metric sets.

# Metrics

- Pipeline: events enqueued, dropped (by reason), sent, queue length
- Intake: requests by status, request duration, batch size, breaker state
- Central config: polls by result, published updates
- Tracing: transactions started (by sampling decision), spans, errors

# Usage

	metrics := monitoring.NewMetrics(nil)
	metrics.RecordEnqueued("transaction")

	timer := monitoring.NewTimer(metrics, len(batch))
	// ... send batch ...
	timer.Stop("success")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring

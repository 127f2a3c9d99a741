/*
Package centralconfig keeps the agent's dynamic settings in step with the
configuration the collector serves for the service.

A single goroutine polls GET /config/v1/agents with the entity tag of the
current snapshot. A 200 response is layered on the static configuration
and published atomically; a 304 leaves everything in place. The next poll
follows the Cache-Control max-age when the collector sends one, the poll
interval otherwise. Failed polls are spaced by an exponential backoff that
resets after the next success.

	f := centralconfig.New(cfg, store, client, logger, metrics)
	f.OnUpdate(func(old, current *config.Snapshot) { ... })
	f.Start(ctx)
	defer f.Stop()
*/
package centralconfig

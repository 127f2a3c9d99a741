/*
Package agent is the entry point for instrumented code.

An Agent is constructed and owned by the host application; nothing in this
package relies on implicit global state. Transactions and spans travel
through call chains inside a context.Context:

	a, err := agent.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	tx, _ := a.StartTransaction("GET /users", "request", agent.TransactionOptions{
		TraceParent: r.Header.Get("traceparent"),
		TraceState:  r.Header.Values("tracestate"),
	})
	defer tx.End()
	ctx := agent.ContextWithTransaction(r.Context(), tx)

	span, ctx := agent.StartSpanFromContext(ctx, "SELECT users", "db.postgresql.query")
	defer span.End()

Init, Default and Shutdown manage an optional process-wide agent for code
that cannot thread one through.

# Sampling

A transaction continuing a valid traceparent keeps the caller's sampling
decision and sample rate. A new trace is sampled from its trace id at the
configured rate. Unsampled transactions are still reported, without spans
or context, so that throughput stays visible.
*/
package agent

package agent

import "context"

type transactionKey struct{}

type spanKey struct{}

// ContextWithTransaction returns a copy of ctx carrying tx. Any span in
// ctx is cleared so that new spans attach to tx.
func ContextWithTransaction(ctx context.Context, tx *Transaction) context.Context {
	ctx = context.WithValue(ctx, transactionKey{}, tx)
	return context.WithValue(ctx, spanKey{}, (*Span)(nil))
}

// TransactionFromContext returns the transaction carried by ctx, or nil.
func TransactionFromContext(ctx context.Context) *Transaction {
	tx, _ := ctx.Value(transactionKey{}).(*Transaction)
	return tx
}

// ContextWithSpan returns a copy of ctx carrying s and its transaction.
func ContextWithSpan(ctx context.Context, s *Span) context.Context {
	if s == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, transactionKey{}, s.tx)
	return context.WithValue(ctx, spanKey{}, s)
}

// SpanFromContext returns the innermost span carried by ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// StartSpanFromContext starts a span under the span or transaction in ctx
// and returns it with a context carrying it. Without either it returns a
// nil span and ctx unchanged.
func StartSpanFromContext(ctx context.Context, name, spanType string) (*Span, context.Context) {
	var s *Span
	if parent := SpanFromContext(ctx); parent != nil {
		s = parent.StartSpan(name, spanType)
	} else if tx := TransactionFromContext(ctx); tx != nil {
		s = tx.StartSpan(name, spanType)
	} else {
		return nil, ctx
	}
	return s, ContextWithSpan(ctx, s)
}

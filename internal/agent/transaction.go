package agent

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/model"
	"github.com/GriffinCanCode/tracepipe/internal/tracecontext"
	"go.uber.org/zap"
)

// TransactionOptions carries the inbound propagation headers of the
// operation a transaction measures.
type TransactionOptions struct {
	// TraceParent is the inbound traceparent header. Empty or invalid
	// values start a new trace.
	TraceParent string
	// TraceState holds the inbound tracestate header values.
	TraceState []string
	// Start overrides the start time; zero means now.
	Start time.Time
}

// Transaction measures one top-level operation, typically an inbound
// request. Its methods are safe for concurrent use; End may be called
// once, later calls do nothing.
type Transaction struct {
	agent *Agent
	snap  *config.Snapshot
	tc    tracecontext.TraceContext

	parent     tracecontext.SpanID
	name       string
	typ        string
	start      time.Time
	sampled    bool
	recording  bool
	sampleRate float64
	hasRate    bool

	mu           sync.Mutex
	ended        bool
	result       string
	outcome      model.Outcome
	request      *model.Request
	response     *model.Response
	user         *model.User
	labels       model.Labels
	spansStarted int
	spansDropped int
}

// StartTransaction begins a transaction. A valid opts.TraceParent continues
// the caller's trace and keeps its sampling decision; otherwise a new trace
// is started and sampled at the configured rate.
func (a *Agent) StartTransaction(name, transactionType string, opts TransactionOptions) (*Transaction, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	snap := a.store.Load()
	tx := &Transaction{
		agent:     a,
		snap:      snap,
		name:      name,
		typ:       transactionType,
		start:     opts.Start,
		recording: snap.Recording,
	}
	if tx.start.IsZero() {
		tx.start = time.Now()
	}

	if tc, ok := a.continueTrace(opts); ok {
		tx.parent = tc.Span
		tx.tc = tc.Child(a.generator.NewSpanID())
		tx.sampled = tc.Flags.Recorded() && snap.Recording
		tx.tc.Flags = tx.tc.Flags.WithRecorded(tx.sampled)
		if tx.sampled {
			tx.sampleRate, tx.hasRate = tc.State.SampleRate()
		} else {
			tx.hasRate = true
		}
	} else {
		tx.tc = tracecontext.NewRoot(a.generator)
		tx.sampled = snap.Recording && snap.Sampler.Sample(tx.tc.Trace)
		if tx.sampled {
			tx.sampleRate = snap.SampleRate
		}
		tx.hasRate = true
		tx.tc.Flags = tx.tc.Flags.WithRecorded(tx.sampled)
		tx.tc.State = tx.tc.State.WithSampleRate(tx.sampleRate)
	}

	a.metrics.TransactionsStarted.WithLabelValues(boolLabel(tx.sampled)).Inc()
	return tx, nil
}

func (a *Agent) continueTrace(opts TransactionOptions) (tracecontext.TraceContext, bool) {
	if opts.TraceParent == "" {
		return tracecontext.TraceContext{}, false
	}
	tc, err := tracecontext.ParseTraceParent(opts.TraceParent)
	if err != nil {
		a.logger.Debug("ignored invalid traceparent", zap.String("traceparent", opts.TraceParent), zap.Error(err))
		return tracecontext.TraceContext{}, false
	}
	tc.State = tracecontext.ParseTraceState(opts.TraceState...)
	return tc, true
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// TraceContext returns the context identifying this transaction.
func (tx *Transaction) TraceContext() tracecontext.TraceContext {
	return tx.tc
}

// TraceParentHeader returns the traceparent value for outgoing calls made
// directly by the transaction.
func (tx *Transaction) TraceParentHeader() string {
	return tracecontext.FormatTraceParent(tx.tc)
}

// TraceStateHeader returns the tracestate value for outgoing calls, empty
// when there is nothing to propagate.
func (tx *Transaction) TraceStateHeader() string {
	s, _ := tx.tc.State.Format()
	return s
}

// Sampled reports whether the transaction records spans and context.
func (tx *Transaction) Sampled() bool {
	return tx.sampled
}

// Name returns the transaction name.
func (tx *Transaction) Name() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.name
}

// SetName renames the transaction, for example once a route is resolved.
func (tx *Transaction) SetName(name string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.name = name
}

// SetRequest records the inbound request.
func (tx *Transaction) SetRequest(r model.Request) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.request = &r
}

// SetResponse records the response written for the request.
func (tx *Transaction) SetResponse(r model.Response) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.response = &r
}

// SetUser records the user on whose behalf the transaction ran.
func (tx *Transaction) SetUser(u model.User) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.user = &u
}

// SetLabel attaches a label.
func (tx *Transaction) SetLabel(key, value string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.labels == nil {
		tx.labels = make(model.Labels)
	}
	tx.labels[key] = value
}

// RecordOutcome sets the result, such as "HTTP 2xx", and the outcome.
func (tx *Transaction) RecordOutcome(result string, outcome model.Outcome) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.result = result
	tx.outcome = outcome
}

// StartSpan starts a span that is a direct child of the transaction.
func (tx *Transaction) StartSpan(name, spanType string) *Span {
	return tx.startSpan(tx.tc.Span, name, spanType)
}

func (tx *Transaction) startSpan(parent tracecontext.SpanID, name, spanType string) *Span {
	s := newSpan(tx, parent, name, spanType)

	tx.mu.Lock()
	defer tx.mu.Unlock()
	switch {
	case !tx.sampled || tx.ended:
		s.dropped = true
	case tx.spansStarted >= tx.snap.TransactionMaxSpans:
		s.dropped = true
		tx.spansDropped++
		tx.agent.metrics.RecordDropped(monitoring.ReasonMaxSpans, 1)
	default:
		tx.spansStarted++
		tx.agent.metrics.SpansStarted.Inc()
	}
	return s
}

// End finishes the transaction and queues it. Unsampled transactions are
// sent without context or spans; nothing is sent while recording is off.
func (tx *Transaction) End() {
	end := time.Now()

	tx.mu.Lock()
	if tx.ended {
		tx.mu.Unlock()
		return
	}
	tx.ended = true
	ev := tx.event(end)
	tx.mu.Unlock()

	if !tx.recording {
		return
	}
	if err := tx.agent.enqueue(ev); err != nil {
		tx.agent.logger.Debug("dropped transaction", zap.String("name", ev.Name), zap.Error(err))
	}
}

// event builds the wire form. tx.mu must be held.
func (tx *Transaction) event(end time.Time) *model.Transaction {
	ev := &model.Transaction{
		ID:        tx.tc.Span.String(),
		TraceID:   tx.tc.Trace.String(),
		Name:      tx.name,
		Type:      tx.typ,
		Timestamp: model.Timestamp(tx.start),
		Duration:  model.DurationMillis(end.Sub(tx.start)),
		Result:    tx.result,
		Outcome:   tx.outcome,
		Sampled:   tx.sampled,
	}
	if tx.hasRate {
		rate := tx.sampleRate
		ev.SampleRate = &rate
	}
	if !tx.parent.IsZero() {
		ev.ParentID = tx.parent.String()
	}
	if ev.Outcome == "" {
		ev.Outcome = model.OutcomeUnknown
	}
	if !tx.sampled {
		return ev
	}

	ev.SpanCount = model.SpanCount{Started: tx.spansStarted, Dropped: tx.spansDropped}
	if tx.request != nil || tx.response != nil || tx.user != nil || len(tx.labels) > 0 {
		ev.Context = &model.TransactionContext{
			Request:  tx.request,
			Response: tx.response,
			User:     tx.user,
			Labels:   copyLabels(tx.labels),
		}
	}
	return ev
}

func copyLabels(l model.Labels) model.Labels {
	if len(l) == 0 {
		return nil
	}
	out := make(model.Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

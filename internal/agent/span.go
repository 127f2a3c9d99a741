package agent

import (
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/model"
	"github.com/GriffinCanCode/tracepipe/internal/tracecontext"
	"go.uber.org/zap"
)

// Span measures an operation inside a transaction. Dropped spans keep a
// valid trace context for propagation but are never sent. A nil *Span is
// valid and does nothing.
type Span struct {
	tx     *Transaction
	parent tracecontext.SpanID
	tc     tracecontext.TraceContext

	typ     string
	subtype string
	action  string
	start   time.Time
	dropped bool

	mu      sync.Mutex
	ended   bool
	name    string
	outcome model.Outcome
	http    *model.HTTPSpanContext
	db      *model.DBSpanContext
	dest    *model.Destination
	labels  model.Labels
}

// newSpan splits spanType of the form "type.subtype.action".
func newSpan(tx *Transaction, parent tracecontext.SpanID, name, spanType string) *Span {
	s := &Span{
		tx:     tx,
		parent: parent,
		tc:     tx.tc.Child(tx.agent.generator.NewSpanID()),
		name:   name,
		start:  time.Now(),
	}
	parts := strings.SplitN(spanType, ".", 3)
	s.typ = parts[0]
	if len(parts) > 1 {
		s.subtype = parts[1]
	}
	if len(parts) > 2 {
		s.action = parts[2]
	}
	return s
}

// StartSpan starts a child of s.
func (s *Span) StartSpan(name, spanType string) *Span {
	if s == nil {
		return nil
	}
	return s.tx.startSpan(s.tc.Span, name, spanType)
}

// Dropped reports whether the span will not be sent.
func (s *Span) Dropped() bool {
	return s == nil || s.dropped
}

// TraceContext returns the span's context: the transaction's trace and
// flags with the span's own id.
func (s *Span) TraceContext() tracecontext.TraceContext {
	if s == nil {
		return tracecontext.TraceContext{}
	}
	return s.tc
}

// TraceParentHeader returns the traceparent value for a call made within
// the span.
func (s *Span) TraceParentHeader() string {
	if s == nil {
		return ""
	}
	return tracecontext.FormatTraceParent(s.tc)
}

// TraceStateHeader returns the tracestate value for a call made within the
// span.
func (s *Span) TraceStateHeader() string {
	if s == nil {
		return ""
	}
	v, _ := s.tc.State.Format()
	return v
}

// SetDestination records the remote service an exit span talks to.
func (s *Span) SetDestination(address string, port int, resource string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dest = &model.Destination{Address: address, Port: port}
	if resource != "" {
		s.dest.Service = &model.DestinationService{Resource: resource}
	}
}

// SetDB records a database call.
func (s *Span) SetDB(db model.DBSpanContext) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = &db
}

// SetHTTP records an outgoing HTTP call.
func (s *Span) SetHTTP(h model.HTTPSpanContext) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.http = &h
}

// SetOutcome overrides the outcome derived at End.
func (s *Span) SetOutcome(o model.Outcome) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = o
}

// SetLabel attaches a label.
func (s *Span) SetLabel(key, value string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.labels == nil {
		s.labels = make(model.Labels)
	}
	s.labels[key] = value
}

// End finishes the span and queues it unless it was dropped.
func (s *Span) End() {
	if s == nil {
		return
	}
	end := time.Now()

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if s.dropped {
		s.mu.Unlock()
		return
	}
	ev := s.event(end)
	s.mu.Unlock()

	if err := s.tx.agent.enqueue(ev); err != nil {
		s.tx.agent.logger.Debug("dropped span", zap.String("name", ev.Name), zap.Error(err))
	}
}

// event builds the wire form. s.mu must be held.
func (s *Span) event(end time.Time) *model.Span {
	ev := &model.Span{
		ID:            s.tc.Span.String(),
		TransactionID: s.tx.tc.Span.String(),
		ParentID:      s.parent.String(),
		TraceID:       s.tc.Trace.String(),
		Name:          s.name,
		Type:          s.typ,
		Subtype:       s.subtype,
		Action:        s.action,
		Timestamp:     model.Timestamp(s.start),
		Duration:      model.DurationMillis(end.Sub(s.start)),
		Outcome:       s.outcome,
	}
	if s.tx.hasRate {
		rate := s.tx.sampleRate
		ev.SampleRate = &rate
	}
	if ev.Outcome == "" {
		ev.Outcome = s.derivedOutcome()
	}
	if s.http != nil || s.db != nil || s.dest != nil || len(s.labels) > 0 {
		ev.Context = &model.SpanContext{
			HTTP:        s.http,
			DB:          s.db,
			Destination: s.dest,
			Labels:      copyLabels(s.labels),
		}
	}
	return ev
}

func (s *Span) derivedOutcome() model.Outcome {
	switch {
	case s.http == nil || s.http.StatusCode == 0:
		return model.OutcomeUnknown
	case s.http.StatusCode >= 400:
		return model.OutcomeFailure
	default:
		return model.OutcomeSuccess
	}
}

// Package model defines the telemetry events shipped to the collector and
// their NDJSON wire form.
//
// The set of events is closed: Transaction, Span, Error and MetricSet are the
// only implementations of Event, and encoders switch over them exhaustively.
package model

import (
	"math"
	"time"
)

// Kind names an event type. It is also the key of the event's NDJSON line.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindSpan        Kind = "span"
	KindError       Kind = "error"
	KindMetricSet   Kind = "metricset"
)

// Event is one queued telemetry record.
type Event interface {
	Kind() Kind
	isEvent()
}

// Outcome classifies how an operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Timestamp converts t to microseconds since the Unix epoch.
func Timestamp(t time.Time) int64 {
	return t.UnixMicro()
}

// DurationMillis converts d to milliseconds rounded to three decimals.
func DurationMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*1000) / 1000
}

// Labels are user supplied key/value tags.
type Labels map[string]string

func (*Transaction) Kind() Kind { return KindTransaction }
func (*Span) Kind() Kind        { return KindSpan }
func (*Error) Kind() Kind       { return KindError }
func (*MetricSet) Kind() Kind   { return KindMetricSet }

func (*Transaction) isEvent() {}
func (*Span) isEvent()        {}
func (*Error) isEvent()       {}
func (*MetricSet) isEvent()   {}

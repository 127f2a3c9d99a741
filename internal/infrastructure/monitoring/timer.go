package monitoring

import "time"

// Timer measures one intake request.
type Timer struct {
	start   time.Time
	metrics *Metrics
	events  int
}

// NewTimer starts timing a request carrying events.
func NewTimer(metrics *Metrics, events int) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		events:  events,
	}
}

// Stop records the request with its outcome status.
func (t *Timer) Stop(status string) time.Duration {
	duration := time.Since(t.start)
	t.metrics.RecordRequest(status, t.events, duration)
	return duration
}

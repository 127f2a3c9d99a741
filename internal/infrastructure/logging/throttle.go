package logging

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Throttled logs warnings at most once per interval. Suppressed calls are
// counted and reported with the next emitted entry.
type Throttled struct {
	logger     *zap.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewThrottled returns a warner allowing one entry per interval.
func NewThrottled(logger *zap.Logger, interval time.Duration) *Throttled {
	return &Throttled{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Warn logs msg unless the limit was reached.
func (t *Throttled) Warn(msg string, fields ...zap.Field) {
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return
	}
	if n := t.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Int64("suppressed", n))
	}
	t.logger.Warn(msg, fields...)
}

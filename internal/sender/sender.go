// Package sender drains the event queue to the collector.
//
// A single goroutine owns all network I/O. It wakes when a full batch is
// waiting, when the flush interval elapses, on an explicit Flush, or when
// the sender is closed. The flush timer is reset after every send attempt,
// whatever its outcome. A failed request discards its batch; the loop
// carries on with the next one.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracepipe/internal/model"
	"github.com/GriffinCanCode/tracepipe/internal/queue"
	"github.com/GriffinCanCode/tracepipe/internal/transport"
	"github.com/blang/semver/v4"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Flush and Close once the sender is closed.
	ErrClosed = errors.New("sender closed")
	// ErrNotStarted is returned by Flush before Start.
	ErrNotStarted = errors.New("sender not started")
)

// ActivationMethodVersion is the first collector version that accepts the
// activation_method metadata field.
var ActivationMethodVersion = semver.MustParse("8.7.1")

// Transport is the part of the collector client used by the sender.
type Transport interface {
	SendEvents(ctx context.Context, body []byte) error
	ServerInfo(ctx context.Context) (transport.ServerInfo, error)
}

// Options configures a Sender.
type Options struct {
	Metadata model.Metadata
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
}

// Sender batches queued events into intake requests.
type Sender struct {
	queue     *queue.Queue
	store     config.SnapshotSource
	transport Transport
	metadata  model.Metadata
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}

	runCtx    context.Context
	cancelRun context.CancelFunc

	startOnce sync.Once
	started   atomic.Bool
	closed    atomic.Bool

	// owned by the loop goroutine, or by Close once the loop has exited
	probed            bool
	includeActivation bool
}

// New creates a sender; Start launches its loop.
func New(q *queue.Queue, store config.SnapshotSource, t Transport, opts Options) *Sender {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics(nil)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Sender{
		queue:     q,
		store:     store,
		transport: t,
		metadata:  opts.Metadata,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		flushReq:  make(chan chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
}

// Start launches the flush loop. Later calls do nothing.
func (s *Sender) Start() {
	s.startOnce.Do(func() {
		if s.closed.Load() {
			return
		}
		s.started.Store(true)
		go s.run()
	})
}

func (s *Sender) run() {
	defer close(s.done)

	timer := time.NewTimer(s.store.Load().FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return

		case <-s.queue.Ready():
			if s.flushFull() {
				timer.Reset(s.store.Load().FlushInterval)
			}

		case <-timer.C:
			s.flushAll()
			timer.Reset(s.store.Load().FlushInterval)

		case reply := <-s.flushReq:
			s.flushAll()
			timer.Reset(s.store.Load().FlushInterval)
			close(reply)
		}
	}
}

// flushFull sends full batches while at least one is waiting. It reports
// whether anything was sent.
func (s *Sender) flushFull() bool {
	attempted := false
	for !s.stopping() {
		size := s.store.Load().MaxBatchEventCount
		if s.queue.Len() < size {
			break
		}
		s.send(s.runCtx, s.queue.Dequeue(size))
		attempted = true
	}
	return attempted
}

// flushAll sends every queued event in batch-sized requests.
func (s *Sender) flushAll() {
	for !s.stopping() {
		batch := s.queue.Dequeue(s.store.Load().MaxBatchEventCount)
		if len(batch) == 0 {
			return
		}
		s.send(s.runCtx, batch)
	}
}

func (s *Sender) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Sender) send(ctx context.Context, events []model.Event) {
	defer s.metrics.SetQueueLength(s.queue.Len())
	if len(events) == 0 {
		return
	}

	body, skipped, err := model.EncodeBatch(s.metadataFor(ctx), events)
	if err != nil {
		s.metrics.RecordDropped(monitoring.ReasonEncode, len(events))
		s.logger.Error("failed to encode batch", zap.Int("events", len(events)), zap.Error(err))
		return
	}
	if skipped > 0 {
		s.metrics.RecordDropped(monitoring.ReasonEncode, skipped)
		s.logger.Warn("skipped events that failed to encode", zap.Int("skipped", skipped))
	}
	n := len(events) - skipped
	if n == 0 {
		return
	}

	timer := monitoring.NewTimer(s.metrics, n)
	if err := s.transport.SendEvents(ctx, body); err != nil {
		timer.Stop(statusOf(err))
		s.metrics.RecordDropped(monitoring.ReasonSend, n)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			s.logger.Debug("collector unavailable, dropped batch", zap.Int("events", n))
			return
		}
		s.logger.Warn("failed to send events", zap.Int("events", n), zap.Error(err))
		return
	}
	d := timer.Stop("success")
	s.logger.Debug("sent events", zap.Int("events", n), zap.Duration("duration", d))
}

// metadataFor returns the metadata line, probing the collector version the
// first time an activation method needs to be reported.
func (s *Sender) metadataFor(ctx context.Context) model.Metadata {
	if s.metadata.Service.Agent.ActivationMethod == "" {
		return s.metadata
	}
	if !s.probed {
		s.probed = true
		info, err := s.transport.ServerInfo(ctx)
		if err != nil {
			s.logger.Debug("failed to probe collector version", zap.Error(err))
		}
		s.includeActivation = info.AtLeast(ActivationMethodVersion)
	}
	if s.includeActivation {
		return s.metadata
	}
	return s.metadata.WithoutActivationMethod()
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return "circuit_open"
	case transport.IsClientError(err):
		return "client_error"
	case transport.StatusCode(err) >= 500:
		return "server_error"
	default:
		return "failure"
	}
}

// Flush sends everything queued so far and waits for the attempt to finish
// or ctx to end.
func (s *Sender) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.Load() {
		return ErrNotStarted
	}

	reply := make(chan struct{})
	select {
	case s.flushReq <- reply:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, stops the loop and sends what is left
// while ctx allows. Events still queued when ctx ends are discarded and
// counted.
func (s *Sender) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.queue.Close()

	// an expired ctx aborts the request in flight
	stopCancel := context.AfterFunc(ctx, s.cancelRun)
	defer stopCancel()
	defer s.cancelRun()

	close(s.stop)
	if s.started.Load() {
		<-s.done
	}

	for ctx.Err() == nil {
		batch := s.queue.Dequeue(s.store.Load().MaxBatchEventCount)
		if len(batch) == 0 {
			return nil
		}
		s.send(ctx, batch)
	}

	left := s.queue.Drain()
	s.metrics.RecordDropped(monitoring.ReasonShutdown, len(left))
	s.metrics.SetQueueLength(0)
	if len(left) > 0 {
		s.logger.Warn("discarded queued events at shutdown", zap.Int("events", len(left)))
		return fmt.Errorf("discarded %d events: %w", len(left), ctx.Err())
	}
	return nil
}

package sender

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/model"
	"github.com/GriffinCanCode/tracepipe/internal/queue"
	"github.com/GriffinCanCode/tracepipe/internal/testutil"
	"github.com/GriffinCanCode/tracepipe/internal/transport"
	"github.com/blang/semver/v4"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu        sync.Mutex
	bodies    [][]byte
	sentAt    []time.Time
	failNext  int
	version   string
	infoCalls int
}

func (f *fakeTransport) SendEvents(_ context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return &transport.HTTPError{StatusCode: http.StatusServiceUnavailable}
	}
	f.bodies = append(f.bodies, append([]byte(nil), body...))
	f.sentAt = append(f.sentAt, time.Now())
	return nil
}

func (f *fakeTransport) ServerInfo(context.Context) (transport.ServerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	if f.version == "" {
		return transport.ServerInfo{}, errors.New("no version")
	}
	return transport.ServerInfo{Version: semver.MustParse(f.version), Known: true}, nil
}

// eventCounts returns the number of events carried by each body.
func (f *fakeTransport) eventCounts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.bodies))
	for _, b := range f.bodies {
		out = append(out, bytes.Count(b, []byte("\n"))-1)
	}
	return out
}

func (f *fakeTransport) total() int {
	n := 0
	for _, c := range f.eventCounts() {
		n += c
	}
	return n
}

type harness struct {
	queue     *queue.Queue
	sender    *Sender
	transport *fakeTransport
	metrics   *monitoring.Metrics
}

func newHarness(t *testing.T, batch int, interval time.Duration, md model.Metadata) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.MaxQueueEventCount = 100
	cfg.MaxBatchEventCount = batch
	cfg.FlushInterval = interval
	snap, err := config.NewSnapshot(cfg)
	require.NoError(t, err)
	store := config.NewStore(snap)

	h := &harness{
		queue:     queue.New(store),
		transport: &fakeTransport{version: "8.12.0"},
		metrics:   monitoring.NewMetrics(nil),
	}
	h.sender = New(h.queue, store, h.transport, Options{Metadata: md, Metrics: h.metrics})
	t.Cleanup(func() { _ = h.sender.Close(context.Background()) })
	return h
}

func (h *harness) enqueue(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ok, err := h.queue.Enqueue(&model.Span{ID: "s", Name: "op"})
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func testMetadata(activation string) model.Metadata {
	return model.Metadata{Service: model.Service{
		Name:  "svc",
		Agent: model.Agent{Name: "go", Version: "1.0.0", ActivationMethod: activation},
	}}
}

func TestFlushesFullBatches(t *testing.T) {
	h := newHarness(t, 3, time.Hour, testMetadata(""))
	h.sender.Start()

	h.enqueue(t, 7)
	require.Eventually(t, func() bool { return h.transport.total() == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{3, 3}, h.transport.eventCounts())
	assert.Equal(t, 1, h.queue.Len(), "partial batch waits for the timer")
}

func TestFlushesOnInterval(t *testing.T) {
	h := newHarness(t, 10, 30*time.Millisecond, testMetadata(""))
	h.sender.Start()

	h.enqueue(t, 2)
	require.Eventually(t, func() bool { return h.transport.total() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{2}, h.transport.eventCounts())
}

func TestIntervalFlushSplitsIntoBatches(t *testing.T) {
	h := newHarness(t, 4, time.Hour, testMetadata(""))
	h.enqueue(t, 10)
	h.sender.Start()

	require.NoError(t, h.sender.Flush(context.Background()))
	assert.Equal(t, 10, h.transport.total())
	for _, n := range h.transport.eventCounts() {
		assert.LessOrEqual(t, n, 4)
	}
}

func TestTimerResetsAfterSend(t *testing.T) {
	const interval = 300 * time.Millisecond
	h := newHarness(t, 2, interval, testMetadata(""))
	h.sender.Start()

	time.Sleep(200 * time.Millisecond)
	h.enqueue(t, 3) // one full batch is sent now, one event stays queued
	require.Eventually(t, func() bool { return h.transport.total() == 2 }, time.Second, time.Millisecond)

	// without the reset the timer would fire 300ms after start
	time.Sleep(180 * time.Millisecond)
	assert.Equal(t, 2, h.transport.total())

	require.Eventually(t, func() bool { return h.transport.total() == 3 }, time.Second, 5*time.Millisecond)
}

func TestFlush(t *testing.T) {
	h := newHarness(t, 10, time.Hour, testMetadata(""))
	assert.ErrorIs(t, h.sender.Flush(context.Background()), ErrNotStarted)

	h.sender.Start()
	h.enqueue(t, 3)
	require.NoError(t, h.sender.Flush(context.Background()))
	assert.Equal(t, []int{3}, h.transport.eventCounts())
	assert.Zero(t, h.queue.Len())
}

func TestFailedSendDiscardsBatchAndContinues(t *testing.T) {
	h := newHarness(t, 2, time.Hour, testMetadata(""))
	h.transport.failNext = 1
	h.sender.Start()

	h.enqueue(t, 2)
	require.Eventually(t, func() bool {
		return promtest.ToFloat64(h.metrics.EventsDropped.WithLabelValues(monitoring.ReasonSend)) == 2
	}, time.Second, 5*time.Millisecond)

	h.enqueue(t, 2)
	require.Eventually(t, func() bool { return h.transport.total() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.Requests.WithLabelValues("server_error")))
	assert.Equal(t, 2.0, promtest.ToFloat64(h.metrics.EventsSent))
}

func TestCloseDrainsQueue(t *testing.T) {
	h := newHarness(t, 4, time.Hour, testMetadata(""))
	h.sender.Start()
	h.enqueue(t, 3)

	require.NoError(t, h.sender.Close(context.Background()))
	assert.Equal(t, 3, h.transport.total())

	ok, err := h.queue.Enqueue(&model.Span{})
	assert.False(t, ok)
	assert.ErrorIs(t, err, queue.ErrClosed)

	assert.ErrorIs(t, h.sender.Close(context.Background()), ErrClosed)
	assert.ErrorIs(t, h.sender.Flush(context.Background()), ErrClosed)
}

func TestCloseWithoutStart(t *testing.T) {
	h := newHarness(t, 4, time.Hour, testMetadata(""))
	h.enqueue(t, 2)
	require.NoError(t, h.sender.Close(context.Background()))
	assert.Equal(t, 2, h.transport.total())

	h.sender.Start()
	assert.False(t, h.sender.started.Load())
}

func TestCloseDeadlineDiscardsRemainder(t *testing.T) {
	collector := testutil.NewCollector(t)
	collector.SetIntakeDelay(2 * time.Second)

	cfg := testutil.Config(collector.URL)
	cfg.MaxBatchEventCount = 2
	cfg.FlushInterval = time.Hour
	store := testutil.Store(t, cfg)
	client, err := transport.New(cfg, nil, transport.WithConfigRetries(0))
	require.NoError(t, err)
	defer client.Close()

	metrics := monitoring.NewMetrics(nil)
	q := queue.New(store)
	s := New(q, store, client, Options{Metadata: testMetadata(""), Metrics: metrics})
	for i := 0; i < 5; i++ {
		_, _ = q.Enqueue(&model.Span{ID: "s"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = s.Close(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "close is bounded by its context")

	dropped := promtest.ToFloat64(metrics.EventsDropped.WithLabelValues(monitoring.ReasonShutdown)) +
		promtest.ToFloat64(metrics.EventsDropped.WithLabelValues(monitoring.ReasonSend))
	assert.Equal(t, 5.0, dropped)
	assert.Zero(t, q.Len())
}

func TestActivationMethod(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    bool
	}{
		{"new collector", "8.7.1", true},
		{"newer collector", "9.0.0", true},
		{"old collector", "8.7.0", false},
		{"unknown version", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1, time.Hour, testMetadata("env-attach"))
			h.transport.version = tt.version
			h.sender.Start()

			h.enqueue(t, 2)
			require.Eventually(t, func() bool { return h.transport.total() == 2 }, time.Second, 5*time.Millisecond)

			h.transport.mu.Lock()
			defer h.transport.mu.Unlock()
			assert.Equal(t, 1, h.transport.infoCalls, "version is probed once")
			for _, body := range h.transport.bodies {
				assert.Equal(t, tt.want, bytes.Contains(body, []byte(`"activation_method":"env-attach"`)))
			}
		})
	}
}

func TestNoProbeWithoutActivationMethod(t *testing.T) {
	h := newHarness(t, 1, time.Hour, testMetadata(""))
	h.sender.Start()
	h.enqueue(t, 1)
	require.Eventually(t, func() bool { return h.transport.total() == 1 }, time.Second, 5*time.Millisecond)

	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	assert.Zero(t, h.transport.infoCalls)
}

func TestEndToEndWithCollector(t *testing.T) {
	collector := testutil.NewCollector(t)
	cfg := testutil.Config(collector.URL)
	cfg.MaxBatchEventCount = 2
	store := testutil.Store(t, cfg)
	client, err := transport.New(cfg, nil, transport.WithConfigRetries(0))
	require.NoError(t, err)
	defer client.Close()

	q := queue.New(store)
	s := New(q, store, client, Options{Metadata: testMetadata("")})
	s.Start()
	defer s.Close(context.Background())

	_, _ = q.Enqueue(&model.Transaction{ID: "t1", TraceID: "abc", Name: "GET /", Type: "request"})
	_, _ = q.Enqueue(&model.Span{ID: "s1", TransactionID: "t1", TraceID: "abc", Name: "db", Type: "db"})

	events := collector.WaitForEvents(t, 2, time.Second)
	assert.Equal(t, "transaction", events[0].Kind)
	assert.Equal(t, "span", events[1].Kind)

	reqs := collector.IntakeRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "svc", reqs[0].Metadata["service"].(map[string]any)["name"])
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracepipe/internal/model"
	"github.com/GriffinCanCode/tracepipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const inboundTraceParent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func newTestAgent(t *testing.T, mutate func(*config.Config), opts ...Option) (*Agent, *testutil.Collector) {
	t.Helper()
	collector := testutil.NewCollector(t)
	cfg := testutil.Config(collector.URL)
	cfg.FlushInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]Option{WithLogger(logging.NewNop())}, opts...)
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, collector
}

func flush(t *testing.T, a *Agent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Flush(ctx))
}

func decodeTransactions(t *testing.T, c *testutil.Collector) []model.Transaction {
	t.Helper()
	var out []model.Transaction
	for _, line := range c.EventsOfKind("transaction") {
		var tx model.Transaction
		require.NoError(t, line.Decode(&tx))
		out = append(out, tx)
	}
	return out
}

func decodeSpans(t *testing.T, c *testutil.Collector) []model.Span {
	t.Helper()
	var out []model.Span
	for _, line := range c.EventsOfKind("span") {
		var s model.Span
		require.NoError(t, line.Decode(&s))
		out = append(out, s)
	}
	return out
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MaxBatchEventCount = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestInboundTraceParent(t *testing.T) {
	a, collector := newTestAgent(t, nil)

	tx, err := a.StartTransaction("GET /orders", "request", TransactionOptions{TraceParent: inboundTraceParent})
	require.NoError(t, err)

	tc := tx.TraceContext()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", tc.Trace.String())
	assert.True(t, tc.Flags.Recorded())
	assert.True(t, tx.Sampled())
	assert.NotEqual(t, "00f067aa0ba902b7", tc.Span.String())

	span := tx.StartSpan("SELECT orders", "db.postgresql.query")
	header := span.TraceParentHeader()
	parts := strings.Split(header, "-")
	require.Len(t, parts, 4)
	assert.Equal(t, "00", parts[0])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", parts[1])
	assert.NotEqual(t, "00f067aa0ba902b7", parts[2])
	assert.NotEqual(t, tc.Span.String(), parts[2])
	assert.Equal(t, "01", parts[3])

	span.End()
	tx.End()
	flush(t, a)

	txs := decodeTransactions(t, collector)
	require.Len(t, txs, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", txs[0].TraceID)
	assert.Equal(t, "00f067aa0ba902b7", txs[0].ParentID)
	assert.Equal(t, tc.Span.String(), txs[0].ID)
	assert.True(t, txs[0].Sampled)
	assert.Nil(t, txs[0].SampleRate, "upstream did not propagate a rate")
	assert.Equal(t, model.SpanCount{Started: 1}, txs[0].SpanCount)

	spans := decodeSpans(t, collector)
	require.Len(t, spans, 1)
	assert.Equal(t, parts[2], spans[0].ID)
	assert.Equal(t, txs[0].ID, spans[0].ParentID)
	assert.Equal(t, txs[0].ID, spans[0].TransactionID)
	assert.Equal(t, "db", spans[0].Type)
	assert.Equal(t, "postgresql", spans[0].Subtype)
	assert.Equal(t, "query", spans[0].Action)
}

func TestInboundSampleRateAndTraceState(t *testing.T) {
	a, collector := newTestAgent(t, nil)

	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{
		TraceParent: inboundTraceParent,
		TraceState:  []string{"es=s:0.5", "vendor=x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "es=s:0.5,vendor=x", tx.TraceStateHeader())
	span := tx.StartSpan("call", "external.http")
	assert.Equal(t, "es=s:0.5,vendor=x", span.TraceStateHeader())
	span.End()
	tx.End()
	flush(t, a)

	txs := decodeTransactions(t, collector)
	require.Len(t, txs, 1)
	require.NotNil(t, txs[0].SampleRate)
	assert.Equal(t, 0.5, *txs[0].SampleRate)

	spans := decodeSpans(t, collector)
	require.Len(t, spans, 1)
	require.NotNil(t, spans[0].SampleRate)
	assert.Equal(t, 0.5, *spans[0].SampleRate)
}

func TestInboundNotSampled(t *testing.T) {
	a, collector := newTestAgent(t, nil)

	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{
		TraceParent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00",
	})
	require.NoError(t, err)
	assert.False(t, tx.Sampled())
	assert.True(t, strings.HasSuffix(tx.TraceParentHeader(), "-00"))

	span := tx.StartSpan("skipped", "app")
	assert.True(t, span.Dropped())
	span.End()
	tx.SetLabel("k", "v")
	tx.End()
	flush(t, a)

	txs := decodeTransactions(t, collector)
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Sampled)
	require.NotNil(t, txs[0].SampleRate)
	assert.Zero(t, *txs[0].SampleRate)
	assert.Nil(t, txs[0].Context)
	assert.Empty(t, decodeSpans(t, collector))
}

func TestRootSampling(t *testing.T) {
	tests := []struct {
		name       string
		rate       float64
		sampled    bool
		flags      string
		traceState string
	}{
		{"always", 1, true, "01", "es=s:1"},
		{"never", 0, false, "00", "es=s:0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, collector := newTestAgent(t, func(cfg *config.Config) {
				cfg.TransactionSampleRate = tt.rate
			})

			tx, err := a.StartTransaction("job", "worker", TransactionOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.sampled, tx.Sampled())
			assert.True(t, strings.HasSuffix(tx.TraceParentHeader(), "-"+tt.flags))
			assert.Equal(t, tt.traceState, tx.TraceStateHeader())
			tx.End()
			flush(t, a)

			txs := decodeTransactions(t, collector)
			require.Len(t, txs, 1)
			assert.Empty(t, txs[0].ParentID)
			assert.Equal(t, tt.sampled, txs[0].Sampled)
			require.NotNil(t, txs[0].SampleRate)
			assert.Equal(t, tt.rate, *txs[0].SampleRate)
		})
	}
}

func TestRootSamplingFollowsTraceID(t *testing.T) {
	a, _ := newTestAgent(t, func(cfg *config.Config) {
		cfg.TransactionSampleRate = 0.5
	})
	snap := a.Snapshot()

	sampled := 0
	for i := 0; i < 200; i++ {
		tx, err := a.StartTransaction("job", "worker", TransactionOptions{})
		require.NoError(t, err)
		assert.Equal(t, snap.Sampler.Sample(tx.TraceContext().Trace), tx.Sampled())
		if tx.Sampled() {
			sampled++
			assert.Equal(t, "es=s:0.5", tx.TraceStateHeader())
		}
	}
	assert.Greater(t, sampled, 50)
	assert.Less(t, sampled, 150)
}

func TestInvalidTraceParentStartsNewTrace(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{
		TraceParent: "00-00000000000000000000000000000000-00f067aa0ba902b7-01",
		TraceState:  []string{"vendor=x"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, "00000000000000000000000000000000", tx.TraceContext().Trace.String())
	assert.Equal(t, "es=s:1", tx.TraceStateHeader(), "upstream state belongs to the rejected parent")
}

func TestRecordingDisabled(t *testing.T) {
	a, collector := newTestAgent(t, func(cfg *config.Config) {
		cfg.Recording = false
	})

	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{TraceParent: inboundTraceParent})
	require.NoError(t, err)
	assert.False(t, tx.Sampled())
	assert.False(t, tx.TraceContext().Flags.Recorded())
	assert.True(t, strings.HasPrefix(tx.TraceParentHeader(), "00-4bf92f3577b34da6a3ce929d0e0e4736-"))
	assert.True(t, strings.HasSuffix(tx.TraceParentHeader(), "-00"), "unrecorded transactions propagate an unsampled decision")

	span := tx.StartSpan("db", "db")
	assert.True(t, strings.HasSuffix(span.TraceParentHeader(), "-00"))
	span.End()
	tx.End()
	require.NoError(t, a.CaptureError(ContextWithTransaction(context.Background(), tx), errors.New("boom")))
	flush(t, a)

	assert.Empty(t, collector.Events())
}

func TestTransactionMaxSpans(t *testing.T) {
	a, collector := newTestAgent(t, func(cfg *config.Config) {
		cfg.TransactionMaxSpans = 2
	})

	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{})
	require.NoError(t, err)
	spans := []*Span{tx.StartSpan("a", "app"), tx.StartSpan("b", "app"), tx.StartSpan("c", "app")}
	assert.False(t, spans[0].Dropped())
	assert.False(t, spans[1].Dropped())
	assert.True(t, spans[2].Dropped())
	assert.NotEmpty(t, spans[2].TraceParentHeader(), "dropped spans still propagate")
	for _, s := range spans {
		s.End()
	}
	tx.End()
	flush(t, a)

	txs := decodeTransactions(t, collector)
	require.Len(t, txs, 1)
	assert.Equal(t, model.SpanCount{Started: 2, Dropped: 1}, txs[0].SpanCount)
	assert.Len(t, decodeSpans(t, collector), 2)
}

func TestTransactionContext(t *testing.T) {
	a, collector := newTestAgent(t, nil)

	tx, err := a.StartTransaction("GET /users/:id", "request", TransactionOptions{})
	require.NoError(t, err)
	tx.SetRequest(model.Request{Method: "GET", URL: model.URL{Path: "/users/7"}})
	tx.SetResponse(model.Response{StatusCode: 503})
	tx.SetUser(model.User{ID: "7"})
	tx.SetLabel("tenant", "acme")
	tx.SetName("GET /users/{id}")
	tx.RecordOutcome("HTTP 5xx", model.OutcomeFailure)
	tx.End()
	tx.End()
	flush(t, a)

	txs := decodeTransactions(t, collector)
	require.Len(t, txs, 1)
	got := txs[0]
	assert.Equal(t, "GET /users/{id}", got.Name)
	assert.Equal(t, "HTTP 5xx", got.Result)
	assert.Equal(t, model.OutcomeFailure, got.Outcome)
	require.NotNil(t, got.Context)
	assert.Equal(t, "/users/7", got.Context.Request.URL.Path)
	assert.Equal(t, 503, got.Context.Response.StatusCode)
	assert.Equal(t, "7", got.Context.User.ID)
	assert.Equal(t, model.Labels{"tenant": "acme"}, got.Context.Labels)
	assert.GreaterOrEqual(t, got.Duration, 0.0)
}

func TestSpanContextAndOutcome(t *testing.T) {
	a, collector := newTestAgent(t, nil)
	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{})
	require.NoError(t, err)

	outer := tx.StartSpan("GET upstream", "external.http")
	outer.SetHTTP(model.HTTPSpanContext{URL: "http://upstream/x", Method: "GET", StatusCode: 502})
	outer.SetDestination("upstream", 80, "upstream:80")
	inner := outer.StartSpan("SELECT", "db.mysql.query")
	inner.SetDB(model.DBSpanContext{Type: "sql", Statement: "SELECT 1"})
	inner.SetOutcome(model.OutcomeSuccess)
	inner.SetLabel("shard", "2")
	inner.End()
	outer.End()
	tx.End()
	flush(t, a)

	spans := decodeSpans(t, collector)
	require.Len(t, spans, 2)
	byName := map[string]model.Span{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	o, i := byName["GET upstream"], byName["SELECT"]
	assert.Equal(t, model.OutcomeFailure, o.Outcome)
	assert.Equal(t, "upstream:80", o.Context.Destination.Service.Resource)
	assert.Equal(t, o.ID, i.ParentID)
	assert.Equal(t, o.TransactionID, i.TransactionID)
	assert.Equal(t, model.OutcomeSuccess, i.Outcome)
	assert.Equal(t, "SELECT 1", i.Context.DB.Statement)
	assert.Equal(t, model.Labels{"shard": "2"}, i.Context.Labels)
}

func TestNilSpanIsSafe(t *testing.T) {
	var s *Span
	assert.Nil(t, s.StartSpan("x", "app"))
	assert.True(t, s.Dropped())
	assert.Empty(t, s.TraceParentHeader())
	assert.Empty(t, s.TraceStateHeader())
	s.SetLabel("k", "v")
	s.SetDB(model.DBSpanContext{})
	s.SetHTTP(model.HTTPSpanContext{})
	s.SetDestination("h", 1, "")
	s.SetOutcome(model.OutcomeFailure)
	s.End()
}

func TestConcurrentSpans(t *testing.T) {
	a, collector := newTestAgent(t, func(cfg *config.Config) {
		cfg.TransactionMaxSpans = 20
	})
	tx, err := a.StartTransaction("fanout", "worker", TransactionOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := tx.StartSpan(fmt.Sprintf("op-%d", i), "app")
			s.SetLabel("i", fmt.Sprint(i))
			s.End()
		}(i)
	}
	wg.Wait()
	tx.End()
	flush(t, a)

	txs := decodeTransactions(t, collector)
	require.Len(t, txs, 1)
	assert.Equal(t, model.SpanCount{Started: 20, Dropped: 30}, txs[0].SpanCount)
	assert.Len(t, decodeSpans(t, collector), 20)
}

func TestCloseSemantics(t *testing.T) {
	a, collector := newTestAgent(t, nil)

	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{})
	require.NoError(t, err)
	tx.End()

	require.NoError(t, a.Close(context.Background()))
	assert.Len(t, decodeTransactions(t, collector), 1, "close drains the queue")

	assert.ErrorIs(t, a.Close(context.Background()), ErrClosed)
	assert.ErrorIs(t, a.Flush(context.Background()), ErrClosed)
	_, err = a.StartTransaction("GET /", "request", TransactionOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.CaptureError(context.Background(), errors.New("late")), ErrClosed)
}

func TestEndAfterCloseDoesNotPanic(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{})
	require.NoError(t, err)
	span := tx.StartSpan("late", "app")
	require.NoError(t, a.Close(context.Background()))

	span.End()
	tx.End()
}

func TestMetadata(t *testing.T) {
	a, collector := newTestAgent(t, func(cfg *config.Config) {
		cfg.ServiceVersion = "1.2.3"
		cfg.ServiceNodeName = "node-a"
		cfg.Environment = "staging"
		cfg.GlobalLabels = "region=eu"
	})
	md := a.Metadata()
	assert.Equal(t, AgentName, md.Service.Agent.Name)
	assert.Equal(t, Version, md.Service.Agent.Version)
	assert.Len(t, md.Service.Agent.EphemeralID, 36)
	assert.Equal(t, "node-a", md.Service.Node.ConfiguredName)

	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{})
	require.NoError(t, err)
	tx.End()
	flush(t, a)

	reqs := collector.IntakeRequests()
	require.Len(t, reqs, 1)
	service := reqs[0].Metadata["service"].(map[string]any)
	assert.Equal(t, "test-service", service["name"])
	assert.Equal(t, "1.2.3", service["version"])
	assert.Equal(t, "staging", service["environment"])
	assert.Equal(t, map[string]any{"region": "eu"}, reqs[0].Metadata["labels"])
	assert.Equal(t, "tracepipe/"+Version+" (test-service 1.2.3)", reqs[0].Header.Get("User-Agent"))
}

func TestActivationMethodExcludedForOldCollector(t *testing.T) {
	a, collector := newTestAgent(t, func(cfg *config.Config) {
		cfg.ActivationMethod = "env-attach"
	})
	collector.SetServerVersion("8.6.0")

	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{})
	require.NoError(t, err)
	tx.End()
	flush(t, a)

	reqs := collector.IntakeRequests()
	require.Len(t, reqs, 1)
	agentMeta := reqs[0].Metadata["service"].(map[string]any)["agent"].(map[string]any)
	assert.NotContains(t, agentMeta, "activation_method")
	assert.Equal(t, 1, collector.InfoRequests())
}

func TestCentralConfigApplies(t *testing.T) {
	collector := testutil.NewCollector(t)
	collector.SetConfig(map[string]string{
		"transaction_sample_rate": "0",
		"log_level":               "debug",
	}, `"c1"`, 0)

	cfg := testutil.Config(collector.URL)
	cfg.CentralConfig = true
	logger := logging.NewNop()
	require.NoError(t, logger.SetLevel("info"))
	a, err := New(cfg, WithLogger(logger))
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.Eventually(t, func() bool {
		return a.Snapshot().CentralConfigETag == `"c1"`
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, a.Snapshot().SampleRate)
	assert.Equal(t, zapcore.DebugLevel, logger.Level())

	tx, err := a.StartTransaction("GET /", "request", TransactionOptions{})
	require.NoError(t, err)
	assert.False(t, tx.Sampled())
}

func TestApplyUpdateIgnoresUnchangedLevel(t *testing.T) {
	logger := logging.NewNop()
	require.NoError(t, logger.SetLevel("warn"))
	a, _ := newTestAgent(t, nil, WithLogger(logger))

	a.applyUpdate(&config.Snapshot{LogLevel: "info"}, &config.Snapshot{LogLevel: "info"})
	assert.Equal(t, zapcore.WarnLevel, logger.Level())

	a.applyUpdate(&config.Snapshot{LogLevel: "info"}, &config.Snapshot{LogLevel: "error"})
	assert.Equal(t, zapcore.ErrorLevel, logger.Level())
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/centralconfig"
	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracepipe/internal/model"
	"github.com/GriffinCanCode/tracepipe/internal/queue"
	"github.com/GriffinCanCode/tracepipe/internal/sender"
	"github.com/GriffinCanCode/tracepipe/internal/tracecontext"
	"github.com/GriffinCanCode/tracepipe/internal/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Version is reported in the metadata and the User-Agent header.
const Version = "0.4.0"

// AgentName is the agent name reported in the metadata.
const AgentName = "go"

var (
	// ErrClosed is returned by operations on a closed agent.
	ErrClosed = errors.New("agent closed")
	// ErrAlreadyInitialized is returned by Init when a default agent exists.
	ErrAlreadyInitialized = errors.New("default agent already initialized")
	// ErrNotInitialized is returned by Shutdown without a default agent.
	ErrNotInitialized = errors.New("default agent not initialized")
)

const queueFullLogInterval = 10 * time.Second

// Option configures an Agent.
type Option func(*options)

type options struct {
	logger    *logging.Logger
	registry  *prometheus.Registry
	gatherers []prometheus.Gatherer
	generator *tracecontext.Generator
}

// WithLogger makes the agent log through l instead of building its own
// logger from the configuration.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegistry registers the agent's self-metrics on reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithGatherer adds a Prometheus gatherer whose metrics are reported as
// metric sets alongside the runtime metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) {
		o.gatherers = append(o.gatherers, g)
	}
}

// WithIDGenerator replaces the trace and span id source.
func WithIDGenerator(g *tracecontext.Generator) Option {
	return func(o *options) {
		o.generator = g
	}
}

// Agent owns one event pipeline: the queue, the sender, the central config
// fetcher and the metrics loop. It is safe for concurrent use.
type Agent struct {
	cfg       *config.Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	store     *config.Store
	queue     *queue.Queue
	client    *transport.Client
	sender    *sender.Sender
	fetcher   *centralconfig.Fetcher
	generator *tracecontext.Generator
	gatherers []prometheus.Gatherer
	queueFull *logging.Throttled
	metadata  model.Metadata

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New validates cfg and starts an agent. cfg is copied; later changes to
// it have no effect.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	cfg = cfg.Clone()

	o := options{generator: tracecontext.DefaultGenerator()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	snap, err := config.NewSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	metrics := monitoring.NewMetrics(o.registry)

	client, err := transport.New(cfg, logger.Logger,
		transport.WithUserAgent(userAgent(cfg)),
		transport.OnBreakerStateChange(func(s resilience.State) {
			metrics.BreakerState.Set(float64(s))
		}),
	)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		store:     config.NewStore(snap),
		client:    client,
		generator: o.generator,
		gatherers: append([]prometheus.Gatherer{metrics.Registry()}, o.gatherers...),
		queueFull: logging.NewThrottled(logger.Logger, queueFullLogInterval),
		metadata:  newMetadata(cfg),
	}
	a.queue = queue.New(a.store)
	a.sender = sender.New(a.queue, a.store, client, sender.Options{
		Metadata: a.metadata,
		Logger:   logger.Named("sender"),
		Metrics:  metrics,
	})
	a.fetcher = centralconfig.New(cfg, a.store, client, logger.Logger, metrics)
	a.fetcher.OnUpdate(a.applyUpdate)

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.sender.Start()
	a.fetcher.Start(ctx)
	if cfg.MetricsInterval > 0 {
		a.wg.Add(1)
		go a.runMetrics(ctx, cfg.MetricsInterval)
	}

	logger.Info("agent started",
		zap.String("service", cfg.ServiceName),
		zap.String("server_url", cfg.ServerURL),
		zap.String("ephemeral_id", a.metadata.Service.Agent.EphemeralID),
	)
	return a, nil
}

func userAgent(cfg *config.Config) string {
	if cfg.ServiceVersion == "" {
		return fmt.Sprintf("tracepipe/%s (%s)", Version, cfg.ServiceName)
	}
	return fmt.Sprintf("tracepipe/%s (%s %s)", Version, cfg.ServiceName, cfg.ServiceVersion)
}

func newMetadata(cfg *config.Config) model.Metadata {
	service := model.Service{
		Name:        cfg.ServiceName,
		Version:     cfg.ServiceVersion,
		Environment: cfg.Environment,
		Agent: model.Agent{
			Name:             AgentName,
			Version:          Version,
			EphemeralID:      uuid.NewString(),
			ActivationMethod: cfg.ActivationMethod,
		},
	}
	if cfg.ServiceNodeName != "" {
		service.Node = &model.Node{ConfiguredName: cfg.ServiceNodeName}
	}
	return model.NewMetadata(service, cfg.Labels())
}

// applyUpdate reacts to a newly published central configuration.
func (a *Agent) applyUpdate(old, current *config.Snapshot) {
	if old.LogLevel == current.LogLevel {
		return
	}
	if err := a.logger.SetLevel(current.LogLevel); err != nil {
		a.logger.Warn("ignored central log level", zap.String("level", current.LogLevel), zap.Error(err))
		return
	}
	a.logger.Info("log level changed", zap.String("from", old.LogLevel), zap.String("to", current.LogLevel))
}

// Snapshot returns the settings currently in effect.
func (a *Agent) Snapshot() *config.Snapshot {
	return a.store.Load()
}

// Logger returns the agent's logger.
func (a *Agent) Logger() *zap.Logger {
	return a.logger.Logger
}

// Registry returns the registry holding the agent's self-metrics.
func (a *Agent) Registry() *prometheus.Registry {
	return a.metrics.Registry()
}

// Metadata returns the metadata sent with every intake request.
func (a *Agent) Metadata() model.Metadata {
	return a.metadata
}

// enqueue hands ev to the sender. A full queue drops ev without failing the
// caller.
func (a *Agent) enqueue(ev model.Event) error {
	ok, err := a.queue.Enqueue(ev)
	if err != nil {
		a.metrics.RecordDropped(monitoring.ReasonClosed, 1)
		return ErrClosed
	}
	if !ok {
		a.metrics.RecordDropped(monitoring.ReasonQueueFull, 1)
		a.queueFull.Warn("event queue full, dropping event",
			zap.String("kind", string(ev.Kind())),
			zap.Int("capacity", a.store.Load().MaxQueueEventCount),
		)
		return nil
	}
	a.metrics.RecordEnqueued(string(ev.Kind()))
	a.metrics.SetQueueLength(a.queue.Len())
	return nil
}

// Flush sends everything queued so far and waits for it or ctx.
func (a *Agent) Flush(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.sender.Flush(ctx)
}

// Close stops the agent. Events still queued are sent until ctx ends or
// the configured shutdown timeout elapses, whichever comes first.
func (a *Agent) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	a.cancel()
	a.fetcher.Stop()
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	defer cancel()
	err := a.sender.Close(ctx)
	if cerr := a.client.Close(); cerr != nil && !errors.Is(cerr, transport.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		a.logger.Warn("agent stopped with errors", zap.Error(err))
	} else {
		a.logger.Info("agent stopped")
	}
	_ = a.logger.Sync()
	return err
}

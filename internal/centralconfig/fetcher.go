package centralconfig

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/transport"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Poll results as reported by the config_polls_total metric.
const (
	ResultUpdated     = "updated"
	ResultNotModified = "not_modified"
	ResultDisabled    = "disabled"
	ResultError       = "error"
)

// Client is the part of the collector client used by the fetcher.
type Client interface {
	FetchConfig(ctx context.Context, service, environment, etag string) (*transport.ConfigResponse, error)
}

// UpdateFunc is called after a new snapshot has been published.
type UpdateFunc func(old, current *config.Snapshot)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBackOff replaces the policy used to space polls after a failure.
func WithBackOff(b backoff.BackOff) Option {
	return func(f *Fetcher) {
		f.backoff = b
	}
}

// Fetcher polls the collector for central configuration and publishes
// the result to a snapshot store.
type Fetcher struct {
	static  *config.Config
	store   *config.Store
	client  Client
	logger  *zap.Logger
	metrics *monitoring.Metrics
	backoff backoff.BackOff

	hooksMu sync.Mutex
	hooks   []UpdateFunc

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a fetcher. static is the configuration central values are
// layered on; it is not modified.
func New(static *config.Config, store *config.Store, client Client, logger *zap.Logger, metrics *monitoring.Metrics, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics(nil)
	}
	f := &Fetcher{
		static:  static,
		store:   store,
		client:  client,
		logger:  logger.Named("centralconfig"),
		metrics: metrics,
		backoff: defaultBackOff(static.CentralConfigPollInterval),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func defaultBackOff(max time.Duration) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: 0.25,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	return b
}

// OnUpdate registers fn to run after every published update.
func (f *Fetcher) OnUpdate(fn UpdateFunc) {
	f.hooksMu.Lock()
	defer f.hooksMu.Unlock()
	f.hooks = append(f.hooks, fn)
}

// Start launches the poll loop. It does nothing when central configuration
// is disabled or the fetcher was already started or stopped.
func (f *Fetcher) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		if !f.static.CentralConfig {
			close(f.done)
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		f.cancel = cancel
		go f.run(ctx)
	})
}

// Stop cancels the poll loop and waits for it to exit.
func (f *Fetcher) Stop() {
	f.stopOnce.Do(func() {
		// a fetcher that was never started must not start later
		f.startOnce.Do(func() { close(f.done) })
		if f.cancel != nil {
			f.cancel()
		}
	})
	<-f.done
}

func (f *Fetcher) run(ctx context.Context) {
	defer close(f.done)
	for {
		wait := f.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// poll performs one request and returns how long to wait before the next.
func (f *Fetcher) poll(ctx context.Context) time.Duration {
	current := f.store.Load()
	resp, err := f.client.FetchConfig(ctx, f.static.ServiceName, f.static.Environment, current.CentralConfigETag)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		return f.failed(err)
	}
	f.backoff.Reset()

	if resp.NotModified {
		f.metrics.RecordConfigPoll(ResultNotModified)
		f.logger.Debug("central config not modified", zap.String("etag", resp.ETag))
		return f.nextInterval(resp.MaxAge)
	}

	next, errs := config.ApplyCentral(f.static, resp.Values, resp.ETag)
	for _, e := range errs {
		f.logger.Warn("ignored central config value", zap.Error(e))
	}
	old := f.store.Swap(next)
	f.metrics.RecordConfigPoll(ResultUpdated)
	f.metrics.ConfigUpdates.Inc()
	f.logger.Info("applied central config",
		zap.String("etag", resp.ETag),
		zap.Strings("keys", appliedKeys(next)),
	)
	f.notify(old, next)
	return f.nextInterval(resp.MaxAge)
}

func (f *Fetcher) failed(err error) time.Duration {
	wait := f.backoff.NextBackOff()
	if wait == backoff.Stop {
		wait = f.static.CentralConfigPollInterval
	}

	switch transport.StatusCode(err) {
	case http.StatusForbidden, http.StatusNotFound:
		f.metrics.RecordConfigPoll(ResultDisabled)
		f.logger.Debug("central config unavailable on the server", zap.Error(err), zap.Duration("retry_in", wait))
	default:
		f.metrics.RecordConfigPoll(ResultError)
		if errors.Is(err, transport.ErrClosed) {
			f.logger.Debug("central config poll after client close", zap.Error(err))
			break
		}
		f.logger.Warn("failed to fetch central config", zap.Error(err), zap.Duration("retry_in", wait))
	}
	return wait
}

func (f *Fetcher) nextInterval(maxAge time.Duration) time.Duration {
	if maxAge > 0 {
		return maxAge
	}
	return f.static.CentralConfigPollInterval
}

func (f *Fetcher) notify(old, current *config.Snapshot) {
	f.hooksMu.Lock()
	hooks := append([]UpdateFunc(nil), f.hooks...)
	f.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(old, current)
	}
}

func appliedKeys(s *config.Snapshot) []string {
	central := s.Central()
	keys := make([]string, 0, len(central))
	for k := range central {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	IntakePath = "/intake/v2/events"
	ConfigPath = "/config/v1/agents"

	defaultUserAgent = "tracepipe"
)

// Client talks to the collector. Intake requests go through resty without
// retries, guarded by a circuit breaker; central config polls use a
// retryable client.
type Client struct {
	resty   *resty.Client
	retry   *retryablehttp.Client
	breaker *resilience.Breaker
	logger  *zap.Logger

	baseURL  string
	auth     string
	compress bool
	closed   atomic.Bool
}

// Option customises a Client.
type Option func(*options)

type options struct {
	userAgent     string
	configRetries int
	breaker       resilience.Settings
	onBreaker     func(resilience.State)
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithConfigRetries bounds the retries of a central config poll.
func WithConfigRetries(n int) Option {
	return func(o *options) { o.configRetries = n }
}

// WithBreakerSettings overrides the intake circuit breaker settings.
func WithBreakerSettings(s resilience.Settings) Option {
	return func(o *options) { o.breaker = s }
}

// OnBreakerStateChange registers a callback for breaker transitions.
func OnBreakerStateChange(fn func(resilience.State)) Option {
	return func(o *options) { o.onBreaker = fn }
}

// New builds a client for cfg.ServerURL.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{
		userAgent:     defaultUserAgent,
		configRetries: 2,
		breaker: resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL := strings.TrimRight(cfg.ServerURL, "/")
	if baseURL == "" {
		return nil, errors.New("server url is required")
	}

	// Shared pooled transport for both clients
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = o.configRetries
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = leveledLogger{logger.Sugar()}
	retryClient.HTTPClient.Timeout = cfg.ServerTimeout
	if tr, ok := retryClient.HTTPClient.Transport.(*http.Transport); ok && !cfg.VerifyServerCert {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	restyClient := resty.New()
	restyClient.
		SetBaseURL(baseURL).
		SetTimeout(cfg.ServerTimeout).
		SetRetryCount(0).
		SetHeader("User-Agent", o.userAgent)
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	c := &Client{
		resty:    restyClient,
		retry:    retryClient,
		logger:   logger,
		baseURL:  baseURL,
		auth:     authorization(cfg),
		compress: !cfg.DisableCompression,
	}
	if c.auth != "" {
		restyClient.SetHeader("Authorization", c.auth)
	}

	settings := o.breaker
	settings.IsSuccessful = func(err error) bool {
		// 4xx responses do not count against the breaker
		return err == nil || IsClientError(err)
	}
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("intake circuit breaker changed state",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if o.onBreaker != nil {
			o.onBreaker(to)
		}
	}
	c.breaker = resilience.New("intake", settings)

	return c, nil
}

// authorization picks the Authorization header; an API key wins over a
// secret token.
func authorization(cfg *config.Config) string {
	switch {
	case cfg.APIKey != "":
		return "ApiKey " + cfg.APIKey
	case cfg.SecretToken != "":
		return "Bearer " + cfg.SecretToken
	default:
		return ""
	}
}

// SendEvents posts one NDJSON body to the intake endpoint.
func (c *Client) SendEvents(ctx context.Context, body []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	return c.breaker.Execute(func() error {
		req := c.resty.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/x-ndjson")

		if c.compress {
			compressed, err := gzipBytes(body)
			if err != nil {
				return fmt.Errorf("failed to compress events: %w", err)
			}
			req.SetHeader("Content-Encoding", "gzip").SetBody(compressed)
		} else {
			req.SetBody(body)
		}

		resp, err := req.Post(IntakePath)
		if err != nil {
			return fmt.Errorf("failed to send events: %w", err)
		}
		if !resp.IsSuccess() {
			return newHTTPError(resp.StatusCode(), resp.Body())
		}
		return nil
	})
}

// BreakerState returns the intake breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Close releases idle connections. Later calls fail with ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	c.retry.HTTPClient.CloseIdleConnections()
	c.resty.GetClient().CloseIdleConnections()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.resty.Header.Get("User-Agent"))
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	return req, nil
}

// leveledLogger routes retryablehttp logs to zap at debug level.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

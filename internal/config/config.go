package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ELASTIC_APM"

// Config holds the static agent configuration.
type Config struct {
	ServerURL       string `envconfig:"SERVER_URL"`
	SecretToken     string `envconfig:"SECRET_TOKEN"`
	APIKey          string `envconfig:"API_KEY"`
	ServiceName     string `envconfig:"SERVICE_NAME"`
	ServiceVersion  string `envconfig:"SERVICE_VERSION"`
	ServiceNodeName string `envconfig:"SERVICE_NODE_NAME"`
	Environment     string `envconfig:"ENVIRONMENT"`
	GlobalLabels    string `envconfig:"GLOBAL_LABELS"`

	TransactionSampleRate float64  `envconfig:"TRANSACTION_SAMPLE_RATE"`
	TransactionMaxSpans   int      `envconfig:"TRANSACTION_MAX_SPANS"`
	TransactionIgnoreURLs []string `envconfig:"TRANSACTION_IGNORE_URLS"`

	MaxQueueEventCount int           `envconfig:"MAX_QUEUE_EVENT_COUNT"`
	MaxBatchEventCount int           `envconfig:"MAX_BATCH_EVENT_COUNT"`
	FlushInterval      time.Duration `envconfig:"FLUSH_INTERVAL"`
	ServerTimeout      time.Duration `envconfig:"SERVER_TIMEOUT"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
	DisableCompression bool          `envconfig:"DISABLE_COMPRESSION"`
	VerifyServerCert   bool          `envconfig:"VERIFY_SERVER_CERT"`

	CentralConfig             bool          `envconfig:"CENTRAL_CONFIG"`
	CentralConfigPollInterval time.Duration `envconfig:"CENTRAL_CONFIG_POLL_INTERVAL"`
	MetricsInterval           time.Duration `envconfig:"METRICS_INTERVAL"`

	LogLevel       string `envconfig:"LOG_LEVEL"`
	LogDevelopment bool   `envconfig:"LOG_DEVELOPMENT"`
	Recording      bool   `envconfig:"RECORDING"`
	CaptureHeaders bool   `envconfig:"CAPTURE_HEADERS"`

	// ActivationMethod records how the agent was attached to the process.
	// It is reported only to collectors that understand it.
	ActivationMethod string `envconfig:"ACTIVATION_METHOD"`

	ConfigFile string `envconfig:"CONFIG_FILE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL:                 "http://localhost:8200",
		ServiceName:               "unknown-go-service",
		TransactionSampleRate:     1.0,
		TransactionMaxSpans:       500,
		MaxQueueEventCount:        1000,
		MaxBatchEventCount:        50,
		FlushInterval:             10 * time.Second,
		ServerTimeout:             30 * time.Second,
		ShutdownTimeout:           5 * time.Second,
		VerifyServerCert:          true,
		CentralConfig:             true,
		CentralConfigPollInterval: 30 * time.Second,
		MetricsInterval:           30 * time.Second,
		LogLevel:                  "info",
		Recording:                 true,
		CaptureHeaders:            true,
	}
}

// Load builds the configuration from defaults, the optional config file
// named by ELASTIC_APM_CONFIG_FILE, and the environment, in that order of
// increasing precedence.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.TransactionIgnoreURLs = append([]string(nil), c.TransactionIgnoreURLs...)
	return &out
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid server_url %q", c.ServerURL))
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service_name must not be empty"))
	}
	if c.TransactionSampleRate < 0 || c.TransactionSampleRate > 1 {
		errs = append(errs, fmt.Errorf("transaction_sample_rate must be between 0.0 and 1.0, got %v", c.TransactionSampleRate))
	}
	if c.TransactionMaxSpans < 0 {
		errs = append(errs, fmt.Errorf("transaction_max_spans must not be negative, got %d", c.TransactionMaxSpans))
	}
	if c.MaxQueueEventCount <= 0 {
		errs = append(errs, fmt.Errorf("max_queue_event_count must be positive, got %d", c.MaxQueueEventCount))
	}
	if c.MaxBatchEventCount <= 0 {
		errs = append(errs, fmt.Errorf("max_batch_event_count must be positive, got %d", c.MaxBatchEventCount))
	}
	if c.MaxBatchEventCount > c.MaxQueueEventCount {
		errs = append(errs, fmt.Errorf("max_batch_event_count (%d) exceeds max_queue_event_count (%d)", c.MaxBatchEventCount, c.MaxQueueEventCount))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush_interval must be positive, got %s", c.FlushInterval))
	}
	if c.ServerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server_timeout must be positive, got %s", c.ServerTimeout))
	}
	if c.CentralConfigPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("central_config_poll_interval must be positive, got %s", c.CentralConfigPollInterval))
	}
	if c.MetricsInterval < 0 {
		errs = append(errs, fmt.Errorf("metrics_interval must not be negative, got %s", c.MetricsInterval))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLabels(c.GlobalLabels); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Labels returns the parsed global labels.
func (c *Config) Labels() map[string]string {
	labels, _ := ParseLabels(c.GlobalLabels)
	return labels
}

// ParseLabels parses "k=v,k2=v2".
func ParseLabels(s string) (map[string]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	labels := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid global label %q, expected key=value", pair)
		}
		labels[k] = strings.TrimSpace(v)
	}
	return labels, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:8200", cfg.ServerURL)
	assert.Equal(t, 1.0, cfg.TransactionSampleRate)
	assert.Equal(t, 1000, cfg.MaxQueueEventCount)
	assert.Equal(t, 50, cfg.MaxBatchEventCount)
	assert.Equal(t, 10*time.Second, cfg.FlushInterval)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ELASTIC_APM_SERVICE_NAME", "checkout")
	t.Setenv("ELASTIC_APM_TRANSACTION_SAMPLE_RATE", "0.25")
	t.Setenv("ELASTIC_APM_MAX_BATCH_EVENT_COUNT", "10")
	t.Setenv("ELASTIC_APM_FLUSH_INTERVAL", "2s")
	t.Setenv("ELASTIC_APM_TRANSACTION_IGNORE_URLS", "/health*,/metrics")
	t.Setenv("ELASTIC_APM_RECORDING", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "checkout", cfg.ServiceName)
	assert.Equal(t, 0.25, cfg.TransactionSampleRate)
	assert.Equal(t, 10, cfg.MaxBatchEventCount)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
	assert.Equal(t, []string{"/health*", "/metrics"}, cfg.TransactionIgnoreURLs)
	assert.False(t, cfg.Recording)
	// untouched keys keep their defaults
	assert.Equal(t, 1000, cfg.MaxQueueEventCount)
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("ELASTIC_APM_TRANSACTION_SAMPLE_RATE", "1.5")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apm.yaml")
	content := "service_name: from-file\n" +
		"transaction_sample_rate: 0.5\n" +
		"transaction_ignore_urls:\n  - /a\n  - /b*\n" +
		"global_labels:\n  region: eu\n  tier: web\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("ELASTIC_APM_CONFIG_FILE", path)
	t.Setenv("ELASTIC_APM_SERVICE_NAME", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ServiceName)
	assert.Equal(t, 0.5, cfg.TransactionSampleRate)
	assert.Equal(t, []string{"/a", "/b*"}, cfg.TransactionIgnoreURLs)
	assert.Equal(t, map[string]string{"region": "eu", "tier": "web"}, cfg.Labels())
}

func TestLoadFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apm.toml")
	content := "service_name = \"toml-svc\"\nmax_queue_event_count = 200\nflush_interval = \"500ms\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	assert.Equal(t, "toml-svc", cfg.ServiceName)
	assert.Equal(t, 200, cfg.MaxQueueEventCount)
	assert.Equal(t, 500*time.Millisecond, cfg.FlushInterval)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "apm.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("no_such_key: 1\n"), 0o600))
	assert.ErrorIs(t, Default().LoadFile(unknown), ErrUnknownKey)

	ext := filepath.Join(dir, "apm.ini")
	require.NoError(t, os.WriteFile(ext, []byte("x=1"), 0o600))
	assert.Error(t, Default().LoadFile(ext))

	assert.Error(t, Default().LoadFile(filepath.Join(dir, "missing.yaml")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad url", func(c *Config) { c.ServerURL = "not a url" }},
		{"empty service", func(c *Config) { c.ServiceName = "" }},
		{"rate high", func(c *Config) { c.TransactionSampleRate = 1.01 }},
		{"rate negative", func(c *Config) { c.TransactionSampleRate = -0.1 }},
		{"zero queue", func(c *Config) { c.MaxQueueEventCount = 0 }},
		{"zero batch", func(c *Config) { c.MaxBatchEventCount = 0 }},
		{"batch over queue", func(c *Config) { c.MaxBatchEventCount = c.MaxQueueEventCount + 1 }},
		{"zero flush", func(c *Config) { c.FlushInterval = 0 }},
		{"zero timeout", func(c *Config) { c.ServerTimeout = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad labels", func(c *Config) { c.GlobalLabels = "novalue" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParsers(t *testing.T) {
	d, err := ParseDuration("5")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseDuration("250ms")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDuration("-1")
	assert.Error(t, err)
	_, err = ParseDuration("-1s")
	assert.Error(t, err)

	for in, want := range map[string]string{"TRACE": "debug", "warning": "warn", "critical": "error", "off": "fatal", "info": "info"} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err = ParseSampleRate("NaN")
	assert.Error(t, err)

	assert.Equal(t, []string{"a", "b"}, ParseList(" a, ,b "))
}

func TestCentralKeys(t *testing.T) {
	assert.Equal(t, []string{
		"capture_headers",
		"flush_interval",
		"log_level",
		"max_batch_event_count",
		"max_queue_event_count",
		"recording",
		"transaction_ignore_urls",
		"transaction_max_spans",
		"transaction_sample_rate",
	}, CentralKeys())
	assert.False(t, IsCentralKey("server_url"))
}

func TestClone(t *testing.T) {
	cfg := Default()
	cfg.TransactionIgnoreURLs = []string{"/a"}
	clone := cfg.Clone()
	clone.TransactionIgnoreURLs[0] = "/b"
	assert.Equal(t, "/a", cfg.TransactionIgnoreURLs[0])
}

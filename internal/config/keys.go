package config

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ErrUnknownKey is returned by Set for keys outside the schema.
var ErrUnknownKey = errors.New("unknown configuration key")

type keyDef struct {
	// central marks keys that the collector may override at runtime.
	central bool
	set     func(c *Config, value string) error
}

var keys = map[string]keyDef{
	"server_url":        {set: func(c *Config, v string) error { c.ServerURL = strings.TrimSpace(v); return nil }},
	"secret_token":      {set: func(c *Config, v string) error { c.SecretToken = v; return nil }},
	"api_key":           {set: func(c *Config, v string) error { c.APIKey = v; return nil }},
	"service_name":      {set: func(c *Config, v string) error { c.ServiceName = strings.TrimSpace(v); return nil }},
	"service_version":   {set: func(c *Config, v string) error { c.ServiceVersion = v; return nil }},
	"service_node_name": {set: func(c *Config, v string) error { c.ServiceNodeName = v; return nil }},
	"environment":       {set: func(c *Config, v string) error { c.Environment = v; return nil }},
	"global_labels": {set: func(c *Config, v string) error {
		if _, err := ParseLabels(v); err != nil {
			return err
		}
		c.GlobalLabels = v
		return nil
	}},
	"transaction_sample_rate": {central: true, set: func(c *Config, v string) (err error) {
		c.TransactionSampleRate, err = ParseSampleRate(v)
		return err
	}},
	"transaction_max_spans": {central: true, set: func(c *Config, v string) (err error) {
		c.TransactionMaxSpans, err = parseInt(v, 0)
		return err
	}},
	"transaction_ignore_urls": {central: true, set: func(c *Config, v string) error {
		c.TransactionIgnoreURLs = ParseList(v)
		return nil
	}},
	"max_queue_event_count": {central: true, set: func(c *Config, v string) (err error) {
		c.MaxQueueEventCount, err = parseInt(v, 1)
		return err
	}},
	"max_batch_event_count": {central: true, set: func(c *Config, v string) (err error) {
		c.MaxBatchEventCount, err = parseInt(v, 1)
		return err
	}},
	"flush_interval": {central: true, set: func(c *Config, v string) (err error) {
		c.FlushInterval, err = ParseDuration(v)
		return err
	}},
	"server_timeout": {set: func(c *Config, v string) (err error) {
		c.ServerTimeout, err = ParseDuration(v)
		return err
	}},
	"shutdown_timeout": {set: func(c *Config, v string) (err error) {
		c.ShutdownTimeout, err = ParseDuration(v)
		return err
	}},
	"disable_compression": {set: func(c *Config, v string) (err error) {
		c.DisableCompression, err = parseBool(v)
		return err
	}},
	"verify_server_cert": {set: func(c *Config, v string) (err error) {
		c.VerifyServerCert, err = parseBool(v)
		return err
	}},
	"central_config": {set: func(c *Config, v string) (err error) {
		c.CentralConfig, err = parseBool(v)
		return err
	}},
	"central_config_poll_interval": {set: func(c *Config, v string) (err error) {
		c.CentralConfigPollInterval, err = ParseDuration(v)
		return err
	}},
	"metrics_interval": {set: func(c *Config, v string) (err error) {
		c.MetricsInterval, err = ParseDuration(v)
		return err
	}},
	"log_level": {central: true, set: func(c *Config, v string) (err error) {
		c.LogLevel, err = ParseLogLevel(v)
		return err
	}},
	"log_development": {set: func(c *Config, v string) (err error) {
		c.LogDevelopment, err = parseBool(v)
		return err
	}},
	"recording": {central: true, set: func(c *Config, v string) (err error) {
		c.Recording, err = parseBool(v)
		return err
	}},
	"capture_headers": {central: true, set: func(c *Config, v string) (err error) {
		c.CaptureHeaders, err = parseBool(v)
		return err
	}},
}

// Set assigns one configuration key from its string form.
func (c *Config) Set(key, value string) error {
	def, ok := keys[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := def.set(c, value); err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return nil
}

// CentralKeys lists the keys the collector may override, sorted.
func CentralKeys() []string {
	var out []string
	for k, def := range keys {
		if def.central {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// IsCentralKey reports whether key may be set by central configuration.
func IsCentralKey(key string) bool {
	return keys[strings.ToLower(key)].central
}

// ParseSampleRate parses a rate in [0, 1].
func ParseSampleRate(s string) (float64, error) {
	rate, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return 0, fmt.Errorf("rate %v out of range [0, 1]", rate)
	}
	return rate, nil
}

// ParseDuration accepts Go duration strings; a bare number means seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		d = time.Duration(n * float64(time.Second))
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// ParseList splits a comma separated list, dropping empty entries.
func ParseList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ParseLogLevel normalises agent log level names to zap level names.
func ParseLogLevel(s string) (string, error) {
	level := strings.ToLower(strings.TrimSpace(s))
	switch level {
	case "trace":
		level = "debug"
	case "warning":
		level = "warn"
	case "critical":
		level = "error"
	case "off":
		level = "fatal"
	}
	if _, err := zapcore.ParseLevel(level); err != nil {
		return "", fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func parseInt(s string, min int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < min {
		return 0, fmt.Errorf("value %d below minimum %d", n, min)
	}
	return n, nil
}

func parseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}

// Package testutil provides a fake collector for exercising the agent over
// real HTTP.
package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// Line is one NDJSON line of an intake request.
type Line struct {
	Kind    string
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (l Line) Decode(v any) error {
	return sonic.Unmarshal(l.Payload, v)
}

// IntakeRequest is a decoded intake POST.
type IntakeRequest struct {
	Header   http.Header
	Metadata map[string]any
	Events   []Line
}

// ConfigRequest records one central config poll.
type ConfigRequest struct {
	Service     string
	Environment string
	IfNoneMatch string
	Header      http.Header
}

// Collector is an in-process fake of the collector endpoints.
type Collector struct {
	*httptest.Server

	mu             sync.Mutex
	intake         []IntakeRequest
	intakeStatus   int
	intakeDelay    time.Duration
	configRequests []ConfigRequest
	configStatus   int
	configValues   map[string]string
	configETag     string
	configMaxAge   int
	serverVersion  string
	infoRequests   int
}

// NewCollector starts a collector that accepts every intake request and
// serves an empty central configuration. It is closed when t finishes.
func NewCollector(t testing.TB) *Collector {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c := &Collector{
		intakeStatus:  http.StatusAccepted,
		configStatus:  http.StatusOK,
		configValues:  map[string]string{},
		serverVersion: "8.12.0",
	}

	router := gin.New()
	router.GET("/", c.handleInfo)
	router.POST("/intake/v2/events", c.handleIntake)
	router.GET("/config/v1/agents", c.handleConfig)

	c.Server = httptest.NewServer(router)
	t.Cleanup(c.Server.Close)
	return c
}

func (c *Collector) handleInfo(ctx *gin.Context) {
	c.mu.Lock()
	c.infoRequests++
	version := c.serverVersion
	c.mu.Unlock()

	if version == "" {
		ctx.Status(http.StatusNotFound)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"version": version, "build_date": "2024-01-01T00:00:00Z"})
}

func (c *Collector) handleIntake(ctx *gin.Context) {
	var reader io.Reader = ctx.Request.Body
	if ctx.GetHeader("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(ctx.Request.Body)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer gz.Close()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := decodeIntake(body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"errors": []gin.H{{"message": err.Error()}}})
		return
	}
	req.Header = ctx.Request.Header.Clone()

	c.mu.Lock()
	status, delay := c.intakeStatus, c.intakeDelay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Request.Context().Done():
			return
		}
	}
	if status/100 != 2 {
		ctx.JSON(status, gin.H{"errors": []gin.H{{"message": "rejected by test collector"}}})
		return
	}

	c.mu.Lock()
	c.intake = append(c.intake, req)
	c.mu.Unlock()
	ctx.Status(status)
}

func decodeIntake(body []byte) (IntakeRequest, error) {
	var req IntakeRequest
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	first := true
	for scanner.Scan() {
		var line map[string]json.RawMessage
		if err := sonic.Unmarshal(scanner.Bytes(), &line); err != nil {
			return req, err
		}
		for kind, payload := range line {
			if first {
				if kind != "metadata" {
					return req, errMissingMetadata
				}
				if err := sonic.Unmarshal(payload, &req.Metadata); err != nil {
					return req, err
				}
				continue
			}
			req.Events = append(req.Events, Line{Kind: kind, Payload: payload})
		}
		first = false
	}
	if first {
		return req, errMissingMetadata
	}
	return req, scanner.Err()
}

func (c *Collector) handleConfig(ctx *gin.Context) {
	c.mu.Lock()
	c.configRequests = append(c.configRequests, ConfigRequest{
		Service:     ctx.Query("service.name"),
		Environment: ctx.Query("service.environment"),
		IfNoneMatch: ctx.GetHeader("If-None-Match"),
		Header:      ctx.Request.Header.Clone(),
	})
	status, etag, maxAge := c.configStatus, c.configETag, c.configMaxAge
	values := make(map[string]string, len(c.configValues))
	for k, v := range c.configValues {
		values[k] = v
	}
	c.mu.Unlock()

	if maxAge > 0 {
		ctx.Header("Cache-Control", "max-age="+strconv.Itoa(maxAge)+", must-revalidate")
	}
	if status != http.StatusOK {
		ctx.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	if etag != "" {
		ctx.Header("Etag", etag)
		if ctx.GetHeader("If-None-Match") == etag {
			ctx.Status(http.StatusNotModified)
			return
		}
	}
	ctx.JSON(http.StatusOK, values)
}

// SetIntakeStatus makes the intake endpoint answer with status.
func (c *Collector) SetIntakeStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intakeStatus = status
}

// SetIntakeDelay delays every intake response.
func (c *Collector) SetIntakeDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intakeDelay = d
}

// SetServerVersion changes the version served at "/"; empty serves 404.
func (c *Collector) SetServerVersion(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverVersion = v
}

// SetConfig serves values with etag and, when maxAge > 0, a Cache-Control
// max-age in seconds.
func (c *Collector) SetConfig(values map[string]string, etag string, maxAge int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configStatus = http.StatusOK
	c.configValues = values
	c.configETag = etag
	c.configMaxAge = maxAge
}

// SetConfigStatus makes the config endpoint answer with status.
func (c *Collector) SetConfigStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configStatus = status
}

// IntakeRequests returns the accepted intake requests.
func (c *Collector) IntakeRequests() []IntakeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]IntakeRequest(nil), c.intake...)
}

// Events returns every accepted event line in arrival order.
func (c *Collector) Events() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Line
	for _, req := range c.intake {
		out = append(out, req.Events...)
	}
	return out
}

// EventsOfKind returns accepted events with the given kind.
func (c *Collector) EventsOfKind(kind string) []Line {
	var out []Line
	for _, l := range c.Events() {
		if l.Kind == kind {
			out = append(out, l)
		}
	}
	return out
}

// ConfigRequests returns the central config polls received so far.
func (c *Collector) ConfigRequests() []ConfigRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConfigRequest(nil), c.configRequests...)
}

// InfoRequests returns how often "/" was queried.
func (c *Collector) InfoRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoRequests
}

// WaitForEvents blocks until at least n events arrived.
func (c *Collector) WaitForEvents(t testing.TB, n int, timeout time.Duration) []Line {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.Events()) >= n
	}, timeout, 5*time.Millisecond, "collector did not receive %d events", n)
	return c.Events()
}

package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const maxResponseBody = 1 << 20

// ConfigResponse is the outcome of one central config poll.
type ConfigResponse struct {
	// NotModified is set for 304 responses; Values is nil then.
	NotModified bool
	ETag        string
	Values      map[string]string
	// MaxAge is the Cache-Control max-age, zero when absent.
	MaxAge time.Duration
}

// FetchConfig polls the central configuration for a service. etag, when
// non-empty, is sent as If-None-Match. Non-2xx statuses other than 304
// return an *HTTPError.
func (c *Client) FetchConfig(ctx context.Context, service, environment, etag string) (*ConfigResponse, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	query := url.Values{}
	query.Set("service.name", service)
	if environment != "" {
		query.Set("service.environment", environment)
	}

	req, err := c.newRequest(ctx, http.MethodGet, ConfigPath+"?"+query.Encode())
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.retry.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch central config: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read central config: %w", err)
	}

	out := &ConfigResponse{
		ETag:   resp.Header.Get("Etag"),
		MaxAge: parseMaxAge(resp.Header.Get("Cache-Control")),
	}
	switch {
	case resp.StatusCode == http.StatusNotModified:
		out.NotModified = true
		if out.ETag == "" {
			out.ETag = etag
		}
		return out, nil
	case resp.StatusCode/100 != 2:
		return nil, newHTTPError(resp.StatusCode, body)
	}

	values, err := decodeConfig(body)
	if err != nil {
		return nil, err
	}
	out.Values = values
	return out, nil
}

// decodeConfig flattens a JSON object into string values. Non-string
// scalars keep their JSON text.
func decodeConfig(body []byte) (map[string]string, error) {
	raw := make(map[string]any)
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]string{}, nil
	}
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode central config: %w", err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			values[k] = val
		case nil:
		default:
			text, err := sonic.MarshalString(val)
			if err != nil {
				return nil, fmt.Errorf("failed to decode central config key %s: %w", k, err)
			}
			values[k] = text
		}
	}
	return values, nil
}

// parseMaxAge extracts max-age from a Cache-Control header.
func parseMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"`))
		if err != nil || secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}

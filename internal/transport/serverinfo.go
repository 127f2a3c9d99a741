package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/blang/semver/v4"
	"github.com/bytedance/sonic"
)

// ServerInfo is the collector's self description served at "/".
type ServerInfo struct {
	Version semver.Version
	// Known is false when the collector did not report a parsable version.
	Known bool
}

type serverInfoBody struct {
	Version string `json:"version"`
	// older collectors nest the information
	OK *struct {
		Version string `json:"version"`
	} `json:"ok"`
}

// ServerInfo fetches and parses the collector version.
func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	if c.closed.Load() {
		return ServerInfo{}, ErrClosed
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/")
	if err != nil {
		return ServerInfo{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.retry.Do(req)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("failed to query server info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return ServerInfo{}, fmt.Errorf("failed to read server info: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return ServerInfo{}, newHTTPError(resp.StatusCode, body)
	}

	var parsed serverInfoBody
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return ServerInfo{}, fmt.Errorf("failed to decode server info: %w", err)
	}
	raw := parsed.Version
	if raw == "" && parsed.OK != nil {
		raw = parsed.OK.Version
	}
	if raw == "" {
		return ServerInfo{}, errors.New("server info carries no version")
	}

	v, err := semver.ParseTolerant(raw)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("invalid server version %q: %w", raw, err)
	}
	return ServerInfo{Version: v, Known: true}, nil
}

// AtLeast reports whether the server is known to run version min or newer.
// Pre-release and build suffixes are ignored.
func (s ServerInfo) AtLeast(min semver.Version) bool {
	if !s.Known {
		return false
	}
	v := semver.Version{Major: s.Version.Major, Minor: s.Version.Minor, Patch: s.Version.Patch}
	return v.GTE(min)
}

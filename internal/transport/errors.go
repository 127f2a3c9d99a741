package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("transport closed")

// HTTPError is a non-2xx response from the collector.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsClientError reports whether err is a 4xx HTTPError.
func IsClientError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
}

// StatusCode extracts the status of an HTTPError, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

const maxErrorMessage = 512

type intakeErrorBody struct {
	Error  string `json:"error"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// newHTTPError builds an HTTPError from a response body, preferring the
// collector's JSON error messages over the raw text.
func newHTTPError(status int, body []byte) *HTTPError {
	var parsed intakeErrorBody
	if err := sonic.Unmarshal(body, &parsed); err == nil {
		msgs := make([]string, 0, len(parsed.Errors)+1)
		if parsed.Error != "" {
			msgs = append(msgs, parsed.Error)
		}
		for _, e := range parsed.Errors {
			if e.Message != "" {
				msgs = append(msgs, e.Message)
			}
		}
		if len(msgs) > 0 {
			return &HTTPError{StatusCode: status, Message: truncate(strings.Join(msgs, "; "))}
		}
	}
	return &HTTPError{StatusCode: status, Message: truncate(strings.TrimSpace(string(body)))}
}

func truncate(s string) string {
	if len(s) > maxErrorMessage {
		return s[:maxErrorMessage] + "..."
	}
	return s
}

// Package apmgin instruments gin handlers with the agent.
package apmgin

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/GriffinCanCode/tracepipe/internal/agent"
	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/model"
	"github.com/gin-gonic/gin"
)

// Propagation header names.
const (
	TraceParentHeader = "traceparent"
	TraceStateHeader  = "tracestate"
)

const redacted = "[REDACTED]"

// sanitizedHeaders lists header names whose values are never reported.
var sanitizedHeaders = config.NewWildcardMatchers([]string{
	"authorization", "cookie", "set-cookie",
	"*token*", "*secret*", "*session*", "*password*", "*passwd*", "*key*", "*auth*",
})

// Middleware returns middleware that measures each request as a
// transaction named after the matched route. The transaction is stored in
// the request context for handlers and outgoing calls.
func Middleware(a *agent.Agent) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := a.Snapshot()
		if snap.IgnoreURL(c.Request.URL.Path) {
			c.Next()
			return
		}

		tx, err := a.StartTransaction(transactionName(c), "request", agent.TransactionOptions{
			TraceParent: c.GetHeader(TraceParentHeader),
			TraceState:  c.Request.Header.Values(TraceStateHeader),
		})
		if err != nil {
			c.Next()
			return
		}
		ctx := agent.ContextWithTransaction(c.Request.Context(), tx)
		c.Request = c.Request.WithContext(ctx)

		defer func() {
			if v := recover(); v != nil {
				_ = a.CaptureError(ctx, fmt.Errorf("panic: %v", v))
				tx.RecordOutcome("HTTP 5xx", model.OutcomeFailure)
				tx.End()
				panic(v)
			}
		}()

		c.Next()

		status := c.Writer.Status()
		if tx.Sampled() {
			tx.SetRequest(requestContext(c, snap.CaptureHeaders))
			resp := model.Response{
				StatusCode:  status,
				HeadersSent: c.Writer.Written(),
				Finished:    true,
			}
			if snap.CaptureHeaders {
				resp.Headers = flattenHeaders(c.Writer.Header())
			}
			tx.SetResponse(resp)
		}
		tx.RecordOutcome(result(status), outcome(status))
		for _, e := range c.Errors {
			_ = a.CaptureError(ctx, e.Err)
		}
		tx.End()
	}
}

func transactionName(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = "unknown route"
	}
	return c.Request.Method + " " + route
}

func result(status int) string {
	return fmt.Sprintf("HTTP %dxx", status/100)
}

func outcome(status int) model.Outcome {
	if status >= http.StatusInternalServerError {
		return model.OutcomeFailure
	}
	return model.OutcomeSuccess
}

func requestContext(c *gin.Context, captureHeaders bool) model.Request {
	r := c.Request
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}

	req := model.Request{
		Method: r.Method,
		URL: model.URL{
			Full:     scheme + "://" + r.Host + r.URL.RequestURI(),
			Protocol: scheme,
			Hostname: host,
			Port:     port,
			Path:     r.URL.Path,
			Search:   r.URL.RawQuery,
		},
		HTTPVersion: fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		Socket:      &model.Socket{RemoteAddress: c.ClientIP()},
	}
	if captureHeaders {
		req.Headers = flattenHeaders(r.Header)
	}
	return req
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sanitizedHeaders.MatchAny(k) {
			out[k] = redacted
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

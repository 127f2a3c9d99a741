// Package apmgrpc instruments gRPC servers and clients with the agent.
//
// Server interceptors record each call as a transaction that continues the
// trace found in the incoming metadata. The client interceptor records each
// call as an exit span of the transaction in the context and propagates
// the trace to the server.
package apmgrpc

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/tracepipe/internal/agent"
	"github.com/GriffinCanCode/tracepipe/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Propagation metadata keys.
const (
	TraceParentKey = "traceparent"
	TraceStateKey  = "tracestate"
)

// UnaryServerInterceptor records unary calls as transactions.
func UnaryServerInterceptor(a *agent.Agent) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		tx, ctx := startTransaction(ctx, a, info.FullMethod)
		if tx == nil {
			return handler(ctx, req)
		}
		defer tx.End()

		resp, err := handler(ctx, req)
		finish(ctx, a, tx, err)
		return resp, err
	}
}

// StreamServerInterceptor records streaming calls as transactions lasting
// as long as the handler.
func StreamServerInterceptor(a *agent.Agent) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		tx, ctx := startTransaction(ss.Context(), a, info.FullMethod)
		if tx == nil {
			return handler(srv, ss)
		}
		defer tx.End()

		err := handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
		finish(ctx, a, tx, err)
		return err
	}
}

// serverStream carries the transaction context into the handler.
type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context {
	return s.ctx
}

// UnaryClientInterceptor records outgoing unary calls as exit spans and
// injects the propagation metadata. Calls made outside a transaction are
// passed through with no span.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		span, ctx := agent.StartSpanFromContext(ctx, method, "external.grpc")
		if span == nil {
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		defer span.End()

		ctx = metadata.AppendToOutgoingContext(ctx, TraceParentKey, span.TraceParentHeader())
		if ts := span.TraceStateHeader(); ts != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, TraceStateKey, ts)
		}
		span.SetDestination(destination(cc.Target()))

		err := invoker(ctx, method, req, reply, cc, opts...)
		span.SetOutcome(outcome(status.Code(err)))
		return err
	}
}

func startTransaction(ctx context.Context, a *agent.Agent, method string) (*agent.Transaction, context.Context) {
	opts := agent.TransactionOptions{}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(TraceParentKey); len(v) > 0 {
			opts.TraceParent = v[0]
		}
		opts.TraceState = md.Get(TraceStateKey)
	}
	tx, err := a.StartTransaction(method, "request", opts)
	if err != nil {
		return nil, ctx
	}
	return tx, agent.ContextWithTransaction(ctx, tx)
}

func finish(ctx context.Context, a *agent.Agent, tx *agent.Transaction, err error) {
	code := status.Code(err)
	tx.RecordOutcome(code.String(), outcome(code))
	if err != nil && isServerError(code) {
		_ = a.CaptureError(ctx, err)
	}
}

// outcome classifies a status code from the server's point of view.
func outcome(code codes.Code) model.Outcome {
	if isServerError(code) {
		return model.OutcomeFailure
	}
	return model.OutcomeSuccess
}

func isServerError(code codes.Code) bool {
	switch code {
	case codes.Unknown, codes.DeadlineExceeded, codes.Unimplemented,
		codes.Internal, codes.Unavailable, codes.DataLoss:
		return true
	}
	return false
}

// destination extracts host, port and service resource from a dial target
// such as "dns:///orders.internal:50051".
func destination(target string) (string, int, string) {
	if i := strings.LastIndex(target, ":///"); i >= 0 {
		target = target[i+4:]
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return target, 0, target
	}
	port, _ := strconv.Atoi(portStr)
	return host, port, target
}

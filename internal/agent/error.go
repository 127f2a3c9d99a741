package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/model"
	"go.uber.org/zap"
)

const maxStackFrames = 50

// CaptureError queues err as an error event linked to the span or
// transaction carried by ctx. A nil err is ignored.
func (a *Agent) CaptureError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if a.closed.Load() {
		return ErrClosed
	}
	if !a.store.Load().Recording {
		return nil
	}

	ev := &model.Error{
		ID:        a.generator.NewTraceID().String(),
		Timestamp: model.Timestamp(time.Now()),
		Exception: model.Exception{
			Message:    err.Error(),
			Type:       errorType(err),
			Handled:    true,
			Stacktrace: stacktrace(2),
		},
	}
	ev.Culprit = culprit(ev.Exception.Stacktrace)

	tx := TransactionFromContext(ctx)
	if s := SpanFromContext(ctx); s != nil {
		tx = s.tx
		ev.ParentID = s.tc.Span.String()
	} else if tx != nil {
		ev.ParentID = tx.tc.Span.String()
	}
	if tx != nil {
		ev.TraceID = tx.tc.Trace.String()
		ev.TransactionID = tx.tc.Span.String()
		ev.Transaction = &model.ErrorTransaction{
			Sampled: tx.sampled,
			Name:    tx.Name(),
			Type:    tx.typ,
		}
	}

	a.metrics.ErrorsCaptured.Inc()
	if err := a.enqueue(ev); err != nil {
		a.logger.Debug("dropped error", zap.String("error_id", ev.ID), zap.Error(err))
		return err
	}
	return nil
}

// errorType names the innermost wrapped error's type.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

// stacktrace captures the caller's stack, skipping skip frames above it.
func stacktrace(skip int) []model.StacktraceFrame {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	out := make([]model.StacktraceFrame, 0, n)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			module, function := splitFunction(f.Function)
			out = append(out, model.StacktraceFrame{
				Function: function,
				Module:   module,
				File:     fileName(f.File),
				AbsPath:  f.File,
				Line:     f.Line,
			})
		}
		if !more {
			return out
		}
	}
}

// splitFunction splits "github.com/x/y/pkg.(*T).M" into its package path
// and "(*T).M".
func splitFunction(fn string) (module, function string) {
	lastSlash := strings.LastIndexByte(fn, '/')
	dot := strings.IndexByte(fn[lastSlash+1:], '.')
	if dot < 0 {
		return "", fn
	}
	dot += lastSlash + 1
	return fn[:dot], fn[dot+1:]
}

func fileName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// culprit is the first frame outside the runtime.
func culprit(frames []model.StacktraceFrame) string {
	for _, f := range frames {
		if f.Module == "runtime" || f.Module == "testing" {
			continue
		}
		return f.Module + "." + f.Function
	}
	return ""
}

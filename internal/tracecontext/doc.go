/*
Package tracecontext implements the W3C Trace Context headers.

# Overview

Two headers carry a distributed trace across process boundaries:

	traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
	tracestate:  es=s:0.5,congo=t61rcWkgMzE

traceparent holds the version, the 16 byte trace id, the 8 byte id of the
calling span and the trace flags (bit 0 = recorded). tracestate holds an
ordered list of vendor members; the agent owns the "es" member and uses it
to propagate the sample rate that was applied at the root of the trace.

# Parsing

Version 00 headers must be exactly 55 characters. Higher versions are
parsed in best-effort mode: the known prefix is decoded and any trailing
content is accepted when it starts with '-'. Version ff is always invalid.
A parse failure never panics; callers start a new root trace instead.

# Usage

	tc, err := tracecontext.ParseTraceParent(r.Header.Get("traceparent"))
	if err != nil {
		tc = tracecontext.NewRoot(gen)
	}
	tc.State = tracecontext.ParseTraceState(r.Header.Values("tracestate")...)

	req.Header.Set("traceparent", tracecontext.FormatTraceParent(child))
	if v, ok := child.State.Format(); ok {
		req.Header.Set("tracestate", v)
	}
*/
package tracecontext

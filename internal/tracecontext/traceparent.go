package tracecontext

import (
	"errors"
	"fmt"
)

const (
	// TraceParentHeader is the canonical name of the traceparent header.
	TraceParentHeader = "traceparent"
	// TraceStateHeader is the canonical name of the tracestate header.
	TraceStateHeader = "tracestate"

	versionLength     = 2
	traceIDHexLength  = 32
	spanIDHexLength   = 16
	flagsHexLength    = 2
	versionEnd        = versionLength + 1                 // "00-"
	traceIDEnd        = versionEnd + traceIDHexLength + 1 // "00-<trace>-"
	spanIDEnd         = traceIDEnd + spanIDHexLength + 1  // "00-<trace>-<span>-"
	traceParentLength = spanIDEnd + flagsHexLength        // 55

	invalidVersion = 0xff
)

var (
	ErrInvalidTraceParent = errors.New("invalid traceparent")
	errEmpty              = fmt.Errorf("%w: empty value", ErrInvalidTraceParent)
	errVersion            = fmt.Errorf("%w: bad version", ErrInvalidTraceParent)
	errLayout             = fmt.Errorf("%w: bad field layout", ErrInvalidTraceParent)
	errHex                = fmt.Errorf("%w: non-hex character", ErrInvalidTraceParent)
	errLength             = fmt.Errorf("%w: bad length", ErrInvalidTraceParent)
)

// Flags holds the traceparent trace flags.
type Flags byte

// FlagRecorded marks a trace whose upstream caller decided to record it.
const FlagRecorded Flags = 0x01

// Recorded reports whether the recorded bit is set.
func (f Flags) Recorded() bool {
	return f&FlagRecorded == FlagRecorded
}

// WithRecorded returns f with the recorded bit set or cleared. Other bits are kept.
func (f Flags) WithRecorded(recorded bool) Flags {
	if recorded {
		return f | FlagRecorded
	}
	return f &^ FlagRecorded
}

// TraceContext identifies one span of a distributed trace. It is a value type;
// children receive copies.
type TraceContext struct {
	// Trace identifies the trace forest.
	Trace TraceID

	// Span is the parent span for an inbound context, or the current span for
	// an outbound one.
	Span SpanID

	// Flags are the propagated trace flags.
	Flags Flags

	// State holds the tracestate members.
	State TraceState
}

// Validate checks that neither id is zero.
func (tc TraceContext) Validate() error {
	if err := tc.Trace.Validate(); err != nil {
		return err
	}
	return tc.Span.Validate()
}

// Child returns a copy of tc identifying a new span of the same trace.
func (tc TraceContext) Child(span SpanID) TraceContext {
	tc.Span = span
	return tc
}

// NewRoot returns the context of a new root trace with fresh random ids and
// no flags set.
func NewRoot(g *Generator) TraceContext {
	return TraceContext{Trace: g.NewTraceID(), Span: g.NewSpanID()}
}

// ParseTraceParent decodes a traceparent header value.
//
// Version 00 must be exactly 55 characters long. Any other version except
// ff is parsed in best-effort mode, accepting trailing content that is
// separated from the flags by '-'.
func ParseTraceParent(value string) (TraceContext, error) {
	var tc TraceContext
	if value == "" {
		return tc, errEmpty
	}
	if len(value) < versionEnd || value[versionEnd-1] != '-' {
		return tc, errLayout
	}

	var version [1]byte
	if err := decodeHex(version[:], value[:versionLength]); err != nil {
		return tc, err
	}
	if version[0] == invalidVersion {
		return tc, errVersion
	}
	bestEffort := version[0] > 0

	if len(value) < traceIDEnd || value[traceIDEnd-1] != '-' {
		return tc, errLayout
	}
	if err := decodeHex(tc.Trace[:], value[versionEnd:traceIDEnd-1]); err != nil {
		return tc, err
	}

	if len(value) < spanIDEnd || value[spanIDEnd-1] != '-' {
		return tc, errLayout
	}
	if err := decodeHex(tc.Span[:], value[traceIDEnd:spanIDEnd-1]); err != nil {
		return tc, err
	}

	if len(value) < traceParentLength {
		return tc, errLength
	}
	var flags [1]byte
	if err := decodeHex(flags[:], value[spanIDEnd:traceParentLength]); err != nil {
		return tc, err
	}
	tc.Flags = Flags(flags[0])

	switch {
	case !bestEffort && len(value) != traceParentLength:
		return TraceContext{}, errLength
	case bestEffort && len(value) > traceParentLength && value[traceParentLength] != '-':
		return TraceContext{}, errLayout
	}

	if err := tc.Validate(); err != nil {
		return TraceContext{}, fmt.Errorf("%w: %w", ErrInvalidTraceParent, err)
	}
	return tc, nil
}

// FormatTraceParent encodes tc as a version 00 traceparent value.
func FormatTraceParent(tc TraceContext) string {
	var buf [traceParentLength]byte
	buf[0], buf[1] = '0', '0'
	buf[2] = '-'
	encodeHex(buf[versionEnd:], tc.Trace[:])
	buf[traceIDEnd-1] = '-'
	encodeHex(buf[traceIDEnd:], tc.Span[:])
	buf[spanIDEnd-1] = '-'
	encodeHex(buf[spanIDEnd:], []byte{byte(tc.Flags)})
	return string(buf[:])
}

const hexDigits = "0123456789abcdef"

func encodeHex(dst, src []byte) {
	for i, b := range src {
		dst[i*2] = hexDigits[b>>4]
		dst[i*2+1] = hexDigits[b&0x0f]
	}
}

// decodeHex decodes exactly 2*len(dst) hex characters of s into dst.
// Upper and lower case digits are accepted.
func decodeHex(dst []byte, s string) error {
	if len(s) != len(dst)*2 {
		return errLength
	}
	for i := range dst {
		hi, ok := fromHexChar(s[i*2])
		if !ok {
			return errHex
		}
		lo, ok := fromHexChar(s[i*2+1])
		if !ok {
			return errHex
		}
		dst[i] = hi<<4 | lo
	}
	return nil
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

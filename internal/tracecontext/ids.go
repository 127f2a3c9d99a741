package tracecontext

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrZeroTraceID = errors.New("zero trace-id is invalid")
	ErrZeroSpanID  = errors.New("zero span-id is invalid")
)

// TraceID identifies a trace forest.
type TraceID [16]byte

// Validate returns an error for the all-zero trace id.
func (id TraceID) Validate() error {
	if id.IsZero() {
		return ErrZeroTraceID
	}
	return nil
}

// IsZero reports whether every byte of id is zero.
func (id TraceID) IsZero() bool {
	return id == TraceID{}
}

// String returns id encoded as lower case hex.
func (id TraceID) String() string {
	return hex.EncodeToString(id[:])
}

// Low returns the low (last) 8 bytes of the trace id.
func (id TraceID) Low() [8]byte {
	var b [8]byte
	copy(b[:], id[8:])
	return b
}

// SpanID identifies a span within a trace.
type SpanID [8]byte

// Validate returns an error for the all-zero span id.
func (id SpanID) Validate() error {
	if id.IsZero() {
		return ErrZeroSpanID
	}
	return nil
}

// IsZero reports whether every byte of id is zero.
func (id SpanID) IsZero() bool {
	return id == SpanID{}
}

// String returns id encoded as lower case hex.
func (id SpanID) String() string {
	return hex.EncodeToString(id[:])
}

// Generator produces random trace and span ids. It is safe for concurrent use.
type Generator struct {
	mu sync.Mutex
	r  *bufio.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// DefaultGenerator returns the process wide generator reading from
// crypto/rand.
func DefaultGenerator() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator drawing every id directly from entropy,
// which must be an endless source. Reads are buffered so crypto/rand is
// not called once per id.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{r: bufio.NewReaderSize(entropy, 512)}
}

// NewTraceID returns a random, non-zero trace id.
func (g *Generator) NewTraceID() TraceID {
	var id TraceID
	g.mu.Lock()
	defer g.mu.Unlock()
	for id.IsZero() {
		g.fill(id[:])
	}
	return id
}

// NewSpanID returns a random, non-zero span id.
func (g *Generator) NewSpanID() SpanID {
	var id SpanID
	g.mu.Lock()
	defer g.mu.Unlock()
	for id.IsZero() {
		g.fill(id[:])
	}
	return id
}

func (g *Generator) fill(b []byte) {
	if _, err := io.ReadFull(g.r, b); err != nil {
		panic(fmt.Sprintf("tracecontext: reading id entropy: %v", err))
	}
}

// Package sampler makes the head-based sampling decision for new traces.
//
// The decision is a pure function of the configured rate and eight bytes of
// randomness. Using the low bytes of the trace id as that randomness keeps
// the decision consistent across every process that sees the same trace.
package sampler

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/GriffinCanCode/tracepipe/internal/tracecontext"
)

// Sampler decides whether a trace is recorded.
type Sampler struct {
	rate      float64
	threshold uint64
}

// New creates a sampler for rate, which must lie in [0, 1]. The rate is
// rounded to the precision propagated in tracestate before the threshold
// is derived.
func New(rate float64) (*Sampler, error) {
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return nil, fmt.Errorf("sample rate must be between 0.0 and 1.0, got %v", rate)
	}
	rounded := tracecontext.RoundSampleRate(rate)
	s := &Sampler{rate: rounded}
	switch rounded {
	case 0:
		s.threshold = 0
	case 1:
		s.threshold = math.MaxUint64
	default:
		s.threshold = uint64(math.Floor(rounded * math.MaxUint64))
	}
	return s, nil
}

// MustNew is like New but panics on an invalid rate.
func MustNew(rate float64) *Sampler {
	s, err := New(rate)
	if err != nil {
		panic(err)
	}
	return s
}

// Rate returns the rounded sample rate.
func (s *Sampler) Rate() float64 {
	return s.rate
}

// Decide interprets randomness as a big-endian uint64 and samples when it is
// at or below the threshold. Rates 0 and 1 never look at randomness.
func (s *Sampler) Decide(randomness [8]byte) bool {
	switch s.rate {
	case 0:
		return false
	case 1:
		return true
	}
	return binary.BigEndian.Uint64(randomness[:]) <= s.threshold
}

// Sample decides using the low eight bytes of the trace id.
func (s *Sampler) Sample(trace tracecontext.TraceID) bool {
	return s.Decide(trace.Low())
}

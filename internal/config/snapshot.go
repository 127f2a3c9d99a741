package config

import (
	"fmt"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/sampler"
)

// Snapshot is an immutable view of the dynamic settings. Readers load it
// once per operation and never observe a partially applied update.
type Snapshot struct {
	SampleRate          float64
	Sampler             *sampler.Sampler
	TransactionMaxSpans int
	IgnoreURLs          WildcardMatchers
	MaxQueueEventCount  int
	MaxBatchEventCount  int
	FlushInterval       time.Duration
	LogLevel            string
	Recording           bool
	CaptureHeaders      bool

	// CentralConfigETag is the entity tag of the central configuration this
	// snapshot was built from, empty for the static configuration.
	CentralConfigETag string

	central map[string]string
}

// NewSnapshot builds a snapshot from cfg. cfg must already be valid.
func NewSnapshot(cfg *Config) (*Snapshot, error) {
	s, err := sampler.New(cfg.TransactionSampleRate)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		SampleRate:          s.Rate(),
		Sampler:             s,
		TransactionMaxSpans: cfg.TransactionMaxSpans,
		IgnoreURLs:          NewWildcardMatchers(cfg.TransactionIgnoreURLs),
		MaxQueueEventCount:  cfg.MaxQueueEventCount,
		MaxBatchEventCount:  cfg.MaxBatchEventCount,
		FlushInterval:       cfg.FlushInterval,
		LogLevel:            cfg.LogLevel,
		Recording:           cfg.Recording,
		CaptureHeaders:      cfg.CaptureHeaders,
	}, nil
}

// IgnoreURL reports whether transactions for path are suppressed.
func (s *Snapshot) IgnoreURL(path string) bool {
	return s.IgnoreURLs.MatchAny(path)
}

// Central returns a copy of the raw central values this snapshot was
// built with.
func (s *Snapshot) Central() map[string]string {
	if len(s.central) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.central))
	for k, v := range s.central {
		out[k] = v
	}
	return out
}

// ApplyCentral builds a new snapshot from the static configuration with
// the central values layered on top. Keys absent from values keep their
// static value. Unknown keys, keys that are not centrally configurable and
// unparsable values are skipped and reported. Cross-field constraints are
// checked once against the merged result; when it is invalid, keys are
// rejected until it is valid again.
func ApplyCentral(static *Config, values map[string]string, etag string) (*Snapshot, []error) {
	var errs []error

	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	accepted := make([]string, 0, len(names))
	for _, k := range names {
		if !IsCentralKey(k) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownKey, k))
			continue
		}
		if err := static.Clone().Set(k, values[k]); err != nil {
			errs = append(errs, err)
			continue
		}
		accepted = append(accepted, k)
	}

	cfg, rejected := mergeCentral(static, values, accepted)
	if len(rejected) > 0 {
		merged := build(static, values, accepted).Validate()
		for _, k := range rejected {
			errs = append(errs, fmt.Errorf("rejected %s=%q: %w", k, values[k], merged))
		}
	}

	applied := make(map[string]string, len(accepted))
	for _, k := range accepted {
		if !slices.Contains(rejected, k) {
			applied[k] = values[k]
		}
	}

	snap, err := NewSnapshot(cfg)
	if err != nil {
		// unreachable after Validate, fall back to the static settings
		errs = append(errs, err)
		snap, _ = NewSnapshot(static)
		applied = nil
	}
	snap.CentralConfigETag = etag
	snap.central = applied
	return snap, errs
}

// mergeCentral applies names to a copy of static and validates the result
// once. While it is invalid, keys are rejected one at a time: first a key
// whose removal makes the result valid, otherwise the key whose removal
// leaves the fewest violations. Ties go to the first key in sorted order.
func mergeCentral(static *Config, values map[string]string, names []string) (*Config, []string) {
	var rejected []string
	remaining := append([]string(nil), names...)
	for {
		cfg := build(static, values, remaining)
		current := violations(cfg)
		if current == 0 || len(remaining) == 0 {
			return cfg, rejected
		}

		drop, best := -1, current
		for i := range remaining {
			without := append(append([]string(nil), remaining[:i]...), remaining[i+1:]...)
			if n := violations(build(static, values, without)); n < best {
				drop, best = i, n
				if n == 0 {
					break
				}
			}
		}
		if drop < 0 {
			// no single key is to blame, reject everything left
			return static.Clone(), append(rejected, remaining...)
		}
		rejected = append(rejected, remaining[drop])
		remaining = append(remaining[:drop], remaining[drop+1:]...)
	}
}

func build(static *Config, values map[string]string, names []string) *Config {
	cfg := static.Clone()
	for _, k := range names {
		// values were parsed once already
		_ = cfg.Set(k, values[k])
	}
	return cfg
}

func violations(cfg *Config) int {
	err := cfg.Validate()
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

// SnapshotSource yields the current snapshot.
type SnapshotSource interface {
	Load() *Snapshot
}

// Store publishes snapshots atomically.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store holding initial.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Swap publishes next and returns the previous snapshot.
func (s *Store) Swap(next *Snapshot) *Snapshot {
	return s.current.Swap(next)
}

// Package battery implements the elite store: a bounded, score-ordered
// retention structure for high-entropy samples.
//
// Admission is the only way samples enter the store, and capacity
// truncation is the only way they leave it. Blocks scoring below the
// threshold are discarded silently; that is expected filtering, not an
// error.
//
// Ordering: samples are kept sorted by score, highest first. Among equal
// scores the most recently admitted sample comes first, so when the store is
// over capacity the oldest of the lowest-scoring samples is evicted.
//
// Thread-safety: Store is safe for concurrent use. Admit holds the write lock
// across insert and truncation, so Snapshot never observes a partially
// sorted or partially truncated sequence.
package battery

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/battery/internal/clock"
	"github.com/roach88/battery/internal/entropy"
)

// Defaults for Store.
const (
	DefaultCapacity  = 100
	DefaultThreshold = 7.8
)

// Store holds the elite samples.
type Store struct {
	mu        sync.RWMutex
	samples   []Sample
	capacity  int
	threshold float64

	clock  clock.Clock
	newID  func() string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the maximum number of retained samples. Values below 1
// are ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.capacity = n
		}
	}
}

// WithThreshold sets the minimum score required for retention.
func WithThreshold(score float64) Option {
	return func(s *Store) { s.threshold = score }
}

// WithClock sets the clock used for capture timestamps (for testing).
// The store always wraps it so timestamps never go backwards.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithIDGenerator overrides the sample ID generator (for testing).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger sets the logger for eviction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store with DefaultCapacity and DefaultThreshold.
func NewStore(opts ...Option) *Store {
	s := &Store{
		capacity:  DefaultCapacity,
		threshold: DefaultThreshold,
		clock:     clock.System{},
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.NewMonotonic(s.clock)
	s.samples = make([]Sample, 0, s.capacity+1)
	return s
}

// Admission reports the outcome of one Admit call.
type Admission struct {
	// Score is the entropy of the submitted block.
	Score float64

	// Admitted is true when Score met the threshold.
	Admitted bool

	// Retained is true when the new sample is still in the store after
	// truncation. A full store can admit and immediately evict a block that
	// scores below everything already held.
	Retained bool

	// Sample describes the new sample. Zero when not admitted.
	Sample Ref

	// Evicted lists samples dropped by capacity truncation, lowest score last.
	Evicted []Ref
}

// Admit scores data and retains it if it meets the threshold.
//
// Empty data fails with entropy.ErrInvalidInput. A block below the
// threshold returns an Admission with Admitted false and a nil error; the
// store is unchanged.
func (s *Store) Admit(data []byte, label string) (Admission, error) {
	score, err := entropy.Score(data)
	if err != nil {
		return Admission{}, fmt.Errorf("admit %q: %w", label, err)
	}
	if score < s.threshold {
		return Admission{Score: score}, nil
	}

	sample := Sample{
		ID:          s.newID(),
		Data:        bytes.Clone(data),
		Score:       score,
		SourceLabel: label,
	}

	s.mu.Lock()
	sample.CapturedAt = s.clock.Now()

	// First position whose score does not exceed ours keeps the sequence
	// descending and puts the newcomer ahead of equal scores.
	pos := sort.Search(len(s.samples), func(i int) bool {
		return s.samples[i].Score <= score
	})
	s.samples = slices.Insert(s.samples, pos, sample)

	var evicted []Ref
	if len(s.samples) > s.capacity {
		for _, e := range s.samples[s.capacity:] {
			evicted = append(evicted, e.Ref())
		}
		clear(s.samples[s.capacity:])
		s.samples = s.samples[:s.capacity]
	}
	s.mu.Unlock()

	for _, e := range evicted {
		s.logger.Debug("sample evicted", "id", e.ID, "score", e.Score, "source", e.SourceLabel)
	}

	return Admission{
		Score:    score,
		Admitted: true,
		Retained: pos < s.capacity,
		Sample:   sample.Ref(),
		Evicted:  evicted,
	}, nil
}

// Snapshot returns a point-in-time copy of the retained samples in store
// order. The copy shares no memory with the store.
func (s *Store) Snapshot() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Sample, len(s.samples))
	for i, sample := range s.samples {
		out[i] = sample.clone()
	}
	return out
}

// Len returns the number of retained samples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Capacity returns the maximum number of retained samples.
func (s *Store) Capacity() int {
	return s.capacity
}

// Threshold returns the minimum retained score.
func (s *Store) Threshold() float64 {
	return s.threshold
}

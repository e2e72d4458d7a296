// Package keyderive turns retained elite samples into a fixed-length key.
//
// Derivation selects the top-scoring samples from a snapshot, concatenates
// their raw bytes in score order and hashes the buffer with one of a closed
// set of methods. Alongside the key it produces a Record naming exactly
// which samples fed it. The record never carries raw sample bytes or the key.
//
// Derivation works on a snapshot and never touches the store's lock while
// hashing.
package keyderive

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/battery/internal/audit"
	"github.com/roach88/battery/internal/battery"
	"github.com/roach88/battery/internal/clock"
)

// Defaults for Params.
const (
	DefaultTopN      = 32
	DefaultKeyLength = 32
)

// Params selects what to derive.
type Params struct {
	Method    Method
	TopN      int
	KeyLength int
}

// DefaultParams returns shake256, top 32 samples, 32-byte key.
func DefaultParams() Params {
	return Params{Method: Shake256, TopN: DefaultTopN, KeyLength: DefaultKeyLength}
}

// Record is the provenance of one derived key.
type Record struct {
	// ID is the content digest of the record (see audit.DomainDerivation).
	ID string `json:"id"`

	Method    Method    `json:"method"`
	KeyBits   int       `json:"key_bits"`
	DerivedAt time.Time `json:"derived_at"`

	// SourceBlocks lists the consumed samples in concatenation order.
	SourceBlocks []SourceBlock `json:"source_blocks"`
}

// SourceBlock describes one consumed sample.
type SourceBlock struct {
	SampleID    string    `json:"sample_id"`
	Score       float64   `json:"score"`
	SourceLabel string    `json:"source"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Snapshotter is the part of battery.Store derivation needs.
type Snapshotter interface {
	Snapshot() []battery.Sample
}

// Deriver derives keys. It holds no mutable state and is safe for
// concurrent use.
type Deriver struct {
	clock     clock.Clock
	available func(Method) bool
	logger    *slog.Logger
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithClock sets the clock used for DerivedAt (for testing).
func WithClock(c clock.Clock) Option {
	return func(d *Deriver) { d.clock = c }
}

// WithAvailability overrides capability detection (for testing).
func WithAvailability(fn func(Method) bool) Option {
	return func(d *Deriver) { d.available = fn }
}

// WithLogger sets the logger for derivation events.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deriver) { d.logger = l }
}

// NewDeriver creates a Deriver using the capabilities compiled into this
// build.
func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{
		clock:     clock.System{},
		available: Available,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DeriveFrom snapshots s and derives from the copy.
func (d *Deriver) DeriveFrom(s Snapshotter, p Params) ([]byte, Record, error) {
	return d.Derive(s.Snapshot(), p)
}

// Derive hashes the top p.TopN samples into a p.KeyLength-byte key.
//
// samples need not be sorted; a stable score-descending sort is applied to a
// copy, so equal scores keep their relative order. TopN larger than
// len(samples) uses every sample.
func (d *Deriver) Derive(samples []battery.Sample, p Params) ([]byte, Record, error) {
	if err := d.check(p); err != nil {
		return nil, Record{}, err
	}
	if len(samples) == 0 {
		return nil, Record{}, ErrInsufficientMaterial
	}

	selected := slices.Clone(samples)
	slices.SortStableFunc(selected, func(a, b battery.Sample) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	selected = selected[:min(p.TopN, len(selected))]

	size := 0
	for _, s := range selected {
		size += len(s.Data)
	}
	buf := make([]byte, 0, size)
	for _, s := range selected {
		buf = append(buf, s.Data...)
	}

	key, err := digest(p.Method, buf, p.KeyLength)
	clear(buf)
	if err != nil {
		return nil, Record{}, fmt.Errorf("derive %s: %w", p.Method, err)
	}

	rec := Record{
		Method:       p.Method,
		KeyBits:      p.KeyLength * 8,
		DerivedAt:    d.clock.Now(),
		SourceBlocks: make([]SourceBlock, len(selected)),
	}
	for i, s := range selected {
		rec.SourceBlocks[i] = SourceBlock{
			SampleID:    s.ID,
			Score:       battery.RoundScore(s.Score),
			SourceLabel: s.SourceLabel,
			CapturedAt:  s.CapturedAt,
		}
	}
	rec.ID, err = recordID(rec)
	if err != nil {
		return nil, Record{}, err
	}

	d.logger.Info("key derived",
		"id", rec.ID,
		"method", rec.Method,
		"key_bits", rec.KeyBits,
		"blocks", len(rec.SourceBlocks))

	return key, rec, nil
}

// check validates p before any material is touched.
func (d *Deriver) check(p Params) error {
	if _, err := ParseMethod(string(p.Method)); err != nil {
		return err
	}
	if !d.available(p.Method) {
		return fmt.Errorf("%w: %s", ErrMissingDependency, p.Method)
	}
	if p.TopN < 1 {
		return fmt.Errorf("%w: top_n must be at least 1, got %d", ErrInvalidParameter, p.TopN)
	}
	if p.KeyLength < 1 {
		return fmt.Errorf("%w: key length must be at least 1, got %d", ErrInvalidParameter, p.KeyLength)
	}
	if limit := MaxKeyLength(p.Method); limit > 0 && p.KeyLength > limit {
		return fmt.Errorf("%w: %s produces at most %d bytes, got %d", ErrInvalidParameter, p.Method, limit, p.KeyLength)
	}
	return nil
}

// recordID computes the content digest of rec. Scores and times are
// formatted as strings because canonical JSON forbids floats.
func recordID(rec Record) (string, error) {
	blocks := make([]any, len(rec.SourceBlocks))
	for i, b := range rec.SourceBlocks {
		blocks[i] = map[string]any{
			"sample_id":   b.SampleID,
			"score":       audit.Score(b.Score),
			"source":      b.SourceLabel,
			"captured_at": audit.Time(b.CapturedAt),
		}
	}
	return audit.Digest(audit.DomainDerivation, map[string]any{
		"method":        string(rec.Method),
		"key_bits":      rec.KeyBits,
		"derived_at":    audit.Time(rec.DerivedAt),
		"source_blocks": blocks,
	})
}

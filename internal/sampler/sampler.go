// Package sampler combines catalog sources into composite blocks and feeds
// them to the elite store.
//
// One round decides which sources take part (according to the Policy), tries
// a real read for each, substitutes a simulated block for every source that
// is unavailable, concatenates the parts in catalog order and submits the
// result to the store exactly once.
//
// Real reads for one round run in parallel. Simulated fallbacks are generated
// afterwards in catalog order so that a seeded run is reproducible no matter
// which reads finish first.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/battery/internal/battery"
	"github.com/roach88/battery/internal/clock"
	"github.com/roach88/battery/internal/source"
)

// Acquirer performs real reads. Implemented by *source.Reader.
type Acquirer interface {
	Acquire(ctx context.Context, id source.ID, maxBytes int) ([]byte, error)
}

// Generator produces simulated blocks. Implemented by *source.Simulator.
type Generator interface {
	Generate(id source.ID) ([]byte, error)
}

// Admitter receives combined blocks. Implemented by *battery.Store.
type Admitter interface {
	Admit(data []byte, label string) (battery.Admission, error)
}

// Part describes one source's contribution to a round.
type Part struct {
	Source    source.ID
	Simulated bool
	Bytes     int
}

// Round is the outcome of one sampling round.
type Round struct {
	ID        string
	Policy    Policy
	StartedAt time.Time

	// Parts lists the included sources in catalog order.
	Parts []Part

	// Label is the lineage string passed to the store.
	Label string

	// Bytes is the length of the combined block.
	Bytes int

	// Submitted is false when no source was included.
	Submitted bool

	// Admission is the store's verdict. Zero when not submitted.
	Admission battery.Admission
}

// Simulated returns the number of parts that fell back to simulation.
func (r Round) Simulated() int {
	n := 0
	for _, p := range r.Parts {
		if p.Simulated {
			n++
		}
	}
	return n
}

// Sampler runs sampling rounds.
//
// Thread-safety: Round may be called concurrently. The draw source is the
// only state carried between rounds and is guarded by mu.
type Sampler struct {
	acquirer  Acquirer
	generator Generator
	admitter  Admitter

	policy  Policy
	sources []source.Spec

	mu  sync.Mutex
	rng *rand.Rand

	clock  clock.Clock
	newID  func() string
	logger *slog.Logger
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithPolicy sets the sampling policy. Default: Probabilistic.
func WithPolicy(p Policy) Option {
	return func(s *Sampler) { s.policy = p }
}

// WithSources replaces the source list. Entries are sampled in the given
// order. Default: source.Catalog().
func WithSources(specs []source.Spec) Option {
	return func(s *Sampler) { s.sources = slices.Clone(specs) }
}

// WithProbabilities overrides inclusion probabilities for the listed
// sources. Sources not in m keep their current probability. Apply after
// WithSources.
func WithProbabilities(m map[source.ID]float64) Option {
	return func(s *Sampler) {
		for i := range s.sources {
			if p, ok := m[s.sources[i].ID]; ok {
				s.sources[i].Probability = p
			}
		}
	}
}

// WithRand sets the draw source used by the probabilistic policy.
func WithRand(r *rand.Rand) Option {
	return func(s *Sampler) { s.rng = r }
}

// WithSeed seeds the draw source.
func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, ^seed)))
}

// WithClock sets the clock used for Round.StartedAt.
func WithClock(c clock.Clock) Option {
	return func(s *Sampler) { s.clock = c }
}

// WithIDGenerator sets the round ID generator (for testing).
func WithIDGenerator(fn func() string) Option {
	return func(s *Sampler) { s.newID = fn }
}

// WithLogger sets the logger for round events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// New creates a Sampler reading from acq, falling back to gen and submitting
// to adm.
func New(acq Acquirer, gen Generator, adm Admitter, opts ...Option) *Sampler {
	s := &Sampler{
		acquirer:  acq,
		generator: gen,
		admitter:  adm,
		policy:    Probabilistic,
		sources:   source.Catalog(),
		clock:     clock.System{},
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Policy returns the sampling policy.
func (s *Sampler) Policy() Policy { return s.policy }

// Round runs one sampling round.
//
// Unavailable real reads are replaced by simulated blocks and never surface
// as errors. A source outside the catalog aborts the round before anything
// is submitted.
func (s *Sampler) Round(ctx context.Context) (Round, error) {
	if err := ctx.Err(); err != nil {
		return Round{}, err
	}

	round := Round{
		ID:        s.newID(),
		Policy:    s.policy,
		StartedAt: s.clock.Now(),
	}
	included := s.draw()

	reads, err := s.acquireAll(ctx, included)
	if err != nil {
		return Round{}, fmt.Errorf("round %s: %w", round.ID, err)
	}

	var combined []byte
	names := make([]string, 0, len(included))
	for i, spec := range included {
		data := reads[i]
		simulated := len(data) == 0
		if simulated {
			data, err = s.generator.Generate(spec.ID)
			if err != nil {
				return Round{}, fmt.Errorf("round %s: simulate %s: %w", round.ID, spec.ID, err)
			}
			s.logger.Debug("using simulated block", "round", round.ID, "source", spec.ID)
		}

		combined = append(combined, data...)
		round.Parts = append(round.Parts, Part{Source: spec.ID, Simulated: simulated, Bytes: len(data)})

		name := string(spec.ID)
		if simulated {
			name += "_fallback"
		}
		names = append(names, name)
	}

	round.Label = s.policy.labelPrefix() + "(" + strings.Join(names, "+") + ")"
	round.Bytes = len(combined)

	if len(combined) == 0 {
		s.logger.Debug("round produced no material", "round", round.ID)
		return round, nil
	}

	adm, err := s.admitter.Admit(combined, round.Label)
	if err != nil {
		return Round{}, fmt.Errorf("round %s: %w", round.ID, err)
	}
	round.Submitted = true
	round.Admission = adm

	s.logger.Debug("round complete",
		"round", round.ID,
		"label", round.Label,
		"bytes", round.Bytes,
		"score", adm.Score,
		"admitted", adm.Admitted,
		"evicted", len(adm.Evicted))

	return round, nil
}

// draw selects the sources taking part in a round, in sampling order.
func (s *Sampler) draw() []source.Spec {
	if s.policy == Exhaustive {
		return s.sources
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []source.Spec
	for _, spec := range s.sources {
		// One draw per source keeps the sequence aligned across rounds.
		if s.rng.Float64() < spec.Probability {
			out = append(out, spec)
		}
	}
	return out
}

// acquireAll attempts a real read for every spec concurrently. The result
// holds an empty entry for each source that was unavailable.
func (s *Sampler) acquireAll(ctx context.Context, specs []source.Spec) ([][]byte, error) {
	out := make([][]byte, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			data, err := s.acquirer.Acquire(gctx, spec.ID, spec.Length)
			switch {
			case err == nil:
				out[i] = data
				return nil
			case errors.Is(err, source.ErrUnavailable):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/battery/internal/battery"
	"github.com/roach88/battery/internal/entropy"
	"github.com/roach88/battery/internal/source"
	"github.com/roach88/battery/internal/testutil"
)

const catalogBytes = 12288 + 3072 + 1024 + 512 + 512 + 256 + 1536

// fakeAcquirer serves real data for the configured sources and reports every
// other source as unavailable.
type fakeAcquirer struct {
	mu    sync.Mutex
	data  map[source.ID][]byte
	calls map[source.ID]int
}

func newFakeAcquirer(data map[source.ID][]byte) *fakeAcquirer {
	return &fakeAcquirer{data: data, calls: make(map[source.ID]int)}
}

func (f *fakeAcquirer) Acquire(_ context.Context, id source.ID, _ int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if d, ok := f.data[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", source.ErrUnavailable, id, source.ErrNoDevice)
}

func (f *fakeAcquirer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// recordingAdmitter remembers every submission.
type recordingAdmitter struct {
	mu     sync.Mutex
	blocks [][]byte
	labels []string
}

func (r *recordingAdmitter) Admit(data []byte, label string) (battery.Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, append([]byte(nil), data...))
	r.labels = append(r.labels, label)
	score, err := entropy.Score(data)
	if err != nil {
		return battery.Admission{}, err
	}
	return battery.Admission{Score: score, Admitted: true, Retained: true}, nil
}

func (r *recordingAdmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSampler(acq Acquirer, adm Admitter, opts ...Option) *Sampler {
	base := []Option{
		WithSeed(1),
		WithClock(testutil.NewManualClock()),
		WithIDGenerator(testutil.NewSequentialIDs("round").Next),
		WithLogger(discardLogger()),
	}
	return New(acq, source.NewSimulator(7), adm, append(base, opts...)...)
}

func allProbabilities(p float64) map[source.ID]float64 {
	m := make(map[source.ID]float64)
	for _, id := range source.IDs() {
		m[id] = p
	}
	return m
}

func TestRound_ExhaustiveAllFallback(t *testing.T) {
	adm := &recordingAdmitter{}
	s := newTestSampler(newFakeAcquirer(nil), adm, WithPolicy(Exhaustive))

	r, err := s.Round(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "round-1", r.ID)
	assert.Equal(t, Exhaustive, r.Policy)
	assert.Equal(t, testutil.Epoch, r.StartedAt)
	assert.Equal(t,
		"composite_real+fallback(screen_fallback+screen_partial_fallback+audio_fallback+ram_fallback+kernel_entropy_pool_fallback+adc_noise_fallback+accel_gyro_fallback)",
		r.Label)
	assert.Equal(t, catalogBytes, r.Bytes)
	assert.Len(t, r.Parts, 7)
	assert.Equal(t, 7, r.Simulated())
	assert.True(t, r.Submitted)
	assert.Equal(t, 1, adm.count())
	assert.Equal(t, r.Label, adm.labels[0])
}

func TestRound_ExhaustiveRealDataFirst(t *testing.T) {
	screen := make([]byte, 12288)
	for i := range screen {
		screen[i] = byte(i)
	}
	acq := newFakeAcquirer(map[source.ID][]byte{source.Screen: screen})
	adm := &recordingAdmitter{}
	s := newTestSampler(acq, adm, WithPolicy(Exhaustive))

	r, err := s.Round(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(r.Label, "composite_real+fallback(screen+screen_partial_fallback+"))
	assert.False(t, r.Parts[0].Simulated)
	assert.Equal(t, 6, r.Simulated())
	require.Equal(t, 1, adm.count())
	assert.Equal(t, screen, adm.blocks[0][:len(screen)])
	assert.Len(t, adm.blocks[0], catalogBytes)
}

func TestRound_PartsInCatalogOrder(t *testing.T) {
	s := newTestSampler(newFakeAcquirer(nil), &recordingAdmitter{}, WithPolicy(Exhaustive))

	r, err := s.Round(context.Background())
	require.NoError(t, err)

	var got []source.ID
	for _, p := range r.Parts {
		got = append(got, p.Source)
		spec, ok := source.Lookup(p.Source)
		require.True(t, ok)
		assert.Equal(t, spec.Length, p.Bytes)
	}
	assert.Equal(t, source.IDs(), got)
}

func TestRound_NothingIncludedIsNotSubmitted(t *testing.T) {
	acq := newFakeAcquirer(nil)
	adm := &recordingAdmitter{}
	s := newTestSampler(acq, adm, WithProbabilities(allProbabilities(0)))

	r, err := s.Round(context.Background())
	require.NoError(t, err)

	assert.False(t, r.Submitted)
	assert.Zero(t, r.Bytes)
	assert.Empty(t, r.Parts)
	assert.Equal(t, "composite_probabilistic()", r.Label)
	assert.Zero(t, adm.count())
	assert.Zero(t, acq.total())
}

func TestRound_ProbabilisticAllIncluded(t *testing.T) {
	adm := &recordingAdmitter{}
	s := newTestSampler(newFakeAcquirer(nil), adm, WithProbabilities(allProbabilities(1)))

	r, err := s.Round(context.Background())
	require.NoError(t, err)

	assert.Len(t, r.Parts, 7)
	assert.True(t, strings.HasPrefix(r.Label, "composite_probabilistic(screen_fallback+"))
	assert.Equal(t, catalogBytes, r.Bytes)
}

func TestRound_ProbabilisticCertainSourcesAlwaysIncluded(t *testing.T) {
	s := newTestSampler(newFakeAcquirer(nil), &recordingAdmitter{})

	seen := make(map[source.ID]int)
	const rounds = 50
	for range rounds {
		r, err := s.Round(context.Background())
		require.NoError(t, err)
		for _, p := range r.Parts {
			seen[p.Source]++
		}
	}

	assert.Equal(t, rounds, seen[source.Screen])
	assert.Equal(t, rounds, seen[source.ScreenPartial])
	assert.Less(t, seen[source.ADCNoise], rounds)
	assert.Greater(t, seen[source.Audio], 0)
}

func TestRound_SeededRunsAreReproducible(t *testing.T) {
	run := func() ([]string, [][]byte) {
		adm := &recordingAdmitter{}
		s := newTestSampler(newFakeAcquirer(nil), adm)
		var labels []string
		for range 10 {
			r, err := s.Round(context.Background())
			require.NoError(t, err)
			labels = append(labels, r.Label)
		}
		return labels, adm.blocks
	}

	l1, b1 := run()
	l2, b2 := run()
	assert.Equal(t, l1, l2)
	assert.Equal(t, b1, b2)
}

func TestRound_UnsupportedSourceAborts(t *testing.T) {
	adm := &recordingAdmitter{}
	reader := source.NewReader(source.WithDevices(map[source.ID]source.Device{}))
	s := newTestSampler(reader, adm,
		WithPolicy(Exhaustive),
		WithSources([]source.Spec{{ID: "bogus", Length: 4, Probability: 1}}))

	_, err := s.Round(context.Background())
	require.ErrorIs(t, err, source.ErrUnsupportedSource)
	assert.Zero(t, adm.count())
}

func TestRound_AcquirerFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	acq := acquirerFunc(func(context.Context, source.ID, int) ([]byte, error) { return nil, boom })
	adm := &recordingAdmitter{}
	s := newTestSampler(acq, adm, WithPolicy(Exhaustive))

	_, err := s.Round(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, adm.count())
}

func TestRound_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adm := &recordingAdmitter{}
	_, err := newTestSampler(newFakeAcquirer(nil), adm).Round(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, adm.count())
}

func TestRound_WithRealStoreAndReader(t *testing.T) {
	store := battery.NewStore(
		battery.WithClock(testutil.NewManualClock()),
		battery.WithThreshold(0),
		battery.WithLogger(discardLogger()),
	)
	reader := source.NewReader(
		source.WithDevices(map[source.ID]source.Device{}),
		source.WithLogger(discardLogger()),
	)
	s := newTestSampler(reader, store, WithPolicy(Exhaustive))

	r, err := s.Round(context.Background())
	require.NoError(t, err)

	assert.True(t, r.Submitted)
	assert.True(t, r.Admission.Admitted)
	require.Equal(t, 1, store.Len())
	snap := store.Snapshot()
	assert.Equal(t, r.Label, snap[0].SourceLabel)
	assert.Len(t, snap[0].Data, catalogBytes)
	assert.Equal(t, r.Admission.Score, snap[0].Score)
}

func TestRound_Concurrent(t *testing.T) {
	adm := &recordingAdmitter{}
	s := newTestSampler(newFakeAcquirer(nil), adm, WithPolicy(Exhaustive))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Round(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, adm.count())
}

func TestParsePolicy(t *testing.T) {
	for _, p := range Policies() {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParsePolicy("random")
	require.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestRun_StopsOnErrStop(t *testing.T) {
	adm := &recordingAdmitter{}
	s := newTestSampler(newFakeAcquirer(nil), adm, WithPolicy(Exhaustive))

	var ids []string
	err := s.Run(context.Background(), time.Millisecond, func(_ context.Context, r Round) error {
		ids = append(ids, r.ID)
		if len(ids) == 3 {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"round-1", "round-2", "round-3"}, ids)
	assert.Equal(t, 3, adm.count())
}

func TestRun_CallbackErrorEndsLoop(t *testing.T) {
	boom := errors.New("journal down")
	s := newTestSampler(newFakeAcquirer(nil), &recordingAdmitter{})

	err := s.Run(context.Background(), time.Millisecond, func(context.Context, Round) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestSampler(newFakeAcquirer(nil), &recordingAdmitter{})

	rounds := 0
	err := s.Run(ctx, time.Millisecond, func(context.Context, Round) error {
		rounds++
		if rounds == 2 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, rounds)
}

func TestRun_RejectsNonPositiveInterval(t *testing.T) {
	s := newTestSampler(newFakeAcquirer(nil), &recordingAdmitter{})
	require.Error(t, s.Run(context.Background(), 0, nil))
}

type acquirerFunc func(ctx context.Context, id source.ID, maxBytes int) ([]byte, error)

func (f acquirerFunc) Acquire(ctx context.Context, id source.ID, maxBytes int) ([]byte, error) {
	return f(ctx, id, maxBytes)
}

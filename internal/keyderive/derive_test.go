package keyderive

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/roach88/battery/internal/battery"
	"github.com/roach88/battery/internal/testutil"
)

func ramp(offset, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + offset)
	}
	return b
}

func sample(id string, score float64, data []byte) battery.Sample {
	return battery.Sample{
		ID:          id,
		Data:        data,
		Score:       score,
		CapturedAt:  testutil.Epoch,
		SourceLabel: "composite_probabilistic(" + id + ")",
	}
}

func newTestDeriver(opts ...Option) *Deriver {
	base := []Option{
		WithClock(testutil.NewManualClock()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewDeriver(append(base, opts...)...)
}

func TestDerive_ConcatenatesInScoreOrder(t *testing.T) {
	c := sample("c", 7.95, ramp(0, 256))
	b := sample("b", 7.85, ramp(100, 256))

	key, rec, err := newTestDeriver().Derive([]battery.Sample{b, c}, Params{Method: Shake256, TopN: 2, KeyLength: 32})
	require.NoError(t, err)

	want := make([]byte, 32)
	sha3.ShakeSum256(want, append(append([]byte{}, c.Data...), b.Data...))
	assert.Equal(t, want, key)

	assert.Equal(t, Shake256, rec.Method)
	assert.Equal(t, 256, rec.KeyBits)
	assert.Equal(t, testutil.Epoch, rec.DerivedAt)
	require.Len(t, rec.SourceBlocks, 2)
	assert.Equal(t, "c", rec.SourceBlocks[0].SampleID)
	assert.Equal(t, "b", rec.SourceBlocks[1].SampleID)
	assert.Equal(t, 7.95, rec.SourceBlocks[0].Score)
	assert.Len(t, rec.ID, 64)
}

func TestDerive_Deterministic(t *testing.T) {
	samples := []battery.Sample{
		sample("a", 7.9, ramp(1, 300)),
		sample("b", 7.95, ramp(2, 300)),
	}
	d := newTestDeriver()

	k1, r1, err := d.Derive(samples, DefaultParams())
	require.NoError(t, err)
	k2, r2, err := d.Derive(samples, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, r1, r2)
}

func TestDerive_TopNLimitsSelection(t *testing.T) {
	samples := []battery.Sample{
		sample("low", 7.81, ramp(0, 64)),
		sample("high", 7.99, ramp(1, 64)),
		sample("mid", 7.9, ramp(2, 64)),
	}

	key, rec, err := newTestDeriver().Derive(samples, Params{Method: Shake256, TopN: 1, KeyLength: 16})
	require.NoError(t, err)

	want := make([]byte, 16)
	sha3.ShakeSum256(want, samples[1].Data)
	assert.Equal(t, want, key)
	require.Len(t, rec.SourceBlocks, 1)
	assert.Equal(t, "high", rec.SourceBlocks[0].SampleID)
}

func TestDerive_TopNLargerThanAvailable(t *testing.T) {
	samples := []battery.Sample{
		sample("a", 7.9, ramp(0, 32)),
		sample("b", 7.8, ramp(1, 32)),
	}

	_, rec, err := newTestDeriver().Derive(samples, Params{Method: Shake256, TopN: 50, KeyLength: 32})
	require.NoError(t, err)
	assert.Len(t, rec.SourceBlocks, 2)
}

func TestDerive_EqualScoresKeepInputOrder(t *testing.T) {
	samples := []battery.Sample{
		sample("first", 8, ramp(0, 32)),
		sample("second", 8, ramp(1, 32)),
		sample("third", 8, ramp(2, 32)),
	}

	_, rec, err := newTestDeriver().Derive(samples, Params{Method: Shake256, TopN: 3, KeyLength: 32})
	require.NoError(t, err)

	var ids []string
	for _, b := range rec.SourceBlocks {
		ids = append(ids, b.SampleID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, ids)
}

func TestDerive_DoesNotMutateInput(t *testing.T) {
	samples := []battery.Sample{
		sample("a", 7.8, ramp(0, 8)),
		sample("b", 7.9, ramp(1, 8)),
	}
	orig := ramp(0, 8)

	_, _, err := newTestDeriver().Derive(samples, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, "a", samples[0].ID)
	assert.Equal(t, orig, samples[0].Data)
}

func TestDerive_EmptyInput(t *testing.T) {
	_, _, err := newTestDeriver().Derive(nil, DefaultParams())
	require.ErrorIs(t, err, ErrInsufficientMaterial)
}

func TestDerive_ParameterErrors(t *testing.T) {
	samples := []battery.Sample{sample("a", 7.9, ramp(0, 32))}

	tests := []struct {
		name   string
		params Params
		want   error
	}{
		{"unknown method", Params{Method: "md5", TopN: 1, KeyLength: 32}, ErrUnsupportedMethod},
		{"zero top n", Params{Method: Shake256, TopN: 0, KeyLength: 32}, ErrInvalidParameter},
		{"zero key length", Params{Method: Shake256, TopN: 1, KeyLength: 0}, ErrInvalidParameter},
		{"sha3_512 too long", Params{Method: SHA3_512, TopN: 1, KeyLength: 65}, ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newTestDeriver().Derive(samples, tt.params)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDerive_ParametersCheckedBeforeMaterial(t *testing.T) {
	_, _, err := newTestDeriver().Derive(nil, Params{Method: "md5", TopN: 1, KeyLength: 32})
	require.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestDerive_MissingDependency(t *testing.T) {
	d := newTestDeriver(WithAvailability(func(m Method) bool { return m != BLAKE3 }))
	samples := []battery.Sample{sample("a", 7.9, ramp(0, 32))}

	_, _, err := d.Derive(samples, Params{Method: BLAKE3, TopN: 1, KeyLength: 32})
	require.ErrorIs(t, err, ErrMissingDependency)
	assert.NotErrorIs(t, err, ErrUnsupportedMethod)
}

func TestDerive_SHA3_512Truncates(t *testing.T) {
	data := ramp(3, 128)
	samples := []battery.Sample{sample("a", 8, data)}

	key, rec, err := newTestDeriver().Derive(samples, Params{Method: SHA3_512, TopN: 1, KeyLength: 20})
	require.NoError(t, err)

	sum := sha3.Sum512(data)
	assert.Equal(t, sum[:20], key)
	assert.Equal(t, 160, rec.KeyBits)

	key, _, err = newTestDeriver().Derive(samples, Params{Method: SHA3_512, TopN: 1, KeyLength: 64})
	require.NoError(t, err)
	assert.Equal(t, sum[:], key)
}

func TestDerive_ShakeArbitraryLength(t *testing.T) {
	samples := []battery.Sample{sample("a", 8, ramp(0, 256))}

	key, rec, err := newTestDeriver().Derive(samples, Params{Method: Shake256, TopN: 1, KeyLength: 100})
	require.NoError(t, err)
	assert.Len(t, key, 100)
	assert.Equal(t, 800, rec.KeyBits)
}

func TestDerive_RecordCarriesNoMaterial(t *testing.T) {
	data := []byte("very-recognisable-entropy-block-0123456789")
	samples := []battery.Sample{sample("a", 7.9, data)}

	key, rec, err := newTestDeriver().Derive(samples, DefaultParams())
	require.NoError(t, err)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "very-recognisable")
	assert.NotContains(t, string(out), `"data"`)
	assert.NotContains(t, string(out), string(key))
}

func TestDerive_RecordIDDependsOnContent(t *testing.T) {
	clk := testutil.NewManualClock()
	d := newTestDeriver(WithClock(clk))
	samples := []battery.Sample{sample("a", 7.9, ramp(0, 32))}

	_, r1, err := d.Derive(samples, DefaultParams())
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, r2, err := d.Derive(samples, DefaultParams())
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r2.ID)

	_, r3, err := d.Derive(samples, Params{Method: SHA3_512, TopN: 32, KeyLength: 32})
	require.NoError(t, err)
	assert.NotEqual(t, r2.ID, r3.ID)
}

func TestDeriveFrom_Store(t *testing.T) {
	store := battery.NewStore(
		battery.WithClock(testutil.NewManualClock()),
		battery.WithIDGenerator(testutil.NewSequentialIDs("sample").Next),
	)
	adm, err := store.Admit(ramp(0, 256), "composite_probabilistic(screen_fallback)")
	require.NoError(t, err)
	require.True(t, adm.Retained)

	key, rec, err := newTestDeriver().DeriveFrom(store, DefaultParams())
	require.NoError(t, err)
	assert.Len(t, key, DefaultKeyLength)
	require.Len(t, rec.SourceBlocks, 1)
	assert.Equal(t, "sample-1", rec.SourceBlocks[0].SampleID)
	assert.Equal(t, 8.0, rec.SourceBlocks[0].Score)
	assert.Equal(t, 1, store.Len())
}

func TestDeriveFrom_EmptyStore(t *testing.T) {
	_, _, err := newTestDeriver().DeriveFrom(battery.NewStore(), DefaultParams())
	require.ErrorIs(t, err, ErrInsufficientMaterial)
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods() {
		got, err := ParseMethod(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	_, err := ParseMethod("SHAKE256")
	require.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestMaxKeyLength(t *testing.T) {
	assert.Equal(t, 64, MaxKeyLength(SHA3_512))
	assert.Equal(t, 0, MaxKeyLength(Shake256))
	assert.Equal(t, 0, MaxKeyLength(BLAKE3))
	assert.False(t, Available("md5"))
	assert.True(t, Available(Shake256))
}

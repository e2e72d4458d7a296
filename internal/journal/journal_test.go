package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/battery/internal/battery"
	"github.com/roach88/battery/internal/keyderive"
	"github.com/roach88/battery/internal/sampler"
	"github.com/roach88/battery/internal/source"
	"github.com/roach88/battery/internal/testutil"
)

// createTestJournal opens a fresh journal in a temp directory.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func testRound(id string, at time.Time, admitted bool) sampler.Round {
	r := sampler.Round{
		ID:        id,
		Policy:    sampler.Exhaustive,
		StartedAt: at,
		Parts: []sampler.Part{
			{Source: source.Screen, Bytes: 12288},
			{Source: source.RAM, Simulated: true, Bytes: 512},
		},
		Label:     "composite_real+fallback(screen+ram_fallback)",
		Bytes:     12800,
		Submitted: true,
		Admission: battery.Admission{Score: 7.95, Admitted: admitted, Retained: admitted},
	}
	if admitted {
		r.Admission.Sample = battery.Ref{ID: "sample-" + id, Score: 7.95}
	}
	return r
}

func testRecord(id string, at time.Time) keyderive.Record {
	return keyderive.Record{
		ID:        id,
		Method:    keyderive.Shake256,
		KeyBits:   256,
		DerivedAt: at,
		SourceBlocks: []keyderive.SourceBlock{
			{SampleID: "s-2", Score: 7.99, SourceLabel: "composite_probabilistic(screen)", CapturedAt: at.Add(-2 * time.Second)},
			{SampleID: "s-1", Score: 7.85, SourceLabel: "composite_probabilistic(screen_fallback)", CapturedAt: at.Add(-3 * time.Second)},
		},
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	for i := 0; i < 3; i++ {
		j, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, j.Close())
	}
}

func TestOpen_Pragmas(t *testing.T) {
	j := createTestJournal(t)

	tests := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "1",
	}
	for name, want := range tests {
		got, err := j.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "journal.db"))
	require.Error(t, err)
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, (&Journal{}).Close())
}

func TestWriteRound(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.WriteRound(ctx, testRound("r1", testutil.Epoch, true)))
	require.NoError(t, j.WriteRound(ctx, testRound("r2", testutil.Epoch.Add(time.Second), false)))

	n, err := j.RoundCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	admitted, err := j.AdmittedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, admitted)

	var (
		label     string
		simulated int
		sampleID  *string
	)
	err = j.db.QueryRow(`SELECT label, simulated, sample_id FROM rounds WHERE id = 'r1'`).Scan(&label, &simulated, &sampleID)
	require.NoError(t, err)
	assert.Equal(t, "composite_real+fallback(screen+ram_fallback)", label)
	assert.Equal(t, 1, simulated)
	require.NotNil(t, sampleID)
	assert.Equal(t, "sample-r1", *sampleID)

	err = j.db.QueryRow(`SELECT sample_id FROM rounds WHERE id = 'r2'`).Scan(&sampleID)
	require.NoError(t, err)
	assert.Nil(t, sampleID)
}

func TestWriteRound_Idempotent(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	r := testRound("r1", testutil.Epoch, true)

	require.NoError(t, j.WriteRound(ctx, r))
	require.NoError(t, j.WriteRound(ctx, r))

	n, err := j.RoundCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWriteDerivation_RoundTrip(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	rec := testRecord("d1", testutil.Epoch.Add(500*time.Millisecond))

	require.NoError(t, j.WriteDerivation(ctx, rec))

	got, err := j.Derivations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, rec.Method, got[0].Method)
	assert.Equal(t, rec.KeyBits, got[0].KeyBits)
	assert.True(t, rec.DerivedAt.Equal(got[0].DerivedAt))
	require.Len(t, got[0].SourceBlocks, 2)
	assert.Equal(t, "s-2", got[0].SourceBlocks[0].SampleID)
	assert.Equal(t, "s-1", got[0].SourceBlocks[1].SampleID)
	assert.Equal(t, 7.99, got[0].SourceBlocks[0].Score)
	assert.True(t, rec.SourceBlocks[1].CapturedAt.Equal(got[0].SourceBlocks[1].CapturedAt))
}

func TestWriteDerivation_Idempotent(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	rec := testRecord("d1", testutil.Epoch)

	require.NoError(t, j.WriteDerivation(ctx, rec))
	require.NoError(t, j.WriteDerivation(ctx, rec))

	got, err := j.Derivations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].SourceBlocks, 2)
}

func TestDerivations_NewestFirstWithLimit(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	// Sub-second and whole-second timestamps must order correctly.
	require.NoError(t, j.WriteDerivation(ctx, testRecord("d1", testutil.Epoch)))
	require.NoError(t, j.WriteDerivation(ctx, testRecord("d2", testutil.Epoch.Add(500*time.Millisecond))))
	require.NoError(t, j.WriteDerivation(ctx, testRecord("d3", testutil.Epoch.Add(time.Second))))

	all, err := j.Derivations(ctx, 0)
	require.NoError(t, err)
	var ids []string
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"d3", "d2", "d1"}, ids)

	limited, err := j.Derivations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "d3", limited[0].ID)
	assert.Equal(t, "d2", limited[1].ID)
}

func TestDerivations_Empty(t *testing.T) {
	j := createTestJournal(t)

	got, err := j.Derivations(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestJournal_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.WriteRound(ctx, testRound("r1", testutil.Epoch, true)))
	require.NoError(t, j1.WriteDerivation(ctx, testRecord("d1", testutil.Epoch)))
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	n, err := j2.RoundCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := j2.Derivations(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestJournal_CancelledContext(t *testing.T) {
	j := createTestJournal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, j.WriteRound(ctx, testRound("r1", testutil.Epoch, true)))
	require.Error(t, j.WriteDerivation(ctx, testRecord("d1", testutil.Epoch)))
}

func TestTimeFormat_FixedWidth(t *testing.T) {
	a := formatTime(testutil.Epoch)
	b := formatTime(testutil.Epoch.Add(time.Nanosecond))
	assert.Len(t, b, len(a))
	assert.Less(t, a, b)

	parsed, err := parseTime(a)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(testutil.Epoch))

	_, err = parseTime("yesterday")
	require.Error(t, err)
}

package journal

import (
	"context"
	"fmt"

	"github.com/roach88/battery/internal/keyderive"
	"github.com/roach88/battery/internal/sampler"
)

// WriteRound records the outcome of one sampling round.
// Uses ON CONFLICT(id) DO NOTHING, so writing the same round twice is a no-op.
func (j *Journal) WriteRound(ctx context.Context, r sampler.Round) error {
	var sampleID any
	if r.Admission.Retained {
		sampleID = r.Admission.Sample.ID
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO rounds
		(id, policy, label, bytes, simulated, submitted, score, admitted, retained, sample_id, evicted, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		string(r.Policy),
		r.Label,
		r.Bytes,
		r.Simulated(),
		boolInt(r.Submitted),
		r.Admission.Score,
		boolInt(r.Admission.Admitted),
		boolInt(r.Admission.Retained),
		sampleID,
		len(r.Admission.Evicted),
		formatTime(r.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("write round %s: %w", r.ID, err)
	}
	return nil
}

// WriteDerivation records a derivation and its ordered source blocks in one
// transaction. A record whose ID is already journaled is ignored.
func (j *Journal) WriteDerivation(ctx context.Context, rec keyderive.Record) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write derivation %s: begin: %w", rec.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO derivations (id, method, key_bits, derived_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, string(rec.Method), rec.KeyBits, formatTime(rec.DerivedAt))
	if err != nil {
		return fmt.Errorf("write derivation %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for i, b := range rec.SourceBlocks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO derivation_blocks
			(derivation_id, position, sample_id, score, source, captured_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, rec.ID, i, b.SampleID, b.Score, b.SourceLabel, formatTime(b.CapturedAt))
		if err != nil {
			return fmt.Errorf("write derivation %s: block %d: %w", rec.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write derivation %s: commit: %w", rec.ID, err)
	}
	return nil
}

package journal

import (
	"context"
	"fmt"

	"github.com/roach88/battery/internal/keyderive"
)

// Derivations returns journaled derivation records, newest first, with their
// blocks in concatenation order. limit <= 0 returns every record.
//
// Returns an empty slice (not nil) when nothing has been journaled.
func (j *Journal) Derivations(ctx context.Context, limit int) ([]keyderive.Record, error) {
	query := `
		SELECT id, method, key_bits, derived_at
		FROM derivations
		ORDER BY derived_at DESC, id COLLATE BINARY ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query derivations: %w", err)
	}
	defer rows.Close()

	records := []keyderive.Record{}
	for rows.Next() {
		var (
			rec       keyderive.Record
			method    string
			derivedAt string
		)
		if err := rows.Scan(&rec.ID, &method, &rec.KeyBits, &derivedAt); err != nil {
			return nil, fmt.Errorf("scan derivation: %w", err)
		}
		rec.Method = keyderive.Method(method)
		if rec.DerivedAt, err = parseTime(derivedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate derivations: %w", err)
	}
	// Blocks are read after rows is drained; the pool has one connection.
	rows.Close()

	for i := range records {
		blocks, err := j.readBlocks(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].SourceBlocks = blocks
	}
	return records, nil
}

func (j *Journal) readBlocks(ctx context.Context, derivationID string) ([]keyderive.SourceBlock, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT sample_id, score, source, captured_at
		FROM derivation_blocks
		WHERE derivation_id = ?
		ORDER BY position ASC
	`, derivationID)
	if err != nil {
		return nil, fmt.Errorf("query blocks of %s: %w", derivationID, err)
	}
	defer rows.Close()

	blocks := []keyderive.SourceBlock{}
	for rows.Next() {
		var (
			b          keyderive.SourceBlock
			capturedAt string
		)
		if err := rows.Scan(&b.SampleID, &b.Score, &b.SourceLabel, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan block of %s: %w", derivationID, err)
		}
		if b.CapturedAt, err = parseTime(capturedAt); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks of %s: %w", derivationID, err)
	}
	return blocks, nil
}

// RoundCount returns the number of journaled rounds.
func (j *Journal) RoundCount(ctx context.Context) (int, error) {
	return j.count(ctx, "SELECT COUNT(*) FROM rounds")
}

// AdmittedCount returns the number of journaled rounds whose block met the
// threshold.
func (j *Journal) AdmittedCount(ctx context.Context) (int, error) {
	return j.count(ctx, "SELECT COUNT(*) FROM rounds WHERE admitted = 1")
}

func (j *Journal) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

package battery

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"math"
	"time"
)

// Export is the inspection view of the store: every retained sample with
// its raw bytes base64-encoded. It is meant for logging and debugging, not
// for security-sensitive storage.
type Export struct {
	Samples []ExportedSample `json:"samples"`
}

// ExportedSample is one entry of Export.
type ExportedSample struct {
	ID         string    `json:"id"`
	Score      float64   `json:"score"`
	CapturedAt time.Time `json:"captured_at"`
	Source     string    `json:"source"`
	Data       string    `json:"data"`
}

// RoundScore rounds a score to 4 decimal places for display.
func RoundScore(score float64) float64 {
	return math.Round(score*1e4) / 1e4
}

// Export builds the audit export from a snapshot of the store.
func (s *Store) Export() Export {
	snapshot := s.Snapshot()
	out := Export{Samples: make([]ExportedSample, 0, len(snapshot))}
	for _, sample := range snapshot {
		out.Samples = append(out.Samples, ExportedSample{
			ID:         sample.ID,
			Score:      RoundScore(sample.Score),
			CapturedAt: sample.CapturedAt,
			Source:     sample.SourceLabel,
			Data:       base64.StdEncoding.EncodeToString(sample.Data),
		})
	}
	return out
}

// WriteExport encodes e as indented JSON.
func WriteExport(w io.Writer, e Export) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

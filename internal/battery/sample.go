package battery

import (
	"bytes"
	"time"
)

// Sample is one retained block of raw noise.
//
// Samples are immutable once constructed: Score is always entropy.Score(Data)
// and the store never modifies Data after admission.
type Sample struct {
	// ID uniquely identifies the sample (UUIDv7 by default).
	ID string

	// Data is the raw byte block. Never empty.
	Data []byte

	// Score is the Shannon entropy of Data in bits per byte.
	Score float64

	// CapturedAt is the admission time. Non-decreasing across admissions.
	CapturedAt time.Time

	// SourceLabel records provenance, e.g.
	// "composite_real+fallback(screen+ram_fallback)".
	SourceLabel string
}

// Ref describes a sample without its raw bytes.
type Ref struct {
	ID          string
	Score       float64
	SourceLabel string
	CapturedAt  time.Time
}

// Ref returns the byte-free description of s.
func (s Sample) Ref() Ref {
	return Ref{
		ID:          s.ID,
		Score:       s.Score,
		SourceLabel: s.SourceLabel,
		CapturedAt:  s.CapturedAt,
	}
}

// clone returns a copy of s that shares no memory with it.
func (s Sample) clone() Sample {
	s.Data = bytes.Clone(s.Data)
	return s
}

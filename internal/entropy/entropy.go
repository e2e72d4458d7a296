// Package entropy scores byte blocks for statistical randomness.
//
// The score is the empirical Shannon entropy of the block's byte-value
// histogram, in bits per byte. A block made of a single repeated byte scores
// 0; a block in which all 256 byte values occur equally often scores 8.
package entropy

import (
	"errors"
	"math"
)

// MaxScore is the upper bound of Score for an 8-bit alphabet.
const MaxScore = 8.0

// ErrInvalidInput is returned when entropy is undefined for the input.
var ErrInvalidInput = errors.New("entropy: empty input")

// Score returns the Shannon entropy of data in bits per byte.
//
// Score is pure and deterministic. It fails with ErrInvalidInput for an
// empty block.
func Score(data []byte) (float64, error) {
	if len(data) == 0 {
		return 0, ErrInvalidInput
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	total := float64(len(data))
	var h float64
	for _, n := range counts {
		if n == 0 {
			continue
		}
		p := float64(n) / total
		h -= p * math.Log2(p)
	}

	// Accumulated rounding can step a hair outside the range.
	return math.Max(0, math.Min(h, MaxScore)), nil
}

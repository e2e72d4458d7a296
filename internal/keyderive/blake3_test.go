//go:build !noblake3

package keyderive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/roach88/battery/internal/battery"
)

func TestDerive_BLAKE3(t *testing.T) {
	require.True(t, Available(BLAKE3))

	data := ramp(9, 512)
	samples := []battery.Sample{sample("a", 8, data)}

	key, rec, err := newTestDeriver().Derive(samples, Params{Method: BLAKE3, TopN: 1, KeyLength: 48})
	require.NoError(t, err)

	h := blake3.New()
	h.Write(data)
	want := make([]byte, 48)
	_, err = h.Digest().Read(want)
	require.NoError(t, err)

	assert.Equal(t, want, key)
	assert.Equal(t, BLAKE3, rec.Method)
	assert.Equal(t, 384, rec.KeyBits)
}

package source

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"sync"
)

// accelSigma is the standard deviation of simulated accelerometer/gyro axes.
const accelSigma = 0.5

// Simulator generates noise shaped like each catalog source.
//
// The generator is seeded so that sampling runs are reproducible in tests.
// It is not a cryptographic generator; simulated blocks only stand in for
// unavailable hardware and still have to pass the store's entropy threshold.
//
// Thread-safety: Simulator is safe for concurrent use.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a Simulator seeded with seed.
func NewSimulator(seed uint64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate returns one simulated block for id. The block length always
// equals the catalog length for id.
func (s *Simulator) Generate(id ID) ([]byte, error) {
	spec, ok := Lookup(id)
	if !ok {
		return nil, unsupported(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch id {
	case Screen, ScreenPartial, RAM, KernelEntropyPool:
		// RGB pixels and memory/pool contents: uniform bytes.
		return s.uniform(spec.Length), nil
	case Audio, ADCNoise:
		return s.signed(spec.Length), nil
	case AccelGyro:
		return s.normalFloat32(spec.Length/4, accelSigma), nil
	default:
		return nil, unsupported(id)
	}
}

func (s *Simulator) uniform(n int) []byte {
	buf := make([]byte, n)
	for i := 0; i < n; i += 8 {
		var word [8]byte
		binary.LittleEndian.PutUint64(word[:], s.rng.Uint64())
		copy(buf[i:], word[:])
	}
	return buf
}

// signed returns int8 samples in [-128, 126].
func (s *Simulator) signed(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(int8(s.rng.IntN(255) - 128))
	}
	return buf
}

// normalFloat32 returns count little-endian float32 values drawn from
// N(0, sigma).
func (s *Simulator) normalFloat32(count int, sigma float64) []byte {
	buf := make([]byte, count*4)
	for i := 0; i < count; i++ {
		v := float32(s.rng.NormFloat64() * sigma)
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Package source acquires raw noise bytes from the catalog of sources.
//
// Two paths exist for every source:
//
//   - Reader.Acquire attempts a real read from the source's backing device.
//     Reads are rate-limited per source and bounded by a timeout; every fault
//     resolves to ErrUnavailable, which is a signal, not a failure.
//   - Simulator.Generate produces a statistically noisy block with the same
//     length and shape as the real source (pixel bytes, signed audio
//     samples, float32 accelerometer triples).
//
// Callers try the real path first and fall back to simulation on
// ErrUnavailable. Only ErrUnsupportedSource is fatal: the ID is not in the
// catalog and nothing can stand in for it.
//
// # Rate limiting
//
// The Reader owns a last-successful-read timestamp per source. A real read
// attempted within MinInterval of that timestamp is skipped. At most one real
// read per source is in flight at a time; a concurrent attempt for the same
// source resolves to ErrUnavailable instead of queuing behind it.
package source

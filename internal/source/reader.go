package source

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/roach88/battery/internal/clock"
)

// Defaults for Reader.
const (
	DefaultMinInterval = 50 * time.Millisecond
	DefaultReadTimeout = 250 * time.Millisecond
)

// Causes wrapped in ErrUnavailable when no read was attempted.
var (
	ErrNoDevice    = errors.New("no real device")
	ErrRateLimited = errors.New("rate limited")
	ErrBusy        = errors.New("read already in flight")
)

// Reader performs rate-limited real reads from source devices.
//
// Thread-safety: Reader is safe for concurrent use. Rate-limit state and the
// in-flight flag for a source are only changed under mu, so two concurrent
// attempts for the same source never both reach the device.
type Reader struct {
	mu          sync.Mutex
	devices     map[ID]Device
	lastSuccess map[ID]time.Time
	inFlight    map[ID]bool

	minInterval time.Duration
	readTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithMinInterval sets the minimum spacing between successful real reads of
// one source.
func WithMinInterval(d time.Duration) Option {
	return func(r *Reader) { r.minInterval = d }
}

// WithReadTimeout bounds each real read. Zero disables the bound; the
// caller's context still applies.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Reader) { r.readTimeout = d }
}

// WithClock sets the clock used for rate limiting (for testing).
func WithClock(c clock.Clock) Option {
	return func(r *Reader) { r.clock = c }
}

// WithDevices replaces the whole device table.
func WithDevices(devices map[ID]Device) Option {
	return func(r *Reader) { r.devices = maps.Clone(devices) }
}

// WithDevice sets the device for one source. A nil device removes it.
func WithDevice(id ID, dev Device) Option {
	return func(r *Reader) {
		if dev == nil {
			delete(r.devices, id)
			return
		}
		if r.devices == nil {
			r.devices = make(map[ID]Device)
		}
		r.devices[id] = dev
	}
}

// WithLogger sets the logger for read diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// NewReader creates a Reader over DefaultDevices with default limits.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		devices:     DefaultDevices(),
		lastSuccess: make(map[ID]time.Time),
		inFlight:    make(map[ID]bool),
		minInterval: DefaultMinInterval,
		readTimeout: DefaultReadTimeout,
		clock:       clock.System{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.devices == nil {
		r.devices = make(map[ID]Device)
	}
	return r
}

// Acquire reads up to maxBytes from the real device behind id.
//
// maxBytes <= 0 means the catalog length. Any fault, rate-limit skip,
// timeout or cancellation returns an error wrapping ErrUnavailable. IDs
// outside the catalog return ErrUnsupportedSource.
func (r *Reader) Acquire(ctx context.Context, id ID, maxBytes int) ([]byte, error) {
	spec, ok := Lookup(id)
	if !ok {
		return nil, unsupported(id)
	}
	if maxBytes <= 0 {
		maxBytes = spec.Length
	}

	dev, started, err := r.reserve(id)
	if err != nil {
		return nil, err
	}

	data, err := r.read(ctx, id, dev, started, maxBytes)
	if err != nil {
		r.logger.Debug("real read unavailable", "source", id, "error", err)
		return nil, unavailable(id, err)
	}
	return data, nil
}

// LastSuccess returns the time of the last successful real read of id.
func (r *Reader) LastSuccess(id ID) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastSuccess[id]
	return t, ok
}

// HasDevice reports whether id has a real device configured.
func (r *Reader) HasDevice(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[id] != nil
}

// reserve checks the rate limit and marks id in flight.
func (r *Reader) reserve(id ID) (Device, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.devices[id]
	if dev == nil {
		return nil, time.Time{}, unavailable(id, ErrNoDevice)
	}
	if r.inFlight[id] {
		return nil, time.Time{}, unavailable(id, ErrBusy)
	}
	now := r.clock.Now()
	if last, ok := r.lastSuccess[id]; ok && now.Sub(last) < r.minInterval {
		return nil, time.Time{}, unavailable(id, ErrRateLimited)
	}
	r.inFlight[id] = true
	return dev, now, nil
}

func (r *Reader) release(id ID, started time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
	if ok {
		r.lastSuccess[id] = started
	}
}

// read runs dev.Read under the read timeout. A device that ignores ctx is
// abandoned when ctx ends, but id stays in flight until dev.Read returns, so
// a stalled device is never read twice at once.
func (r *Reader) read(ctx context.Context, id ID, dev Device, started time.Time, n int) ([]byte, error) {
	var cancel context.CancelFunc
	if r.readTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.readTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := dev.Read(ctx, n)
		if err == nil && len(data) < n {
			err = ErrShortRead
		}
		r.release(id, started, err == nil)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.data[:n], nil
	}
}

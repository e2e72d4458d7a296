package source

import (
	"context"
	"io"
	"os"
)

// Device is a real backing device for a source.
//
// Read returns exactly n bytes or an error. Implementations should honour
// ctx; the Reader additionally abandons reads that outlive it.
type Device interface {
	Read(ctx context.Context, n int) ([]byte, error)
}

// DeviceFunc adapts a function to the Device interface.
type DeviceFunc func(ctx context.Context, n int) ([]byte, error)

// Read calls f(ctx, n).
func (f DeviceFunc) Read(ctx context.Context, n int) ([]byte, error) {
	return f(ctx, n)
}

// FileDevice reads from a character device or file such as /dev/fb0.
// Each read opens the path afresh so a device that appears or disappears at
// runtime is picked up on the next attempt.
type FileDevice struct {
	Path string
}

// Read opens the device and reads n bytes from its start. Cancelling ctx
// closes the file, which unblocks reads on pollable devices.
func (d FileDevice) Read(ctx context.Context, n int) ([]byte, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer func() {
		if stop() {
			_ = f.Close()
		}
	}()

	buf := make([]byte, n)
	m, err := io.ReadFull(f, buf)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return buf[:m], ErrShortRead
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// DefaultDevices returns the device table used when none is injected.
// Sources whose catalog entry has no device are absent from the table.
func DefaultDevices() map[ID]Device {
	devices := make(map[ID]Device)
	for _, s := range catalog {
		if s.Device != "" {
			devices[s.ID] = FileDevice{Path: s.Device}
		}
	}
	return devices
}

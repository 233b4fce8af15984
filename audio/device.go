package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrDeviceBusy is returned by an exclusive device that is already capturing.
var ErrDeviceBusy = errors.New("capture device busy")

// Device opens captures on an audio input.
type Device interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture buffers audio until it is stopped or closed. Exactly one of Stop
// or Close releases the underlying device; later calls are no-ops.
type Capture interface {
	// Stop finalizes the buffered chunks into one Source.
	Stop() (Source, error)
	// Close discards the buffered audio.
	Close() error
}

// Exclusive wraps a device so only one capture can be open at a time.
func Exclusive(inner Device) Device {
	return &exclusiveDevice{inner: inner}
}

type exclusiveDevice struct {
	inner Device
	mu    sync.Mutex
	busy  bool
}

func (d *exclusiveDevice) Open(ctx context.Context) (Capture, error) {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	d.busy = true
	d.mu.Unlock()

	c, err := d.inner.Open(ctx)
	if err != nil {
		d.release()
		return nil, err
	}
	return &exclusiveCapture{inner: c, release: d.release}, nil
}

func (d *exclusiveDevice) release() {
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}

type exclusiveCapture struct {
	inner   Capture
	once    sync.Once
	release func()
}

func (c *exclusiveCapture) Stop() (Source, error) {
	defer c.once.Do(c.release)
	return c.inner.Stop()
}

func (c *exclusiveCapture) Close() error {
	defer c.once.Do(c.release)
	return c.inner.Close()
}

// Package mock provides scripted in-memory implementations of the audio
// device interfaces for tests and for running the pipeline without sound
// hardware.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// Backend hands out scripted capture devices and recording playback devices.
//
// Script chunks are delivered to the capture callback in order when the
// device is started. With a zero Interval the whole script is delivered
// synchronously from Start, which keeps tests deterministic; a positive
// Interval paces delivery in real time for manual runs.
type Backend struct {
	mu sync.Mutex

	// Script is the PCM delivered by capture devices, one callback
	// invocation per element.
	Script [][]byte

	// Interval is the wall-clock pause between script chunks. Zero delivers
	// the entire script synchronously.
	Interval time.Duration

	// OpenCaptureErr, when set, is returned by OpenCapture.
	OpenCaptureErr error

	// OpenPlaybackErr, when set, is returned by OpenPlayback.
	OpenPlaybackErr error

	captures  []*CaptureDevice
	playbacks []*PlaybackDevice
	closed    bool
}

var _ audio.Backend = (*Backend)(nil)

// OpenCapture returns a scripted capture device. The script and interval are
// snapshotted at open time.
func (b *Backend) OpenCapture(cfg audio.CaptureConfig, cb audio.DataCallback) (audio.CaptureDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenCaptureErr != nil {
		return nil, b.OpenCaptureErr
	}
	dev := &CaptureDevice{
		script:   append([][]byte(nil), b.Script...),
		interval: b.Interval,
		cb:       cb,
	}
	b.captures = append(b.captures, dev)
	return dev, nil
}

// OpenPlayback returns a recording playback device.
func (b *Backend) OpenPlayback(format audio.Format) (audio.PlaybackDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenPlaybackErr != nil {
		return nil, b.OpenPlaybackErr
	}
	dev := &PlaybackDevice{Format: format}
	b.playbacks = append(b.playbacks, dev)
	return dev, nil
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Playbacks returns every playback device opened from this backend.
func (b *Backend) Playbacks() []*PlaybackDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*PlaybackDevice(nil), b.playbacks...)
}

// ─── Capture ──────────────────────────────────────────────────────────────

// CaptureDevice replays its script through the data callback.
type CaptureDevice struct {
	mu       sync.Mutex
	script   [][]byte
	interval time.Duration
	cb       audio.DataCallback

	starts int
	stops  int
	closed bool
	cancel chan struct{}
}

var _ audio.CaptureDevice = (*CaptureDevice)(nil)

// Start delivers the script. Synchronous when the interval is zero.
func (d *CaptureDevice) Start() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("mock capture: closed")
	}
	d.starts++
	script := d.script
	interval := d.interval
	cb := d.cb
	cancel := make(chan struct{})
	d.cancel = cancel
	d.mu.Unlock()

	if interval <= 0 {
		for _, chunk := range script {
			cb(chunk)
		}
		return nil
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for _, chunk := range script {
			select {
			case <-cancel:
				return
			case <-ticker.C:
				cb(chunk)
			}
		}
	}()
	return nil
}

// Stop cancels paced delivery.
func (d *CaptureDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	if d.cancel != nil {
		close(d.cancel)
		d.cancel = nil
	}
	return nil
}

// Close stops delivery and marks the device closed.
func (d *CaptureDevice) Close() error {
	_ = d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Starts returns how many times Start was called.
func (d *CaptureDevice) Starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

// ─── Playback ─────────────────────────────────────────────────────────────

// PlaybackDevice records written PCM. By default WaitDrained returns as soon
// as it is called; set HoldDrain to make callers block until ReleaseDrain,
// which lets tests observe the draining window.
type PlaybackDevice struct {
	Format audio.Format

	// HoldDrain makes WaitDrained block until ReleaseDrain is called.
	HoldDrain bool

	// WriteErr, when set, is returned by Write.
	WriteErr error

	mu      sync.Mutex
	written []byte
	writes  int
	stops   int
	closed  bool
	release chan struct{}
}

var _ audio.PlaybackDevice = (*PlaybackDevice)(nil)

// Write appends pcm to the recording.
func (d *PlaybackDevice) Write(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteErr != nil {
		return d.WriteErr
	}
	if d.closed {
		return errors.New("mock playback: closed")
	}
	d.written = append(d.written, pcm...)
	d.writes++
	return nil
}

// WaitDrained returns immediately unless HoldDrain is set, in which case it
// blocks until ReleaseDrain or context cancellation.
func (d *PlaybackDevice) WaitDrained(ctx context.Context) error {
	d.mu.Lock()
	if !d.HoldDrain {
		d.mu.Unlock()
		return ctx.Err()
	}
	if d.release == nil {
		d.release = make(chan struct{})
	}
	release := d.release
	d.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseDrain unblocks all pending and future WaitDrained calls.
func (d *PlaybackDevice) ReleaseDrain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.release == nil {
		d.release = make(chan struct{})
	}
	select {
	case <-d.release:
	default:
		close(d.release)
	}
	d.HoldDrain = false
}

// Stop records the call and discards the recording.
func (d *PlaybackDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	d.written = nil
	return nil
}

// Close marks the device closed.
func (d *PlaybackDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Written returns a copy of all PCM written so far.
func (d *PlaybackDevice) Written() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.written...)
}

// Writes returns the number of Write calls.
func (d *PlaybackDevice) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// Stops returns the number of Stop calls.
func (d *PlaybackDevice) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

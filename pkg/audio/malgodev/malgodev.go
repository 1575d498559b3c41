// Package malgodev implements the audio.Backend interface on top of the
// malgo (miniaudio) library, giving the pipeline access to the operating
// system's default capture and playback devices.
package malgodev

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// Backend wraps a malgo context. Create one with New and release it with
// Close after all opened devices are closed.
type Backend struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger
}

var _ audio.Backend = (*Backend)(nil)

// New initializes the platform audio context.
func New(logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug("malgo", "message", msg)
	})
	if err != nil {
		return nil, &audio.DeviceError{Op: "init context", Err: err}
	}
	return &Backend{ctx: ctx, logger: logger}, nil
}

// OpenCapture opens the default input device in signed 16-bit PCM at the
// requested format. cb receives raw PCM buffers on the device thread.
func (b *Backend) OpenCapture(cfg audio.CaptureConfig, cb audio.DataCallback) (audio.CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Format.Channels)
	deviceConfig.SampleRate = uint32(cfg.Format.SampleRate)
	if cfg.FrameSize > 0 {
		deviceConfig.PeriodSizeInFrames = uint32(cfg.FrameSize)
	}

	cd := &captureDevice{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			if len(input) == 0 {
				return
			}
			cb(input)
		},
		Stop: func() {
			if cfg.OnStop != nil && !cd.expectedStop() {
				cfg.OnStop()
			}
		},
	}

	dev, err := malgo.InitDevice(b.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, &audio.DeviceError{Op: "open capture", Err: err}
	}
	cd.dev = dev
	b.logger.Info("capture device opened",
		"sample_rate", cfg.Format.SampleRate,
		"channels", cfg.Format.Channels)
	return cd, nil
}

// OpenPlayback opens the default output device in signed 16-bit PCM. Written
// audio is queued and consumed by the device thread at the hardware rate.
func (b *Backend) OpenPlayback(format audio.Format) (audio.PlaybackDevice, error) {
	pd := &playbackDevice{}
	pd.drained = sync.NewCond(&pd.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			pd.fill(output)
		},
	}

	dev, err := malgo.InitDevice(b.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, &audio.DeviceError{Op: "open playback", Err: err}
	}
	pd.dev = dev
	b.logger.Info("playback device opened",
		"sample_rate", format.SampleRate,
		"channels", format.Channels)
	return pd, nil
}

// Close releases the platform context.
func (b *Backend) Close() error {
	err := b.ctx.Uninit()
	b.ctx.Free()
	if err != nil {
		return &audio.DeviceError{Op: "close context", Err: err}
	}
	return nil
}

// ─── Capture ──────────────────────────────────────────────────────────────

type captureDevice struct {
	dev *malgo.Device

	mu       sync.Mutex
	stopping bool
	closed   bool
}

var _ audio.CaptureDevice = (*captureDevice)(nil)

func (c *captureDevice) Start() error {
	c.mu.Lock()
	c.stopping = false
	c.mu.Unlock()
	if err := c.dev.Start(); err != nil {
		return &audio.DeviceError{Op: "start capture", Err: err}
	}
	return nil
}

func (c *captureDevice) Stop() error {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	if err := c.dev.Stop(); err != nil {
		return &audio.DeviceError{Op: "stop capture", Err: err}
	}
	return nil
}

func (c *captureDevice) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.closed = true
	c.mu.Unlock()
	c.dev.Uninit()
	return nil
}

// expectedStop reports whether a stop notification was caused by our own
// Stop or Close rather than a device failure.
func (c *captureDevice) expectedStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping || c.closed
}

// ─── Playback ─────────────────────────────────────────────────────────────

type playbackDevice struct {
	dev *malgo.Device

	mu      sync.Mutex
	pending []byte
	drained *sync.Cond
	started bool
	closed  bool
}

var _ audio.PlaybackDevice = (*playbackDevice)(nil)

// fill copies queued PCM into the device output buffer, zero-padding any
// remainder. Broadcasts to drain waiters when the queue empties. Runs on the
// device thread.
func (p *playbackDevice) fill(out []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(out, p.pending)
	p.pending = p.pending[n:]
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if len(p.pending) == 0 {
		p.pending = nil
		p.drained.Broadcast()
	}
}

func (p *playbackDevice) Write(pcm []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &audio.DeviceError{Op: "write playback", Err: errClosed}
	}
	p.pending = append(p.pending, pcm...)
	needStart := !p.started
	p.started = true
	p.mu.Unlock()

	if needStart {
		if err := p.dev.Start(); err != nil {
			return &audio.DeviceError{Op: "start playback", Err: err}
		}
	}
	return nil
}

func (p *playbackDevice) WaitDrained(ctx context.Context) error {
	// Wake the Cond waiter when the context fires. The watcher goroutine
	// exits once done is closed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.drained.Broadcast()
		case <-done:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) > 0 && !p.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.drained.Wait()
	}
	return ctx.Err()
}

func (p *playbackDevice) Stop() error {
	p.mu.Lock()
	p.pending = nil
	p.started = false
	p.drained.Broadcast()
	p.mu.Unlock()

	if err := p.dev.Stop(); err != nil {
		return &audio.DeviceError{Op: "stop playback", Err: err}
	}
	return nil
}

func (p *playbackDevice) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.pending = nil
	p.drained.Broadcast()
	p.mu.Unlock()

	p.dev.Uninit()
	return nil
}

var errClosed = fmt.Errorf("device closed")

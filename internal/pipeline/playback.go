package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/synth"
)

// DefaultSettle is the pause after playback drains before listening resumes,
// covering room reverb and device output latency so the assistant does not
// capture the tail of its own speech.
const DefaultSettle = 300 * time.Millisecond

// PlaybackSink plays a synthesis stream to an output device, chunk by chunk,
// then waits for the device to drain and the room to settle.
type PlaybackSink struct {
	dev    audio.PlaybackDevice
	settle time.Duration
	logger *slog.Logger
}

// NewSink wraps a playback device. A non-positive settle uses DefaultSettle.
func NewSink(dev audio.PlaybackDevice, settle time.Duration, logger *slog.Logger) (*PlaybackSink, error) {
	if dev == nil {
		return nil, errors.New("pipeline: playback device is required")
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackSink{dev: dev, settle: settle, logger: logger}, nil
}

// SetSettle updates the post-drain pause.
func (s *PlaybackSink) SetSettle(settle time.Duration) {
	if settle > 0 {
		s.settle = settle
	}
}

// Play writes every chunk of the stream to the device as it arrives, then
// blocks until the device reports all audio played and the settle pause has
// elapsed. On a mid-stream synthesis error or cancellation, queued audio is
// discarded and the remaining chunks are drained so the provider's goroutine
// can exit.
func (s *PlaybackSink) Play(ctx context.Context, stream synth.Stream) error {
	chunks := stream.Chunks()
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(chunks)
			_ = s.dev.Stop()
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				if err := stream.Err(); err != nil {
					_ = s.dev.Stop()
					return fmt.Errorf("pipeline: synthesis stream: %w", err)
				}
				return s.drain(ctx)
			}
			if err := s.dev.Write(chunk); err != nil {
				go audio.Drain(chunks)
				_ = s.dev.Stop()
				return fmt.Errorf("pipeline: playback write: %w", err)
			}
		}
	}
}

// drain waits for queued audio to finish playing, then for the settle pause.
func (s *PlaybackSink) drain(ctx context.Context) error {
	if err := s.dev.WaitDrained(ctx); err != nil {
		_ = s.dev.Stop()
		return fmt.Errorf("pipeline: playback drain: %w", err)
	}

	timer := time.NewTimer(s.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

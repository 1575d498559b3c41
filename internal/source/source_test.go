package source

import (
	"errors"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/audio/mock"
)

var pipelineFormat = audio.Format{SampleRate: 16000, Channels: 1}

// chunk returns n bytes of 16kHz mono PCM filled with the marker byte.
func chunk(n int, marker byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = marker
	}
	return out
}

func TestSourceSlicesChunksIntoFrames(t *testing.T) {
	// 20ms at 16kHz mono is 640 bytes. Deliver 1600 bytes in two uneven
	// chunks; the source should emit two full frames and carry the rest.
	backend := &mock.Backend{Script: [][]byte{
		chunk(1000, 0x01),
		chunk(600, 0x02),
	}}

	s, err := New(Config{
		Backend:        backend,
		PipelineFormat: pipelineFormat,
		FrameDuration:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	var frames []audio.Frame
	for len(frames) < 2 {
		select {
		case f := <-s.Frames():
			frames = append(frames, f)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d frames", len(frames))
		}
	}

	for i, f := range frames {
		if len(f.Data) != 640 {
			t.Errorf("frame %d: %d bytes, want 640", i, len(f.Data))
		}
		if f.Duration() != 20*time.Millisecond {
			t.Errorf("frame %d: duration %v, want 20ms", i, f.Duration())
		}
	}
	if frames[0].Timestamp != 0 {
		t.Errorf("frame 0 timestamp = %v, want 0", frames[0].Timestamp)
	}
	if frames[1].Timestamp != 20*time.Millisecond {
		t.Errorf("frame 1 timestamp = %v, want 20ms", frames[1].Timestamp)
	}
}

func TestSourceConvertsDeviceFormat(t *testing.T) {
	// 48kHz stereo device, 16kHz mono pipeline. 40ms of device audio is
	// 1920 stereo frames = 7680 bytes, which converts to two 20ms frames.
	backend := &mock.Backend{Script: [][]byte{chunk(7680, 0x00)}}

	s, err := New(Config{
		Backend:        backend,
		DeviceFormat:   audio.Format{SampleRate: 48000, Channels: 2},
		PipelineFormat: pipelineFormat,
		FrameDuration:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	for i := range 2 {
		select {
		case f := <-s.Frames():
			if f.SampleRate != 16000 || f.Channels != 1 {
				t.Fatalf("frame %d format = %d/%d, want 16000/1", i, f.SampleRate, f.Channels)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestSourceDropsOldestWhenConsumerLags(t *testing.T) {
	// Script more frames than the channel holds, with no consumer running.
	script := make([][]byte, 10)
	for i := range script {
		script[i] = chunk(640, byte(i))
	}
	backend := &mock.Backend{Script: script}

	s, err := New(Config{
		Backend:        backend,
		PipelineFormat: pipelineFormat,
		FrameDuration:  20 * time.Millisecond,
		BufferFrames:   4,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if got := s.Dropped(); got != 6 {
		t.Fatalf("dropped = %d, want 6", got)
	}

	// The retained frames are the newest ones.
	f := <-s.Frames()
	if f.Data[0] != 6 {
		t.Fatalf("oldest retained marker = %d, want 6", f.Data[0])
	}
}

func TestSourceReportsDeviceStop(t *testing.T) {
	backend := &mock.Backend{}
	s, err := New(Config{
		Backend:        backend,
		PipelineFormat: pipelineFormat,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	s.reportErr(&audio.DeviceError{Op: "capture", Err: errDeviceStopped})

	select {
	case err := <-s.Errors():
		var devErr *audio.DeviceError
		if !errors.As(err, &devErr) {
			t.Fatalf("error type = %T, want *audio.DeviceError", err)
		}
	default:
		t.Fatal("no error delivered")
	}
}

// Package elevenlabs provides speech synthesis backed by the ElevenLabs
// streaming WebSocket API. It implements the synth.Provider interface.
//
// Synthesis is streamed: the WebSocket starts returning base64-encoded PCM
// chunks while the tail of the reply is still being generated, so playback
// can begin well before synthesis completes.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/synth"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	// chunkBuf is the buffer depth of the stream's chunk channel.
	chunkBuf = 256
)

// Compile-time interface assertion.
var _ synth.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the raw PCM output format (e.g., "pcm_16000",
// "pcm_24000"). Only pcm_* formats are accepted; compressed formats cannot
// feed a playback device directly.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the API base URL, e.g. to target a proxy. Both ws://
// and http:// schemes are accepted.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// Provider implements synth.Provider backed by the ElevenLabs streaming API.
// It is safe for concurrent use; each Synthesize call opens its own
// WebSocket connection.
type Provider struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
	baseURL      string
}

// New creates a new ElevenLabs Provider. apiKey and voiceID must be
// non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	if pcmRate(p.outputFormat) <= 0 {
		return nil, fmt.Errorf("elevenlabs: unsupported output format %q, want pcm_<rate>", p.outputFormat)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text value flushes the stream and marks end of input.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends the text, and returns a
// stream emitting raw PCM chunks as they arrive.
//
// A non-nil error means the connection or handshake failed; failures after
// the stream starts surface through Stream.Err once the chunk channel closes.
func (p *Provider) Synthesize(ctx context.Context, text string) (synth.Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

	// BOI message to authenticate and configure the stream, then the full
	// text, then an empty-text flush marking end of input. Audio arrives on
	// the read side while these are in flight.
	boi := boiMessage{
		Text:          " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: vs,
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	textBytes, _ := json.Marshal(textMessage{Text: text, VoiceSettings: vs})
	flushBytes, _ := json.Marshal(textMessage{Text: ""})

	for _, payload := range [][]byte{boiBytes, textBytes, flushBytes} {
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			conn.Close(websocket.StatusInternalError, "failed to send input")
			return nil, fmt.Errorf("elevenlabs: send input: %w", err)
		}
	}

	s := &stream{chunks: make(chan []byte, chunkBuf)}

	go func() {
		defer close(s.chunks)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				switch {
				case ctx.Err() != nil:
					s.setErr(ctx.Err())
				case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
					// Server finished without an explicit isFinal marker.
				default:
					s.setErr(fmt.Errorf("elevenlabs: read audio: %w", err))
				}
				return
			}

			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil && len(pcm) > 0 {
					select {
					case s.chunks <- pcm:
					case <-ctx.Done():
						s.setErr(ctx.Err())
						return
					}
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return s, nil
}

// Format reports the PCM format matching the configured output_format.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: pcmRate(p.outputFormat), Channels: 1}
}

// streamURL constructs the WebSocket URL for the configured voice and model.
func (p *Provider) streamURL() string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s",
		p.baseURL, url.PathEscape(p.voiceID), url.QueryEscape(p.model))
}

// pcmRate extracts the sample rate from a pcm_<rate> format string. Returns
// 0 for anything else.
func pcmRate(format string) int {
	var rate int
	if n, err := fmt.Sscanf(format, "pcm_%d", &rate); err != nil || n != 1 || rate <= 0 {
		return 0
	}
	return rate
}

// ---- stream ----

type stream struct {
	chunks chan []byte

	mu  sync.Mutex
	err error
}

var _ synth.Stream = (*stream)(nil)

func (s *stream) Chunks() <-chan []byte { return s.chunks }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

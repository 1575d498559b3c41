// Package config provides the configuration schema, loader, and provider
// registry for the earshot voice assistant.
package config

import (
	"time"

	"github.com/earshot-ai/earshot/internal/pipeline"
	"github.com/earshot-ai/earshot/internal/recorder"
	"github.com/earshot-ai/earshot/internal/wakeword"
)

// LogLevel controls log verbosity for the assistant.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Scorer selects the wake-word confirmation strategy.
type Scorer string

const (
	// ScorerPhrase transcribes the detection window and fuzzy-matches the
	// transcript against the wake phrase.
	ScorerPhrase Scorer = "phrase"

	// ScorerTemplate correlates the window's energy envelope against a
	// recorded reference utterance.
	ScorerTemplate Scorer = "template"
)

// IsValid reports whether s is a recognised scorer.
func (s Scorer) IsValid() bool {
	return s == ScorerPhrase || s == ScorerTemplate
}

// Backend selects the audio device backend.
type Backend string

const (
	// BackendMalgo uses real capture and playback devices via miniaudio.
	BackendMalgo Backend = "malgo"

	// BackendMock uses scriptable in-memory devices, for development
	// machines without audio hardware.
	BackendMock Backend = "mock"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	return b == BackendMalgo || b == BackendMock
}

// Config is the root configuration structure for earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Wakeword  WakewordConfig  `yaml:"wakeword"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds settings for the admin HTTP server and logging.
type ServerConfig struct {
	// ListenAddr is the TCP address the admin server (health, metrics)
	// listens on (e.g., ":8080"). Empty disables the admin server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the admin server. When nil, plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	Transcribe ProviderEntry `yaml:"transcribe"`
	Respond    ProviderEntry `yaml:"respond"`
	Synth      ProviderEntry `yaml:"synth"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "whisper", "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. For local
	// servers (whisper.cpp, Coqui) this is the server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o-mini", "eleven_flash_v2_5").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above. Values may be strings, numbers, booleans,
	// or nested maps.
	Options map[string]any `yaml:"options"`
}

// AudioConfig holds capture device settings.
type AudioConfig struct {
	// Backend selects the device backend. Defaults to "malgo".
	Backend Backend `yaml:"backend"`

	// SampleRate is the capture device sample rate in Hz. Defaults to
	// 16000. Devices that only open at other rates are resampled to the
	// pipeline rate.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count (1 or 2). Defaults to 1.
	Channels int `yaml:"channels"`

	// FrameMs is the pipeline frame duration in milliseconds. Defaults
	// to 20.
	FrameMs int `yaml:"frame_ms"`

	// BufferFrames is the capture channel depth before old frames are
	// dropped. Defaults to 64.
	BufferFrames int `yaml:"buffer_frames"`
}

// WakewordConfig holds the wake phrase and detection tunables. Zero values
// fall back to the detector's defaults.
type WakewordConfig struct {
	// Phrase is the wake phrase (e.g., "hey sparrow"). Changing it
	// requires a restart; the confirmation scorer is built around it.
	Phrase string `yaml:"phrase"`

	// Scorer selects the confirmation strategy. Defaults to "phrase".
	Scorer Scorer `yaml:"scorer"`

	// TemplatePath points at a reference utterance (raw 16-bit mono PCM
	// at the pipeline rate) used when Scorer is "template".
	TemplatePath string `yaml:"template_path"`

	// Threshold is the confirmation confidence threshold in (0, 1].
	Threshold float64 `yaml:"threshold"`

	// WindowMs is the analysis window length in milliseconds.
	WindowMs int `yaml:"window_ms"`

	// OverlapMs is how much trailing audio carries over between windows.
	OverlapMs int `yaml:"overlap_ms"`

	// EnergyThreshold is the stage-1 RMS gate in 16-bit sample units.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// ZCRMin and ZCRMax bound the zero-crossing rate band treated as
	// speech.
	ZCRMin float64 `yaml:"zcr_min"`
	ZCRMax float64 `yaml:"zcr_max"`

	// VoicedRatio is the fraction of voiced frames a window needs before
	// the scorer runs.
	VoicedRatio float64 `yaml:"voiced_ratio"`
}

// Tuning converts the wake-word settings to detector tunables. Zero values
// pass through so the detector fills in its defaults.
func (w WakewordConfig) Tuning() wakeword.Tuning {
	return wakeword.Tuning{
		Threshold:       w.Threshold,
		Window:          time.Duration(w.WindowMs) * time.Millisecond,
		Overlap:         time.Duration(w.OverlapMs) * time.Millisecond,
		EnergyThreshold: w.EnergyThreshold,
		ZCRMin:          w.ZCRMin,
		ZCRMax:          w.ZCRMax,
		VoicedRatio:     w.VoicedRatio,
	}
}

// RecorderConfig holds command capture tunables. Zero values fall back to
// the recorder's defaults.
type RecorderConfig struct {
	// MaxDurationMs is the hard cap on a captured command.
	MaxDurationMs int `yaml:"max_duration_ms"`

	// GracePeriodMs is how long after capture starts before silence can
	// end it.
	GracePeriodMs int `yaml:"grace_period_ms"`

	// SilenceDurationMs is the trailing silence that ends a capture.
	SilenceDurationMs int `yaml:"silence_duration_ms"`

	// SilenceThreshold is the RMS level below which a frame counts as
	// silent, in 16-bit sample units.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MinDurationMs is the shortest segment worth transcribing.
	MinDurationMs int `yaml:"min_duration_ms"`
}

// RecorderSettings converts to the recorder's config type. Zero values pass
// through so the recorder fills in its defaults.
func (r RecorderConfig) RecorderSettings() recorder.Config {
	return recorder.Config{
		MaxDuration:      time.Duration(r.MaxDurationMs) * time.Millisecond,
		GracePeriod:      time.Duration(r.GracePeriodMs) * time.Millisecond,
		SilenceDuration:  time.Duration(r.SilenceDurationMs) * time.Millisecond,
		SilenceThreshold: r.SilenceThreshold,
		MinDuration:      time.Duration(r.MinDurationMs) * time.Millisecond,
	}
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	// SystemPrompt is injected into every response generation request.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryLimit caps how many past exchanges feed into response
	// generation. Defaults to 8.
	HistoryLimit int `yaml:"history_limit"`

	// Per-stage timeouts in milliseconds. Zero values fall back to the
	// pipeline defaults.
	TranscribeTimeoutMs int `yaml:"transcribe_timeout_ms"`
	RespondTimeoutMs    int `yaml:"respond_timeout_ms"`
	SynthesizeTimeoutMs int `yaml:"synthesize_timeout_ms"`

	// SettleMs is the pause after playback drains before listening
	// resumes, so the assistant does not hear its own tail. Defaults
	// to 300.
	SettleMs int `yaml:"settle_ms"`
}

// Timeouts converts the per-stage timeout settings to pipeline timeouts.
// Zero values are replaced by the pipeline defaults.
func (p PipelineConfig) Timeouts() pipeline.Timeouts {
	t := pipeline.DefaultTimeouts()
	if p.TranscribeTimeoutMs > 0 {
		t.Transcribe = time.Duration(p.TranscribeTimeoutMs) * time.Millisecond
	}
	if p.RespondTimeoutMs > 0 {
		t.Respond = time.Duration(p.RespondTimeoutMs) * time.Millisecond
	}
	if p.SynthesizeTimeoutMs > 0 {
		t.Synthesize = time.Duration(p.SynthesizeTimeoutMs) * time.Millisecond
	}
	return t
}

// Settle returns the configured settle pause, or the pipeline default when
// unset.
func (p PipelineConfig) Settle() time.Duration {
	if p.SettleMs > 0 {
		return time.Duration(p.SettleMs) * time.Millisecond
	}
	return pipeline.DefaultSettle
}

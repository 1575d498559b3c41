package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcribe": {"whisper", "whisper-native", "openai"},
	"respond":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"synth":      {"elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("transcribe", cfg.Providers.Transcribe.Name)
	validateProviderName("respond", cfg.Providers.Respond.Name)
	validateProviderName("synth", cfg.Providers.Synth.Name)

	if cfg.Providers.Transcribe.Name == "" {
		errs = append(errs, errors.New("providers.transcribe.name is required"))
	}
	if cfg.Providers.Respond.Name == "" {
		errs = append(errs, errors.New("providers.respond.name is required"))
	}
	if cfg.Providers.Synth.Name == "" {
		errs = append(errs, errors.New("providers.synth.name is required"))
	}

	// Audio
	if cfg.Audio.Backend != "" && !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: malgo, mock", cfg.Audio.Backend))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameMs < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must not be negative", cfg.Audio.FrameMs))
	}

	// Wakeword
	w := cfg.Wakeword
	if strings.TrimSpace(w.Phrase) == "" {
		errs = append(errs, errors.New("wakeword.phrase is required"))
	}
	if w.Scorer != "" && !w.Scorer.IsValid() {
		errs = append(errs, fmt.Errorf("wakeword.scorer %q is invalid; valid values: phrase, template", w.Scorer))
	}
	if w.Scorer == ScorerTemplate && w.TemplatePath == "" {
		errs = append(errs, errors.New("wakeword.template_path is required when scorer is template"))
	}
	if w.Threshold < 0 || w.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wakeword.threshold %.2f is out of range (0, 1]", w.Threshold))
	}
	if w.WindowMs < 0 || w.OverlapMs < 0 {
		errs = append(errs, errors.New("wakeword.window_ms and wakeword.overlap_ms must not be negative"))
	}
	if w.WindowMs > 0 && w.OverlapMs >= w.WindowMs {
		errs = append(errs, fmt.Errorf("wakeword.overlap_ms %d must be shorter than window_ms %d", w.OverlapMs, w.WindowMs))
	}
	if w.ZCRMin < 0 || w.ZCRMax > 1 || (w.ZCRMax != 0 && w.ZCRMin >= w.ZCRMax) {
		errs = append(errs, fmt.Errorf("wakeword zcr band [%.2f, %.2f] is invalid; want 0 <= zcr_min < zcr_max <= 1", w.ZCRMin, w.ZCRMax))
	}
	if w.VoicedRatio < 0 || w.VoicedRatio > 1 {
		errs = append(errs, fmt.Errorf("wakeword.voiced_ratio %.2f is out of range [0, 1]", w.VoicedRatio))
	}

	// Recorder
	r := cfg.Recorder
	if r.MaxDurationMs < 0 || r.GracePeriodMs < 0 || r.SilenceDurationMs < 0 || r.MinDurationMs < 0 {
		errs = append(errs, errors.New("recorder durations must not be negative"))
	}
	if r.MaxDurationMs > 0 && r.GracePeriodMs > r.MaxDurationMs {
		errs = append(errs, fmt.Errorf("recorder.grace_period_ms %d must not exceed max_duration_ms %d", r.GracePeriodMs, r.MaxDurationMs))
	}
	if r.MaxDurationMs > 0 && r.MinDurationMs > r.MaxDurationMs {
		errs = append(errs, fmt.Errorf("recorder.min_duration_ms %d must not exceed max_duration_ms %d", r.MinDurationMs, r.MaxDurationMs))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("pipeline.history_limit %d must not be negative", p.HistoryLimit))
	}
	if p.TranscribeTimeoutMs < 0 || p.RespondTimeoutMs < 0 || p.SynthesizeTimeoutMs < 0 || p.SettleMs < 0 {
		errs = append(errs, errors.New("pipeline timeouts must not be negative"))
	}
	if p.SystemPrompt == "" {
		slog.Warn("pipeline.system_prompt is empty; replies will use the model's default persona")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

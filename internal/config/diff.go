package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are applied live; the rest are surfaced so the
// caller can log that a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WakewordChanged covers the detection tunables, which apply live via
	// the detector.
	WakewordChanged bool

	// PhraseChanged means the wake phrase or scorer setup changed. The
	// confirmation scorer is built at startup, so this needs a restart.
	PhraseChanged bool

	RecorderChanged bool
	TimeoutsChanged bool
	SettleChanged   bool

	// PromptChanged covers the system prompt and history limit, which
	// only affect future interactions and cannot be applied to a running
	// controller.
	PromptChanged bool
}

// Any reports whether the diff contains any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.WakewordChanged || d.PhraseChanged ||
		d.RecorderChanged || d.TimeoutsChanged || d.SettleChanged || d.PromptChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Wakeword.Tuning() != new.Wakeword.Tuning() {
		d.WakewordChanged = true
	}
	if old.Wakeword.Phrase != new.Wakeword.Phrase ||
		old.Wakeword.Scorer != new.Wakeword.Scorer ||
		old.Wakeword.TemplatePath != new.Wakeword.TemplatePath {
		d.PhraseChanged = true
	}

	if old.Recorder != new.Recorder {
		d.RecorderChanged = true
	}

	if old.Pipeline.Timeouts() != new.Pipeline.Timeouts() {
		d.TimeoutsChanged = true
	}
	if old.Pipeline.Settle() != new.Pipeline.Settle() {
		d.SettleChanged = true
	}
	if old.Pipeline.SystemPrompt != new.Pipeline.SystemPrompt ||
		old.Pipeline.HistoryLimit != new.Pipeline.HistoryLimit {
		d.PromptChanged = true
	}

	return d
}

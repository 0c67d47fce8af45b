package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; changes to the
// listen address, recognizer backend, or store require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AudioChanged is true when any windowing or gating parameter changed.
	// New values apply to windows pushed after the reload.
	AudioChanged bool

	// SummarizerChanged is true when the LLM provider, model, or endpoint
	// changed. The summarizer is rebuilt on the next summarize call.
	SummarizerChanged bool
}

// Any reports whether the diff contains at least one hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.AudioChanged || d.SummarizerChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Audio != new.Audio {
		d.AudioChanged = true
	}

	if old.Summarizer != new.Summarizer {
		d.SummarizerChanged = true
	}

	return d
}

package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: switching the
// realtime provider or the storage backend requires a restart.
type ConfigDiff struct {
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	LanguagesChanged bool
	NewLanguages     LanguagesConfig
	VoiceChanged     bool
	NewVoice         string
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LanguagesChanged || d.VoiceChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Languages != new.Languages {
		d.LanguagesChanged = true
		d.NewLanguages = new.Languages
	}
	if old.Providers.Realtime.Voice != new.Providers.Realtime.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Providers.Realtime.Voice
	}

	return d
}

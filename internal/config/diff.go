package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// fields are reported individually; everything else is summarised in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranscriptChanged is set when the noise patterns, the minimum length
	// or the filler gate changed.
	TranscriptChanged bool

	// LanguageChanged is set when the session language or its profile
	// changed.
	LanguageChanged bool
	NewLanguage     string

	// RestartRequired lists the top-level sections that changed but only
	// take effect after a restart.
	RestartRequired []string
}

// Changed reports whether any field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TranscriptChanged || d.LanguageChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Transcript.NoisePatterns, new.Transcript.NoisePatterns) ||
		!slices.Equal(old.Transcript.ExtraNoisePatterns, new.Transcript.ExtraNoisePatterns) ||
		!equalPtr(old.Transcript.MinLength, new.Transcript.MinLength) ||
		old.Transcript.FuzzyFillers != new.Transcript.FuzzyFillers ||
		!slices.Equal(old.Transcript.Fillers, new.Transcript.Fillers) {
		d.TranscriptChanged = true
	}

	if old.Language != new.Language || old.ActiveProfile() != new.ActiveProfile() {
		d.LanguageChanged = true
		d.NewLanguage = new.Language
	}

	restart := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.tls", old.Server.TLS, new.Server.TLS},
		{"mode", old.Mode, new.Mode},
		{"greet", old.Greet, new.Greet},
		{"providers", old.Providers, new.Providers},
		{"turn", old.Turn, new.Turn},
		{"vad", old.VAD, new.VAD},
		{"chat", old.Chat, new.Chat},
		{"realtime", old.Realtime, new.Realtime},
		{"journal", old.Journal, new.Journal},
	}
	for _, r := range restart {
		if !reflect.DeepEqual(r.old, r.new) {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}

	return d
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

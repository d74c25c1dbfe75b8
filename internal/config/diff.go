package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PhrasesChanged is true when the wake phrase list differs.
	PhrasesChanged bool
	NewPhrases     []string

	// PersonaChanged is true when the persona instruction or voice differs.
	// It takes effect on the next connect.
	PersonaChanged bool
	NewPersona     string
	NewVoice       string

	// RestartRequired lists settings that changed but only apply after a
	// restart.
	RestartRequired []string
}

// Empty reports whether d carries no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PhrasesChanged && !d.PersonaChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Wake.Phrases, new.Wake.Phrases) {
		d.PhrasesChanged = true
		d.NewPhrases = slices.Clone(new.Wake.Phrases)
	}

	if old.Assistant.Persona != new.Assistant.Persona || old.Assistant.Voice != new.Assistant.Voice {
		d.PersonaChanged = true
		d.NewPersona = new.Assistant.Persona
		d.NewVoice = new.Assistant.Voice
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Tools.Knowledge != new.Tools.Knowledge || old.Tools.Notifications != new.Tools.Notifications {
		d.RestartRequired = append(d.RestartRequired, "tools")
	}

	return d
}

// sameProviders compares the scalar fields of each provider entry.
// Options maps are not compared.
func sameProviders(a, b ProvidersConfig) bool {
	eq := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	return eq(a.S2S, b.S2S) && eq(a.STT, b.STT) && eq(a.Embeddings, b.Embeddings)
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/jarvis/internal/session"
	"github.com/MrWong99/jarvis/internal/voice/vad"
	"github.com/MrWong99/jarvis/internal/wake"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":        {"gemini-live", "openai-realtime"},
	"stt":        {"deepgram", "whisper-native"},
	"embeddings": {"openai", "ollama"},
}

// DefaultPersona is the system instruction used when assistant.persona is empty.
const DefaultPersona = "You are Jarvis, a concise and capable voice assistant. " +
	"Answer briefly and use the available tools when the user asks for an action."

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8765"
	DefaultVoice               = "Charon"
	DefaultCaptureRate         = 16000
	DefaultPlaybackRate        = 24000
	DefaultFrameSize           = 4096
	DefaultPlaybackBuffer      = 100 * time.Millisecond
	DefaultLanguage            = "en-US"
	DefaultEmbeddingDimensions = 1536
	DefaultServiceName         = "jarvis"
)

// secretEnv maps a provider name to the environment variable consulted when
// its api_key is empty.
var secretEnv = map[string]string{
	"gemini-live":     "GEMINI_API_KEY",
	"openai-realtime": "OPENAI_API_KEY",
	"openai":          "OPENAI_API_KEY",
	"deepgram":        "DEEPGRAM_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// environment secrets, and validates the result. An empty document is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Providers.S2S.Name, "gemini-live")
	setDefault(&cfg.Providers.STT.Name, "deepgram")

	setDefault(&cfg.Assistant.Persona, DefaultPersona)
	setDefault(&cfg.Assistant.Voice, DefaultVoice)
	setDefault(&cfg.Assistant.GracePeriod, session.DefaultGracePeriod)

	setDefault(&cfg.Audio.CaptureRate, DefaultCaptureRate)
	setDefault(&cfg.Audio.PlaybackRate, DefaultPlaybackRate)
	setDefault(&cfg.Audio.FrameSize, DefaultFrameSize)
	setDefault(&cfg.Audio.PlaybackBuffer, DefaultPlaybackBuffer)

	setDefault(&cfg.VAD.Threshold, vad.DefaultThreshold)
	setDefault(&cfg.VAD.Hangover, vad.DefaultHangover)

	if len(cfg.Wake.Phrases) == 0 {
		cfg.Wake.Phrases = slices.Clone(wake.DefaultPhrases)
	}
	setDefault(&cfg.Wake.Language, DefaultLanguage)
	setDefault(&cfg.Wake.RestartDelay, wake.DefaultRestartDelay)

	setDefault(&cfg.Tools.Notifications.Backend, NotifyConsole)
	setDefault(&cfg.Tools.Knowledge.EmbeddingDimensions, DefaultEmbeddingDimensions)

	setDefault(&cfg.Observability.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// ApplyEnv fills empty secrets from the environment using lookup
// (normally [os.LookupEnv]).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, e := range []*ProviderEntry{&cfg.Providers.S2S, &cfg.Providers.STT, &cfg.Providers.Embeddings} {
		if e.APIKey != "" {
			continue
		}
		if key, ok := secretEnv[e.Name]; ok {
			if v, ok := lookup(key); ok {
				e.APIKey = v
			}
		}
	}
	if cfg.Tools.Notifications.Discord.Token == "" {
		if v, ok := lookup("DISCORD_TOKEN"); ok {
			cfg.Tools.Notifications.Discord.Token = v
		}
	}
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
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// A missing key is not fatal: Connect reports it at runtime.
	if cfg.Providers.S2S.APIKey == "" {
		slog.Warn("providers.s2s.api_key is empty; connecting will fail until a key is configured",
			"provider", cfg.Providers.S2S.Name)
	}

	// Assistant
	if cfg.Assistant.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("assistant.grace_period %s must not be negative", cfg.Assistant.GracePeriod))
	}

	// Audio
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must be positive", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must be positive", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	// VAD
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.3f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if r := cfg.Observability.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.trace_sample_ratio %.3f is out of range [0, 1]", r))
	}
	if cfg.VAD.Hangover < 0 {
		errs = append(errs, fmt.Errorf("vad.hangover %s must not be negative", cfg.VAD.Hangover))
	}

	// Wake
	for i, p := range cfg.Wake.Phrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("wake.phrases[%d] is empty", i))
		}
	}
	if cfg.Wake.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("wake.restart_delay %s must not be negative", cfg.Wake.RestartDelay))
	}
	if cfg.Wake.MaxRestartDelay != 0 && cfg.Wake.MaxRestartDelay < cfg.Wake.RestartDelay {
		errs = append(errs, fmt.Errorf("wake.max_restart_delay %s is below wake.restart_delay %s", cfg.Wake.MaxRestartDelay, cfg.Wake.RestartDelay))
	}
	if cfg.Wake.IsEnabled() && cfg.Providers.STT.Name == "whisper-native" {
		if _, ok := cfg.Providers.STT.StringOption("model_path"); !ok {
			errs = append(errs, errors.New("providers.stt.options.model_path is required for whisper-native"))
		}
	}

	// Notifications
	n := cfg.Tools.Notifications
	if n.Backend != "" && !n.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("tools.notifications.backend %q is invalid; valid values: console, discord", n.Backend))
	}
	if n.Backend == NotifyDiscord {
		if n.Discord.Token == "" {
			errs = append(errs, errors.New("tools.notifications.discord.token is required when backend is discord"))
		}
		if n.Discord.ChannelID == "" {
			errs = append(errs, errors.New("tools.notifications.discord.channel_id is required when backend is discord"))
		}
	}

	// Knowledge
	k := cfg.Tools.Knowledge
	if k.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("tools.knowledge.embedding_dimensions %d must be positive", k.EmbeddingDimensions))
	}
	if k.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("tools.knowledge.postgres_dsn is set without providers.embeddings; search will be lexical only")
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

package config_test

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/pkg/provider/embeddings"
	embmock "github.com/MrWong99/jarvis/pkg/provider/embeddings/mock"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
	s2smock "github.com/MrWong99/jarvis/pkg/provider/s2s/mock"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	sttmock "github.com/MrWong99/jarvis/pkg/provider/stt/mock"
)

const validYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
providers:
  s2s:
    name: gemini-live
    api_key: g-key
    model: models/gemini-2.5-flash-native-audio
  stt:
    name: deepgram
    api_key: dg-key
    model: nova-3
    options:
      language: en-GB
  embeddings:
    name: ollama
    model: nomic-embed-text
assistant:
  persona: "You are terse."
  voice: Puck
  grace_period: 250ms
audio:
  capture_device: "USB Mic"
  playback_buffer: 50ms
vad:
  threshold: 0.02
  hangover: 300ms
wake:
  phrases: ["hey jarvis", "computer"]
  restart_delay: 2s
  max_restart_delay: 30s
  phonetic: true
tools:
  flashlight:
    led: "white:flash"
  notifications:
    backend: discord
    discord:
      token: bot-token
      channel_id: "123"
  knowledge:
    postgres_dsn: "postgres://localhost/jarvis"
    embedding_dimensions: 768
    seed_file: kb.yaml
observability:
  service_name: jarvis-test
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.S2S.Name != "gemini-live" || cfg.Providers.S2S.APIKey != "g-key" {
		t.Errorf("providers.s2s = %+v", cfg.Providers.S2S)
	}
	if lang, ok := cfg.Providers.STT.StringOption("language"); !ok || lang != "en-GB" {
		t.Errorf("stt language option = %q, %v", lang, ok)
	}
	if cfg.Assistant.GracePeriod != 250*time.Millisecond || cfg.Assistant.Voice != "Puck" {
		t.Errorf("assistant = %+v", cfg.Assistant)
	}
	if cfg.Audio.CaptureDevice != "USB Mic" || cfg.Audio.PlaybackBuffer != 50*time.Millisecond {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.VAD.Threshold != 0.02 || cfg.VAD.Hangover != 300*time.Millisecond {
		t.Errorf("vad = %+v", cfg.VAD)
	}
	if len(cfg.Wake.Phrases) != 2 || !cfg.Wake.Phonetic || cfg.Wake.MaxRestartDelay != 30*time.Second {
		t.Errorf("wake = %+v", cfg.Wake)
	}
	if !cfg.Wake.IsEnabled() {
		t.Error("wake should default to enabled")
	}
	if cfg.Tools.Notifications.Backend != config.NotifyDiscord || cfg.Tools.Notifications.Discord.ChannelID != "123" {
		t.Errorf("notifications = %+v", cfg.Tools.Notifications)
	}
	if cfg.Tools.Knowledge.EmbeddingDimensions != 768 {
		t.Errorf("embedding_dimensions = %d, want 768", cfg.Tools.Knowledge.EmbeddingDimensions)
	}
	if cfg.Observability.ServiceName != "jarvis-test" {
		t.Errorf("service_name = %q", cfg.Observability.ServiceName)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should be valid, got: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want default", cfg.Server.ListenAddr)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("assistant:\n  personality: x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.S2S.Name != "gemini-live" || cfg.Providers.STT.Name != "deepgram" {
		t.Errorf("providers = %q / %q", cfg.Providers.S2S.Name, cfg.Providers.STT.Name)
	}
	if cfg.Providers.Embeddings.Name != "" {
		t.Errorf("embeddings should stay optional, got %q", cfg.Providers.Embeddings.Name)
	}
	if cfg.Assistant.GracePeriod != 500*time.Millisecond {
		t.Errorf("grace_period = %s", cfg.Assistant.GracePeriod)
	}
	if cfg.Audio.CaptureRate != 16000 || cfg.Audio.PlaybackRate != 24000 || cfg.Audio.FrameSize != 4096 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.VAD.Threshold != 0.01 || cfg.VAD.Hangover != 400*time.Millisecond {
		t.Errorf("vad = %+v", cfg.VAD)
	}
	if len(cfg.Wake.Phrases) == 0 || cfg.Wake.RestartDelay != time.Second {
		t.Errorf("wake = %+v", cfg.Wake)
	}
	if cfg.Tools.Notifications.Backend != config.NotifyConsole {
		t.Errorf("backend = %q", cfg.Tools.Notifications.Backend)
	}

	// Explicit values survive.
	cfg = &config.Config{Assistant: config.AssistantConfig{Voice: "Kore"}}
	config.ApplyDefaults(cfg)
	if cfg.Assistant.Voice != "Kore" {
		t.Errorf("voice = %q, want Kore", cfg.Assistant.Voice)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"GEMINI_API_KEY":   "from-env",
		"DEEPGRAM_API_KEY": "dg-env",
		"OPENAI_API_KEY":   "oa-env",
		"DISCORD_TOKEN":    "discord-env",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	tests := []struct {
		name    string
		cfg     config.Config
		wantS2S string
		wantSTT string
		wantEmb string
	}{
		{
			name: "empty keys filled",
			cfg: config.Config{Providers: config.ProvidersConfig{
				S2S: config.ProviderEntry{Name: "gemini-live"},
				STT: config.ProviderEntry{Name: "deepgram"},
				Embeddings: config.ProviderEntry{Name: "openai"},
			}},
			wantS2S: "from-env", wantSTT: "dg-env", wantEmb: "oa-env",
		},
		{
			name: "explicit key wins",
			cfg: config.Config{Providers: config.ProvidersConfig{
				S2S: config.ProviderEntry{Name: "gemini-live", APIKey: "yaml"},
			}},
			wantS2S: "yaml",
		},
		{
			name: "openai realtime uses openai key",
			cfg: config.Config{Providers: config.ProvidersConfig{
				S2S: config.ProviderEntry{Name: "openai-realtime"},
			}},
			wantS2S: "oa-env",
		},
		{
			name: "ollama has no key",
			cfg: config.Config{Providers: config.ProvidersConfig{
				Embeddings: config.ProviderEntry{Name: "ollama"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			config.ApplyEnv(&cfg, lookup)
			if cfg.Providers.S2S.APIKey != tt.wantS2S {
				t.Errorf("s2s key = %q, want %q", cfg.Providers.S2S.APIKey, tt.wantS2S)
			}
			if cfg.Providers.STT.APIKey != tt.wantSTT {
				t.Errorf("stt key = %q, want %q", cfg.Providers.STT.APIKey, tt.wantSTT)
			}
			if cfg.Providers.Embeddings.APIKey != tt.wantEmb {
				t.Errorf("embeddings key = %q, want %q", cfg.Providers.Embeddings.APIKey, tt.wantEmb)
			}
			if cfg.Tools.Notifications.Discord.Token != "discord-env" {
				t.Errorf("discord token = %q", cfg.Tools.Notifications.Discord.Token)
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error(`"verbose" should be invalid`)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	_, errS2S := reg.CreateS2S(entry)
	_, errSTT := reg.CreateSTT(entry)
	_, errEmb := reg.CreateEmbeddings(entry)
	for kind, err := range map[string]error{"s2s": errS2S, "stt": errSTT, "embeddings": errEmb} {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: expected ErrProviderNotRegistered, got: %v", kind, err)
		}
		if err != nil && !strings.Contains(err.Error(), kind+"/") {
			t.Errorf("%s: error should name the kind, got: %v", kind, err)
		}
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wantS2S := &s2smock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterS2S("stub", func(e config.ProviderEntry) (s2s.Provider, error) {
		gotEntry = e
		return wantS2S, nil
	})
	wantSTT := &sttmock.Provider{}
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) { return wantSTT, nil })
	wantEmb := &embmock.Provider{}
	reg.RegisterEmbeddings("stub", func(config.ProviderEntry) (embeddings.Provider, error) { return wantEmb, nil })

	entry := config.ProviderEntry{Name: "stub", Model: "m"}
	if got, err := reg.CreateS2S(entry); err != nil || got != wantS2S {
		t.Errorf("CreateS2S = %v, %v", got, err)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory entry = %+v", gotEntry)
	}
	if got, err := reg.CreateSTT(entry); err != nil || got != wantSTT {
		t.Errorf("CreateSTT = %v, %v", got, err)
	}
	if got, err := reg.CreateEmbeddings(entry); err != nil || got != wantEmb {
		t.Errorf("CreateEmbeddings = %v, %v", got, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterS2S("broken", func(config.ProviderEntry) (s2s.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateS2S(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	stub := func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil }
	reg.RegisterSTT("whisper-native", stub)
	reg.RegisterSTT("deepgram", stub)

	if got := reg.Names(config.KindSTT); !slices.Equal(got, []string{"deepgram", "whisper-native"}) {
		t.Errorf("Names(stt) = %v", got)
	}
	if got := reg.Names(config.KindS2S); len(got) != 0 {
		t.Errorf("Names(s2s) = %v, want empty", got)
	}
	if got := reg.Names("tts"); got != nil {
		t.Errorf("Names(tts) = %v, want nil", got)
	}

	_, err := reg.CreateSTT(config.ProviderEntry{Name: "vosk"})
	if err == nil || !strings.Contains(err.Error(), "deepgram") {
		t.Errorf("unknown-provider error should list registered names, got %v", err)
	}
}

package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/jarvis/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"invalid log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"negative grace", "assistant:\n  grace_period: -1s\n", "assistant.grace_period"},
		{"threshold above one", "vad:\n  threshold: 1.5\n", "vad.threshold"},
		{"negative hangover", "vad:\n  hangover: -5ms\n", "vad.hangover"},
		{"blank phrase", "wake:\n  phrases: [\"jarvis\", \"  \"]\n", "wake.phrases[1]"},
		{"max below restart", "wake:\n  restart_delay: 2s\n  max_restart_delay: 1s\n", "wake.max_restart_delay"},
		{"whisper without model", "providers:\n  stt:\n    name: whisper-native\n", "model_path"},
		{"bad backend", "tools:\n  notifications:\n    backend: pager\n", "tools.notifications.backend"},
		{"discord without channel", "tools:\n  notifications:\n    backend: discord\n    discord:\n      token: t\n", "channel_id"},
		{"negative dimensions", "tools:\n  knowledge:\n    embedding_dimensions: -1\n", "embedding_dimensions"},
		{"negative capture rate", "audio:\n  capture_rate: -16000\n", "audio.capture_rate"},
		{"sample ratio above one", "observability:\n  trace_sample_ratio: 2\n", "trace_sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_WhisperDisabledWakeSkipsModelCheck(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: whisper-native
wake:
  enabled: false
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Wake.IsEnabled() {
		t.Error("wake should be disabled")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
vad:
  threshold: 2
tools:
  notifications:
    backend: discord
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "vad.threshold", "token", "channel_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"s2s", "stt", "embeddings"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known names for %s", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["s2s"], "gemini-live") {
		t.Error("gemini-live should be a known s2s provider")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jarvis.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Assistant.Persona != "You are terse." {
		t.Errorf("persona = %q", cfg.Assistant.Persona)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config must stay valid: %v", err)
	}
	if cfg.Providers.S2S.Name != "gemini-live" || !cfg.Wake.IsEnabled() || !cfg.Wake.Phonetic {
		t.Errorf("unexpected example config: %+v", cfg)
	}
}

package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/app"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/knowledge"
	notifymock "github.com/MrWong99/jarvis/internal/notify/mock"
	"github.com/MrWong99/jarvis/internal/session"
	"github.com/MrWong99/jarvis/internal/telemetry"
	audiomock "github.com/MrWong99/jarvis/pkg/audio/mock"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
	s2smock "github.com/MrWong99/jarvis/pkg/provider/s2s/mock"
	sttmock "github.com/MrWong99/jarvis/pkg/provider/stt/mock"
)

// testConfig returns a defaulted config with a short grace period.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Providers.S2S = config.ProviderEntry{Name: "gemini-live", APIKey: "test-key"}
	cfg.Wake.Phrases = []string{"jarvis"}
	config.ApplyDefaults(cfg)
	cfg.Assistant.GracePeriod = time.Millisecond
	return cfg
}

type fakeTorch struct{}

func (fakeTorch) On() error      { return nil }
func (fakeTorch) Off() error     { return nil }
func (fakeTorch) Release() error { return nil }

type fakeLauncher struct{}

func (fakeLauncher) Open(_ context.Context, app, _ string) (string, error) {
	return "https://example.com/" + app, nil
}

type fakeTelemetry struct{}

func (fakeTelemetry) Collect(context.Context) (telemetry.Snapshot, error) {
	return telemetry.Snapshot{}, nil
}

type harness struct {
	app      *app.App
	provider *s2smock.Provider
	stt      *sttmock.Provider
	capture  *audiomock.CaptureFactory
	playback *audiomock.PlaybackFactory
	store    *knowledge.MemStore
}

func newHarness(t *testing.T, cfg *config.Config, withSTT bool, opts ...app.Option) *harness {
	t.Helper()
	h := &harness{
		provider: &s2smock.Provider{},
		capture:  &audiomock.CaptureFactory{},
		playback: &audiomock.PlaybackFactory{},
		store:    knowledge.NewMemStore(),
	}
	providers := &app.Providers{S2S: h.provider}
	if withSTT {
		h.stt = &sttmock.Provider{}
		providers.STT = h.stt
	}
	opts = append([]app.Option{
		app.WithCaptureFactory(h.capture),
		app.WithPlaybackFactory(h.playback),
		app.WithKnowledgeStore(h.store),
		app.WithNotifier(&notifymock.Notifier{}),
		app.WithTorch(fakeTorch{}),
		app.WithLauncher(fakeLauncher{}),
		app.WithTelemetry(fakeTelemetry{}),
	}, opts...)

	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	h.app = a
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return h
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec, body
}

func waitState(t *testing.T, m *session.Manager, want session.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State().Current() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", m.State().Current(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), false)

	if h.app.Handler() == nil {
		t.Fatal("Handler() is nil")
	}
	if got := h.app.Manager().State().Current(); got != session.Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", got)
	}
}

func TestHTTP_State(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), false)

	rec, body := do(t, h.app.Handler(), "GET", "/api/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["state"] != "DISCONNECTED" {
		t.Errorf("state = %v", body["state"])
	}
}

func TestHTTP_ConnectDisconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), false)
	handler := h.app.Handler()

	rec, _ := do(t, handler, "POST", "/api/connect")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("connect status = %d, body %s", rec.Code, rec.Body)
	}
	if len(h.provider.Calls()) != 1 {
		t.Fatalf("Open calls = %d, want 1", len(h.provider.Calls()))
	}
	cfg := h.provider.Calls()[0].Cfg
	if cfg.Voice != config.DefaultVoice || len(cfg.Tools) != 6 {
		t.Errorf("session config = %+v", cfg)
	}

	rec, _ = do(t, handler, "POST", "/api/connect")
	if rec.Code != http.StatusConflict {
		t.Errorf("second connect status = %d, want 409", rec.Code)
	}

	rec, body := do(t, handler, "POST", "/api/disconnect")
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d", rec.Code)
	}
	if body["state"] != "DISCONNECTED" {
		t.Errorf("state after disconnect = %v", body["state"])
	}
	if !h.provider.LastSession().Closed() {
		t.Error("remote session not closed")
	}
}

func TestHTTP_ConnectWithoutKey(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Providers.S2S.APIKey = ""
	h := newHarness(t, cfg, false)

	rec, _ := do(t, h.app.Handler(), "POST", "/api/connect")
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", rec.Code)
	}
	if len(h.provider.Calls()) != 0 {
		t.Error("provider should not be dialled without a key")
	}

	rec, _ = do(t, h.app.Handler(), "GET", "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
}

func TestWakeIdle_OnlyWhenDisconnected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		key   string
		steps []string
		state session.State
		want  bool
	}{
		{name: "fresh", key: "test-key", state: session.Disconnected, want: true},
		{name: "connected", key: "test-key", steps: []string{"/api/connect"}, state: session.Connected, want: false},
		{name: "failed connect", key: "", steps: []string{"/api/connect"}, state: session.Error, want: false},
		{name: "error then disconnect", key: "", steps: []string{"/api/connect", "/api/disconnect"}, state: session.Disconnected, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Providers.S2S.APIKey = tt.key
			h := newHarness(t, cfg, false)
			for _, path := range tt.steps {
				do(t, h.app.Handler(), "POST", path)
			}
			waitState(t, h.app.Manager(), tt.state)
			if got := h.app.WakeIdle(); got != tt.want {
				t.Errorf("WakeIdle() in %s = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestHTTP_ToolsAndHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), false)
	handler := h.app.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/tools", nil))
	var defs []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(defs) != 6 || defs[0].Name == "" {
		t.Errorf("tools = %+v", defs)
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		if rec, _ := do(t, handler, "GET", path); rec.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, rec.Code)
		}
	}
}

func TestNew_SeedsKnowledge(t *testing.T) {
	t.Parallel()
	seed := filepath.Join(t.TempDir(), "kb.yaml")
	doc := "documents:\n  - title: Reactor\n    content: The arc reactor powers the suit.\n"
	if err := os.WriteFile(seed, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Tools.Knowledge.SeedFile = seed
	h := newHarness(t, cfg, false)

	if h.store.Len() != 1 {
		t.Errorf("indexed documents = %d, want 1", h.store.Len())
	}
}

func TestNew_BadSeedFails(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Tools.Knowledge.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := app.New(context.Background(), cfg, &app.Providers{S2S: &s2smock.Provider{}},
		app.WithCaptureFactory(&audiomock.CaptureFactory{}),
		app.WithPlaybackFactory(&audiomock.PlaybackFactory{}),
	)
	if err == nil {
		t.Fatal("expected error for missing seed file")
	}
}

func TestApplyConfig_Persona(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	h := newHarness(t, cfg, false)

	next := testConfig()
	next.Assistant.Persona = "Speak like a butler."
	next.Assistant.Voice = "Kore"
	h.app.ApplyConfig(next, config.Diff(cfg, next))

	if rec, _ := do(t, h.app.Handler(), "POST", "/api/connect"); rec.Code != http.StatusAccepted {
		t.Fatalf("connect status = %d", rec.Code)
	}
	got := h.provider.Calls()[0].Cfg
	if got.Instructions != "Speak like a butler." || got.Voice != "Kore" {
		t.Errorf("session config = %q / %q", got.Instructions, got.Voice)
	}
}

func TestRun_WakePhraseConnects(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), true)
	started := h.stt.Started()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.app.Run(ctx) }()

	var stream *sttmock.Stream
	select {
	case stream = <-started:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("wake recognition never started")
	}
	stream.Emit("hey jarvis are you there")

	deadline := time.Now().Add(2 * time.Second)
	for h.provider.LastSession() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("wake match did not open a session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.provider.LastSession().Emit(s2s.Event{Type: s2s.EventOpen})
	waitState(t, h.app.Manager(), session.Connected)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := h.app.Manager().State().Current(); got != session.Disconnected {
		t.Errorf("state after Run = %s, want DISCONNECTED", got)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), false)
	if err := h.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if err := h.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() = %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]string{
		config.LogDebug: "DEBUG",
		config.LogInfo:  "INFO",
		config.LogWarn:  "WARN",
		config.LogError: "ERROR",
		"":              "INFO",
	}
	for in, want := range tests {
		if got := app.SlogLevel(in).String(); got != want {
			t.Errorf("SlogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

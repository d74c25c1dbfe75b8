// Package app wires all Jarvis subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config, Run serves HTTP and the wake loop until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject fakes via functional options (WithCaptureFactory,
// WithKnowledgeStore, WithNotifier, etc.). When an option is not provided,
// New creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/events"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/knowledge"
	"github.com/MrWong99/jarvis/internal/knowledge/postgres"
	"github.com/MrWong99/jarvis/internal/launch"
	"github.com/MrWong99/jarvis/internal/mcp"
	"github.com/MrWong99/jarvis/internal/notify"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/internal/session"
	"github.com/MrWong99/jarvis/internal/telemetry"
	"github.com/MrWong99/jarvis/internal/tools"
	"github.com/MrWong99/jarvis/internal/torch"
	"github.com/MrWong99/jarvis/internal/voice/vad"
	"github.com/MrWong99/jarvis/internal/wake"
	"github.com/MrWong99/jarvis/pkg/audio"
	audiomalgo "github.com/MrWong99/jarvis/pkg/audio/malgo"
	audiooto "github.com/MrWong99/jarvis/pkg/audio/oto"
	"github.com/MrWong99/jarvis/pkg/provider/embeddings"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

// shutdownTimeout bounds the HTTP server drain when Run's context ends.
const shutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main via the config registry.
type Providers struct {
	S2S s2s.Provider

	// STT backs the wake listener. Nil disables it.
	STT stt.Provider

	// STTFallback is tried when STT keeps failing. Optional.
	STTFallback stt.Provider

	// Embeddings enables semantic knowledge ranking. Optional.
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	bus      *events.Bus
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	capture    audio.CaptureFactory
	playback   audio.PlaybackFactory
	store      knowledge.Store
	pinger     health.Pinger
	searcher   knowledge.Searcher
	notifier   notify.Notifier
	launcher   tools.Launcher
	torch      tools.Torch
	telemetry  tools.Telemetry
	dispatcher *tools.Dispatcher
	listener   *wake.Listener
	manager    *session.Manager

	metricsHandler http.Handler
	handler        http.Handler

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithBus injects the event bus.
func WithBus(bus *events.Bus) Option {
	return func(a *App) { a.bus = bus }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the verbosity of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithCaptureFactory injects the microphone backend instead of malgo.
func WithCaptureFactory(f audio.CaptureFactory) Option {
	return func(a *App) { a.capture = f }
}

// WithPlaybackFactory injects the speaker backend instead of oto.
func WithPlaybackFactory(f audio.PlaybackFactory) Option {
	return func(a *App) { a.playback = f }
}

// WithKnowledgeStore injects the knowledge store instead of creating one from config.
func WithKnowledgeStore(s knowledge.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNotifier injects the notification backend.
func WithNotifier(n notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithLauncher injects the app launcher.
func WithLauncher(l tools.Launcher) Option {
	return func(a *App) { a.launcher = l }
}

// WithTorch injects the flashlight.
func WithTorch(t tools.Torch) Option {
	return func(a *App) { a.torch = t }
}

// WithTelemetry injects the host telemetry source.
func WithTelemetry(t tools.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// New performs all initialisation synchronously: audio backends, knowledge
// store connection and seeding, notifier, tool dispatcher, wake listener,
// session manager and HTTP routes.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.bus == nil {
		a.bus = events.NewBus(events.WithDropHook(func(t events.Type) {
			a.metrics.RecordEventDropped(context.Background(), string(t))
		}))
	}

	// ── 1. Audio backends ────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init audio: %w", err))
	}

	// ── 2. Knowledge base ────────────────────────────────────────────────
	if err := a.initKnowledge(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init knowledge: %w", err))
	}

	// ── 3. Notifications ─────────────────────────────────────────────────
	if err := a.initNotifier(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init notifier: %w", err))
	}

	// ── 4. Tools ─────────────────────────────────────────────────────────
	a.initDispatcher()

	// ── 5. Wake listener + session manager ───────────────────────────────
	a.initSession()

	// ── 6. HTTP ──────────────────────────────────────────────────────────
	a.handler = a.routes()

	return a, nil
}

// abort releases whatever New had acquired before err.
func (a *App) abort(err error) error {
	for _, c := range a.closers {
		_ = c()
	}
	return err
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initAudio() error {
	if a.capture == nil {
		backend, err := audiomalgo.New(audiomalgo.WithFrameSize(a.cfg.Audio.FrameSize))
		if err != nil {
			return fmt.Errorf("capture backend: %w", err)
		}
		a.capture = backend
		a.closers = append(a.closers, backend.Close)
	}
	if a.playback == nil {
		backend, err := audiooto.New(a.cfg.Audio.PlaybackRate, a.cfg.Audio.PlaybackBuffer)
		if err != nil {
			return fmt.Errorf("playback backend: %w", err)
		}
		a.playback = backend
	}
	return nil
}

// initKnowledge connects the PostgreSQL store when configured, with the
// in-memory store as its fallback, and ingests the seed file into both.
func (a *App) initKnowledge(ctx context.Context) error {
	kc := a.cfg.Tools.Knowledge
	var memOpts []knowledge.MemOption
	if a.providers.Embeddings != nil {
		memOpts = append(memOpts, knowledge.WithEmbedder(a.providers.Embeddings))
	}
	mem := knowledge.NewMemStore(memOpts...)

	if a.store == nil && kc.PostgresDSN != "" {
		var pgOpts []postgres.Option
		if a.providers.Embeddings != nil {
			pgOpts = append(pgOpts, postgres.WithEmbedder(a.providers.Embeddings))
		}
		store, err := postgres.NewStore(ctx, kc.PostgresDSN, kc.EmbeddingDimensions, pgOpts...)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}

	stores := []knowledge.Indexer{mem}
	if a.store != nil {
		stores = append([]knowledge.Indexer{a.store}, stores...)
		if p, ok := a.store.(health.Pinger); ok {
			a.pinger = p
		}
	}
	if kc.SeedFile != "" {
		for _, idx := range stores {
			n, err := knowledge.Seed(ctx, idx, kc.SeedFile)
			if err != nil {
				return fmt.Errorf("seed %q: %w", kc.SeedFile, err)
			}
			slog.Info("seeded knowledge base", "path", kc.SeedFile, "documents", n, "store", fmt.Sprintf("%T", idx))
		}
	}

	if a.store == nil {
		a.searcher = mem
		return nil
	}
	fb := knowledge.NewFallback(a.store, "postgres", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{OnStateChange: logBreaker},
	}, a.metrics)
	fb.AddFallback("memory", mem)
	a.searcher = fb
	return nil
}

func (a *App) initNotifier() error {
	if a.notifier == nil {
		nc := a.cfg.Tools.Notifications
		switch nc.Backend {
		case config.NotifyDiscord:
			d, err := notify.NewDiscord(nc.Discord.Token, nc.Discord.ChannelID)
			if err != nil {
				return err
			}
			a.notifier = d
		default:
			a.notifier = notify.NewConsole()
		}
	}
	a.notifier = notify.NewGuarded(a.notifier, resilience.CircuitBreakerConfig{
		Name:          "notify",
		OnStateChange: logBreaker,
	})
	return nil
}

func (a *App) initDispatcher() {
	if a.launcher == nil {
		a.launcher = launch.New()
	}
	if a.torch == nil {
		var opts []torch.Option
		if led := a.cfg.Tools.Flashlight.LED; led != "" {
			opts = append(opts, torch.WithName(led))
		}
		a.torch = torch.New(opts...)
	}
	if a.telemetry == nil {
		a.telemetry = telemetry.New()
	}
	a.dispatcher = tools.NewDispatcher(
		tools.WithBus(a.bus),
		tools.WithMetrics(a.metrics),
		tools.WithKnowledge(a.searcher),
		tools.WithLauncher(a.launcher),
		tools.WithTorch(a.torch),
		tools.WithTelemetry(a.telemetry),
		tools.WithNotifier(a.notifier),
	)
}

func (a *App) initSession() {
	cfg := a.cfg
	opts := []session.Option{
		session.WithPersona(cfg.Assistant.Persona, cfg.Assistant.Voice),
		session.WithGracePeriod(cfg.Assistant.GracePeriod),
		session.WithDevice(cfg.Audio.CaptureDevice),
		session.WithVAD(vad.Config{Threshold: cfg.VAD.Threshold, Hangover: cfg.VAD.Hangover}),
		session.WithBus(a.bus),
		session.WithMetrics(a.metrics),
	}

	if cfg.Wake.IsEnabled() && a.providers.STT != nil {
		a.listener = a.newListener()
		opts = append(opts, session.WithListener(a.listener))
	} else {
		slog.Warn("wake listener disabled; use the UI or /api/connect to start a session",
			"enabled", cfg.Wake.IsEnabled(), "stt_configured", a.providers.STT != nil)
	}

	a.manager = session.New(session.Config{
		Provider:   a.providers.S2S,
		APIKey:     cfg.Providers.S2S.APIKey,
		Capture:    a.capture,
		Playback:   a.playback,
		Dispatcher: a.dispatcher,
		Tools:      tools.Definitions(),
	}, opts...)
}

// newListener builds the wake listener over the configured recogniser. The
// recogniser goes through a fallback group so a failing cloud STT falls back
// to the local one.
func (a *App) newListener() *wake.Listener {
	wc := a.cfg.Wake
	rec := resilience.NewSTTFallback(a.providers.STT, a.cfg.Providers.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{OnStateChange: logBreaker},
	})
	if a.providers.STTFallback != nil {
		rec.AddFallback("fallback", a.providers.STTFallback)
	}

	var mopts []wake.MatcherOption
	if wc.Phonetic {
		mopts = append(mopts, wake.WithPhonetic(0))
	}
	matcher := wake.NewMatcher(wc.Phrases, mopts...)

	return wake.NewListener(&wake.STTRecognizer{
		Capture:  a.capture,
		Provider: rec,
		Language: wc.Language,
		Keywords: func() []stt.Keyword {
			var kws []stt.Keyword
			for _, p := range matcher.Phrases() {
				kws = append(kws, stt.Keyword{Text: p})
			}
			return kws
		},
	},
		wake.WithMatcher(matcher),
		wake.WithIdle(a.idle),
		wake.WithBus(a.bus),
		wake.WithMetrics(a.metrics),
		wake.WithRestartPolicy(restartPolicy(wc)),
	)
}

// idle reports whether the wake listener may restart. A session in ERROR
// blocks restarts until it is disconnected.
func (a *App) idle() bool {
	if a.manager == nil {
		return true
	}
	return a.manager.State().Current() == session.Disconnected
}

// restartPolicy returns a constant delay, or an exponential one capped at
// max_restart_delay when that is set.
func restartPolicy(wc config.WakeConfig) backoff.BackOff {
	if wc.MaxRestartDelay <= 0 {
		return backoff.NewConstantBackOff(wc.RestartDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = wc.RestartDelay
	b.MaxInterval = wc.MaxRestartDelay
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func logBreaker(name string, from, to resilience.State) {
	slog.Warn("circuit breaker state changed", "name", name, "from", from, "to", to)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the UI stream, REST API, MCP
// console and health endpoints.
func (a *App) Handler() http.Handler { return a.handler }

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Bus returns the event bus.
func (a *App) Bus() *events.Bus { return a.bus }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change.
func (a *App) ApplyConfig(next *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.PhrasesChanged && a.listener != nil {
		a.listener.SetPhrases(diff.NewPhrases)
		a.bus.Logf(events.SourceWake, "Wake phrases updated: %v", diff.NewPhrases)
	}
	if diff.PersonaChanged {
		a.manager.SetPersona(diff.NewPersona, diff.NewVoice)
		slog.Info("persona updated; applies to the next session", "voice", diff.NewVoice)
	}
	a.cfg = next
}

// SlogLevel maps a config log level to its slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and runs the wake loop until ctx
// is cancelled or either fails. A cancelled ctx is a clean exit.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return a.manager.Run(gctx)
	})

	slog.Info("jarvis running", "wake", a.listener != nil, "provider", a.cfg.Providers.S2S.Name)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects any session, releases the tool facilities and closes
// the backends. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.manager.Disconnect(ctx); err != nil {
			slog.Warn("session disconnect error", "err", err)
		}
		if a.listener != nil {
			a.listener.Stop()
		}
		if err := a.dispatcher.Release(); err != nil {
			slog.Warn("tool release error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// mcpServer builds the MCP tool console over the dispatcher.
func (a *App) mcpServer() http.Handler {
	return mcp.Handler(mcp.NewServer(a.dispatcher, a.version, tools.Definitions()))
}

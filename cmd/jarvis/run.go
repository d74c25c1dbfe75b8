package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/jarvis/internal/app"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/jarvis/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/jarvis/pkg/provider/embeddings/openai"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
	geminilive "github.com/MrWong99/jarvis/pkg/provider/s2s/gemini"
	oais2s "github.com/MrWong99/jarvis/pkg/provider/s2s/openai"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/stt/deepgram"
	"github.com/MrWong99/jarvis/pkg/provider/stt/whisper"
)

const shutdownTimeout = 15 * time.Second

var (
	configPath string
	listenAddr string
	noWatch    bool
	runCmd     = &cobra.Command{
		Use:   "run",
		Short: "Start the assistant: wake listener, session manager and HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServer,
	}
)

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configPath, "config", "c", "jarvis.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override server.listen_addr")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable hot reload of the configuration file")
}

func runServer(cmd *cobra.Command, _ []string) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
		}
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("jarvis starting",
		"version", getVersion(),
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: getVersion(),
		Registerer:     promReg,
		SampleRatio:    cfg.Observability.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, closers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	printStartupSummary(cmd.OutOrStdout(), cfg)

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers,
		app.WithVersion(getVersion()),
		app.WithLogLevel(level),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg})),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if !noWatch {
		w, err := config.NewWatcher(configPath, func(_, next *config.Config, diff config.ConfigDiff) {
			application.ApplyConfig(next, diff)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, say a wake phrase or press Ctrl+C to shut down")
	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		opts := []geminilive.Option{geminilive.WithTranscription(optBool(entry.Options, "transcription", true))}
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		opts := []oais2s.Option{
			oais2s.WithTranscription(optBool(entry.Options, "transcription", true)),
			oais2s.WithInputRate(cfg.Audio.CaptureRate),
		}
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang, ok := entry.StringOption("language"); ok {
			opts = append(opts, deepgram.WithLanguage(lang))
		} else if cfg.Wake.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Wake.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath, _ := entry.StringOption("model_path")
		if modelPath == "" {
			modelPath = entry.Model
		}
		var opts []whisper.Option
		if lang, ok := entry.StringOption("language"); ok {
			opts = append(opts, whisper.WithLanguage(lang))
		} else if cfg.Wake.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Wake.Language))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	dims := cfg.Tools.Knowledge.EmbeddingDimensions

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []oaembed.Option{oaembed.WithDimensions(dims)}
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model, ollamaembed.WithDimensions(dims))
	})
}

// buildProviders instantiates the providers named in cfg. A missing or
// failing STT only disables the wake listener; the session can still be
// started from the UI.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []io.Closer, error) {
	ps := &app.Providers{}
	var closers []io.Closer
	keep := func(p any) {
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	s2sProv, err := reg.CreateS2S(cfg.Providers.S2S)
	if err != nil {
		return nil, nil, fmt.Errorf("create s2s provider %q: %w", cfg.Providers.S2S.Name, err)
	}
	ps.S2S = s2sProv
	slog.Info("provider created", "kind", "s2s", "name", cfg.Providers.S2S.Name)

	if cfg.Wake.IsEnabled() {
		if p, err := reg.CreateSTT(cfg.Providers.STT); err != nil {
			slog.Warn("wake recognition unavailable", "name", cfg.Providers.STT.Name, "err", err)
		} else {
			ps.STT = p
			keep(p)
			slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
		}

		if path, ok := cfg.Providers.STT.StringOption("fallback_model_path"); ok && cfg.Providers.STT.Name != "whisper-native" {
			p, err := reg.CreateSTT(config.ProviderEntry{
				Name:    "whisper-native",
				Options: map[string]any{"model_path": path, "language": cfg.Wake.Language},
			})
			if err != nil {
				slog.Warn("local wake fallback unavailable", "err", err)
			} else {
				ps.STTFallback = p
				keep(p)
				slog.Info("provider created", "kind", "stt", "name", "whisper-native", "role", "fallback")
			}
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, closers, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, closers, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         Jarvis startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "S2S", providerLabel(cfg.Providers.S2S))
	printRow(w, "Wake STT", providerLabel(cfg.Providers.STT))
	printRow(w, "Embeddings", providerLabel(cfg.Providers.Embeddings))
	printRow(w, "Voice", cfg.Assistant.Voice)
	if cfg.Wake.IsEnabled() {
		printRow(w, "Wake phrases", fmt.Sprintf("%d", len(cfg.Wake.Phrases)))
	} else {
		printRow(w, "Wake phrases", "(disabled)")
	}
	if cfg.Tools.Knowledge.PostgresDSN != "" {
		printRow(w, "Knowledge", "postgres")
	} else {
		printRow(w, "Knowledge", "in-memory")
	}
	printRow(w, "Notifications", string(cfg.Tools.Notifications.Backend))
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(w io.Writer, key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-13s  : %-19s ║\n", key, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optBool extracts a boolean from a provider Options map, returning def when
// the key is absent or not a bool.
func optBool(opts map[string]any, key string, def bool) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return def
}

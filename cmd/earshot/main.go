// Command earshot is the always-on voice assistant pipeline: it listens for
// a wake phrase on the default capture device, records the command that
// follows, and speaks the generated reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/earshot-ai/earshot/internal/config"
	"github.com/earshot-ai/earshot/internal/health"
	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/internal/pipeline"
	"github.com/earshot-ai/earshot/internal/recorder"
	"github.com/earshot-ai/earshot/internal/resilience"
	"github.com/earshot-ai/earshot/internal/source"
	"github.com/earshot-ai/earshot/internal/wakeword"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/audio/malgodev"
	audiomock "github.com/earshot-ai/earshot/pkg/audio/mock"
	"github.com/earshot-ai/earshot/pkg/provider/respond"
	"github.com/earshot-ai/earshot/pkg/provider/respond/anyllm"
	"github.com/earshot-ai/earshot/pkg/provider/synth"
	"github.com/earshot-ai/earshot/pkg/provider/synth/coqui"
	"github.com/earshot-ai/earshot/pkg/provider/synth/elevenlabs"
	"github.com/earshot-ai/earshot/pkg/provider/transcribe"
	oaitranscribe "github.com/earshot-ai/earshot/pkg/provider/transcribe/openai"
	"github.com/earshot-ai/earshot/pkg/provider/transcribe/whisper"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

// pipelineFormat is the fixed internal processing format. Device audio is
// converted to it by the source.
var pipelineFormat = audio.Format{SampleRate: 16000, Channels: 1}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "earshot.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("earshot", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "earshot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	transcriber, err := reg.CreateTranscribe(cfg.Providers.Transcribe)
	if err != nil {
		slog.Error("failed to create transcribe provider", "name", cfg.Providers.Transcribe.Name, "err", err)
		return 1
	}
	responder, err := reg.CreateRespond(cfg.Providers.Respond)
	if err != nil {
		slog.Error("failed to create respond provider", "name", cfg.Providers.Respond.Name, "err", err)
		return 1
	}
	synthesizer, err := reg.CreateSynth(cfg.Providers.Synth)
	if err != nil {
		slog.Error("failed to create synth provider", "name", cfg.Providers.Synth.Name, "err", err)
		return 1
	}
	slog.Info("providers ready",
		"transcribe", cfg.Providers.Transcribe.Name,
		"respond", cfg.Providers.Respond.Name,
		"synth", cfg.Providers.Synth.Name,
	)

	// Circuit breakers around every provider-backed stage. Single-entry
	// groups today; fallback entries slot in here when the config grows them.
	fbCfg := resilience.FallbackConfig{Logger: logger}
	guardedTranscribe := resilience.NewTranscribeFallback(transcriber, cfg.Providers.Transcribe.Name, fbCfg)
	guardedRespond := resilience.NewRespondFallback(responder, cfg.Providers.Respond.Name, fbCfg)
	guardedSynth := resilience.NewSynthFallback(synthesizer, cfg.Providers.Synth.Name, fbCfg)

	// ── Audio backend ─────────────────────────────────────────────────────────
	backend, err := openBackend(cfg.Audio.Backend, logger)
	if err != nil {
		slog.Error("failed to open audio backend", "backend", cfg.Audio.Backend, "err", err)
		return 1
	}
	defer backend.Close()

	deviceFormat := pipelineFormat
	if cfg.Audio.SampleRate > 0 {
		deviceFormat.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Audio.Channels > 0 {
		deviceFormat.Channels = cfg.Audio.Channels
	}

	src, err := source.New(source.Config{
		Backend:        backend,
		DeviceFormat:   deviceFormat,
		PipelineFormat: pipelineFormat,
		FrameDuration:  time.Duration(cfg.Audio.FrameMs) * time.Millisecond,
		BufferFrames:   cfg.Audio.BufferFrames,
		Logger:         logger,
		OnDrop:         func() { metrics.AddFramesDropped(context.Background(), 1) },
	})
	if err != nil {
		slog.Error("failed to build audio source", "err", err)
		return 1
	}

	// ── Wake word ─────────────────────────────────────────────────────────────
	scorer, err := buildScorer(cfg, transcriber)
	if err != nil {
		slog.Error("failed to build wake-word scorer", "err", err)
		return 1
	}
	detector, err := wakeword.New(scorer, cfg.Wakeword.Tuning(), logger)
	if err != nil {
		slog.Error("failed to build wake-word detector", "err", err)
		return 1
	}

	// ── Recorder and playback ─────────────────────────────────────────────────
	rec, err := recorder.New(cfg.Recorder.RecorderSettings(), logger)
	if err != nil {
		slog.Error("failed to build command recorder", "err", err)
		return 1
	}

	playbackDev, err := backend.OpenPlayback(guardedSynth.Format())
	if err != nil {
		slog.Error("failed to open playback device", "err", err)
		return 1
	}
	defer playbackDev.Close()

	sink, err := pipeline.NewSink(playbackDev, cfg.Pipeline.Settle(), logger)
	if err != nil {
		slog.Error("failed to build playback sink", "err", err)
		return 1
	}

	// ── Controller ────────────────────────────────────────────────────────────
	ctrl, err := pipeline.New(pipeline.Config{
		Source:       src,
		Detector:     detector,
		Recorder:     rec,
		Transcriber:  guardedTranscribe,
		Responder:    guardedRespond,
		Synthesizer:  guardedSynth,
		Sink:         sink,
		Timeouts:     cfg.Pipeline.Timeouts(),
		SystemPrompt: cfg.Pipeline.SystemPrompt,
		HistoryLimit: cfg.Pipeline.HistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(old, new, logLevel, detector, rec, ctrl, sink)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	if err := src.Start(); err != nil {
		slog.Error("failed to start capture", "err", err)
		return 1
	}
	defer src.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(ctx)
	})

	// Event consumer: structured logs and metrics for every pipeline event.
	g.Go(func() error {
		consumeEvents(ctx, ctrl, metrics)
		return nil
	})

	// Admin HTTP server: health, readiness, and Prometheus metrics.
	if cfg.Server.ListenAddr != "" {
		srv := adminServer(cfg, ctrl, metrics)
		g.Go(func() error {
			slog.Info("admin server listening", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)
			var err error
			if tls := cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("listening for wake phrase — press Ctrl+C to shut down", "phrase", cfg.Wakeword.Phrase)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the hosted and local gateways reachable through the
// any-llm client. ollama is registered separately because it keys on BaseURL
// rather than an API key.
var anyllmBackends = []string{
	"openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcribe ────────────────────────────────────────────────────────────

	reg.RegisterTranscribe("whisper", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscribe("whisper-native", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTranscribe("openai", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []oaitranscribe.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitranscribe.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaitranscribe.WithLanguage(lang))
		}
		return oaitranscribe.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Respond ───────────────────────────────────────────────────────────────

	for _, name := range anyllmBackends {
		reg.RegisterRespond(name, func(entry config.ProviderEntry) (respond.Provider, error) {
			var backendOpts []anyllmlib.Option
			if entry.APIKey != "" {
				backendOpts = append(backendOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, backendOpts, respondOptions(entry)...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterRespond("ollama", func(entry config.ProviderEntry) (respond.Provider, error) {
		var backendOpts []anyllmlib.Option
		if entry.BaseURL != "" {
			backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, backendOpts, respondOptions(entry)...)
	})

	// ── Synth ─────────────────────────────────────────────────────────────────

	reg.RegisterSynth("elevenlabs", func(entry config.ProviderEntry) (synth.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, optString(entry.Options, "voice_id"), opts...)
	})

	reg.RegisterSynth("coqui", func(entry config.ProviderEntry) (synth.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

// respondOptions extracts generation tuning from a provider entry's options.
func respondOptions(entry config.ProviderEntry) []anyllm.ProviderOption {
	var opts []anyllm.ProviderOption
	if temp, ok := optFloat(entry.Options, "temperature"); ok {
		opts = append(opts, anyllm.WithTemperature(temp))
	}
	if n, ok := optInt(entry.Options, "max_tokens"); ok {
		opts = append(opts, anyllm.WithMaxTokens(n))
	}
	return opts
}

// buildScorer constructs the stage-2 wake-word scorer named in the config.
func buildScorer(cfg *config.Config, transcriber transcribe.Provider) (wakeword.Scorer, error) {
	switch cfg.Wakeword.Scorer {
	case config.ScorerTemplate:
		pcm, err := os.ReadFile(cfg.Wakeword.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("read wake template %q: %w", cfg.Wakeword.TemplatePath, err)
		}
		return wakeword.NewTemplateScorer(pcm, pipelineFormat.SampleRate)
	default:
		return wakeword.NewPhraseScorer(transcriber, cfg.Wakeword.Phrase)
	}
}

// openBackend opens the configured audio backend. The mock backend runs the
// pipeline without sound hardware, useful on headless machines and in CI.
func openBackend(kind config.Backend, logger *slog.Logger) (audio.Backend, error) {
	switch kind {
	case config.BackendMock:
		return &audiomock.Backend{}, nil
	default:
		return malgodev.New(logger)
	}
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyReload pushes a changed configuration into the running components.
// Phrase and scorer changes need a new scorer and are deferred to a restart.
func applyReload(old, new *config.Config, logLevel *slog.LevelVar, detector *wakeword.Detector, rec *recorder.Recorder, ctrl *pipeline.Controller, sink *pipeline.PlaybackSink) {
	diff := config.Diff(old, new)
	if !diff.Any() {
		return
	}

	if diff.LogLevelChanged {
		logLevel.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.WakewordChanged {
		if err := detector.SetTuning(new.Wakeword.Tuning()); err != nil {
			slog.Warn("rejected wake-word tuning update", "err", err)
		} else {
			slog.Info("wake-word tuning updated")
		}
	}
	if diff.RecorderChanged {
		if err := rec.SetConfig(new.Recorder.RecorderSettings()); err != nil {
			slog.Warn("rejected recorder update", "err", err)
		} else {
			slog.Info("recorder settings updated")
		}
	}
	if diff.TimeoutsChanged {
		ctrl.SetTimeouts(new.Pipeline.Timeouts())
		slog.Info("stage timeouts updated")
	}
	if diff.SettleChanged {
		sink.SetSettle(new.Pipeline.Settle())
		slog.Info("playback settle updated")
	}
	if diff.PhraseChanged {
		slog.Warn("wake phrase or scorer changed in config; restart to apply")
	}
	if diff.PromptChanged {
		slog.Warn("system prompt or history limit changed in config; restart to apply")
	}
}

// ── Event consumer ────────────────────────────────────────────────────────────

// consumeEvents drains the pipeline event stream until it closes, feeding
// logs and metrics. Reading promptly here keeps the controller from shedding
// events.
func consumeEvents(ctx context.Context, ctrl *pipeline.Controller, metrics *observe.Metrics) {
	var droppedSeen uint64
	for ev := range ctrl.Events() {
		metrics.RecordEvent(ctx, ev)

		if d := ctrl.EventsDropped(); d > droppedSeen {
			metrics.AddEventsDropped(ctx, int64(d-droppedSeen))
			droppedSeen = d
		}

		switch ev.Type {
		case pipeline.EventStateChanged:
			slog.Debug("state changed", "state", ev.State)
		case pipeline.EventWakeDetected:
			slog.Info("wake word detected", "confidence", ev.Confidence, "degraded", ev.Degraded)
		case pipeline.EventCaptureFinished:
			slog.Info("command captured", "duration", ev.Duration, "reason", ev.Reason)
		case pipeline.EventSegmentDiscarded:
			slog.Info("command discarded", "reason", ev.Reason)
		case pipeline.EventTranscript:
			slog.Info("transcript", "text", ev.Text, "elapsed", ev.Elapsed)
		case pipeline.EventReply:
			slog.Info("reply generated", "chars", len(ev.Text), "elapsed", ev.Elapsed)
		case pipeline.EventSpeechFinished:
			slog.Info("reply spoken", "elapsed", ev.Elapsed)
		case pipeline.EventStageFailed:
			slog.Error("stage failed", "stage", ev.Stage, "err", ev.Err)
		}
	}
}

// ── Admin server ──────────────────────────────────────────────────────────────

// adminServer builds the HTTP server exposing health, readiness, and metrics.
func adminServer(cfg *config.Config, ctrl *pipeline.Controller, metrics *observe.Metrics) *http.Server {
	checkers := []health.Checker{health.PipelineChecker(ctrl)}
	if url := cfg.Providers.Transcribe.BaseURL; url != "" {
		checkers = append(checkers, health.EndpointChecker("transcribe", url, nil))
	}
	if url := cfg.Providers.Synth.BaseURL; url != "" {
		checkers = append(checkers, health.EndpointChecker("synth", url, nil))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         earshot — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcribe", cfg.Providers.Transcribe.Name, cfg.Providers.Transcribe.Model)
	printProvider("Respond", cfg.Providers.Respond.Name, cfg.Providers.Respond.Model)
	printProvider("Synth", cfg.Providers.Synth.Name, cfg.Providers.Synth.Model)
	fmt.Printf("║  Wake phrase     : %-19s ║\n", clip(cfg.Wakeword.Phrase, 19))
	fmt.Printf("║  Audio backend   : %-19s ║\n", backendName(cfg.Audio.Backend))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, clip(value, 19))
}

func backendName(b config.Backend) string {
	if b == "" {
		return string(config.BackendMalgo)
	}
	return string(b)
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max-1] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
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

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a float value; YAML decodes both ints and floats here.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optInt extracts an integer value.
func optInt(opts map[string]any, key string) (int, bool) {
	if v, ok := opts[key].(int); ok {
		return v, true
	}
	return 0, false
}

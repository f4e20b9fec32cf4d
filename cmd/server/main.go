package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/chat"
	"github.com/lexiqai/device-gateway/internal/config"
	"github.com/lexiqai/device-gateway/internal/gateway"
	"github.com/lexiqai/device-gateway/internal/observability"
	"github.com/lexiqai/device-gateway/internal/resilience"
	"github.com/lexiqai/device-gateway/internal/session"
	"github.com/lexiqai/device-gateway/internal/stt"
	"github.com/lexiqai/device-gateway/internal/tts"
	"github.com/lexiqai/device-gateway/internal/vision"
	"github.com/lexiqai/device-gateway/internal/voiceprint"
	"github.com/lexiqai/device-gateway/internal/wakeword"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("ws_path", cfg.WSPath).
		Str("stt", cfg.STTProvider).
		Str("tts", cfg.TTSProvider).
		Str("chat", cfg.ChatProvider).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Device Gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Device Gateway failed")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	p, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	registry := gateway.NewRegistry()
	handler := gateway.NewHandler(session.OptionsFromConfig(cfg), p.deps, registry)

	mux := http.NewServeMux()
	mux.Handle(cfg.WSPath, handler)
	mux.HandleFunc("/health", observability.HealthCheckHandler(registry.Count))
	mux.HandleFunc("/ready", observability.ReadinessHandler(p.checks))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No write timeout: device connections are long lived websockets
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s%s", cfg.Port, cfg.WSPath)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := registry.CloseAll(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Sessions did not close in time")
		}
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type providers struct {
	deps    session.Deps
	checks  map[string]observability.HealthCheckFunc
	closers []func() error
}

func (p *providers) close() {
	for _, c := range p.closers {
		c()
	}
}

func guardFor(name string, cfg *config.Config) *resilience.Guard {
	return resilience.NewGuard(name, resilience.GuardConfig{
		Timeout:      cfg.CollaboratorTimeout(),
		Concurrency:  cfg.ProviderConcurrency,
		MaxFailures:  cfg.CircuitBreakerMaxFailures,
		ResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	})
}

// breakerCheck reports a provider ready while its circuit is not open
func breakerCheck(g *resilience.Guard) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if st := g.Breaker().Stats(); st.State == resilience.StateOpen {
			return false, fmt.Errorf("%s circuit open (%.0f%% of %d calls failed)", g.Name(), st.FailureRate, st.Requests)
		}
		return true, nil
	}
}

func buildProviders(ctx context.Context, cfg *config.Config) (*providers, error) {
	logger := observability.WithComponent("main")
	p := &providers{checks: make(map[string]observability.HealthCheckFunc)}

	// Speech to text
	artifacts, err := stt.NewArtifactWriter(cfg.ArtifactDir, cfg.InputSampleRate)
	if err != nil {
		return nil, err
	}
	sttGuard := guardFor("stt", cfg)
	var transcriber stt.Transcriber
	switch cfg.STTProvider {
	case "deepgram":
		transcriber = stt.NewDeepgramClient(cfg, artifacts)
		p.checks["stt"] = breakerCheck(sttGuard)
	default:
		whisper := stt.NewWhisperClient(cfg.WhisperURL, cfg.WhisperLanguage, artifacts)
		transcriber = whisper
		p.checks["stt"] = whisper.HealthCheck
	}
	p.deps.STT = stt.WithGuard(transcriber, sttGuard)

	// Text to speech
	var synth tts.Synthesizer
	switch cfg.TTSProvider {
	case "cartesia":
		synth = tts.NewCartesiaClient(cfg)
	default:
		synth = tts.NewSpeechClient(cfg, nil)
	}
	ttsGuard := guardFor("tts", cfg)
	p.deps.TTS = tts.NewSpeaker(synth, ttsGuard, cfg.OutputSampleRate, cfg.FrameDuration())
	p.checks["tts"] = breakerCheck(ttsGuard)

	// Chat
	var chatClient chat.Client
	switch cfg.ChatProvider {
	case "orchestrator":
		orch, err := chat.NewOrchestratorClient(cfg.OrchestratorURL, cfg.OrchestratorTLSEnabled, cfg.SystemPrompt)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, orch.Close)
		p.checks["chat"] = orch.HealthCheck
		chatClient = orch
	default:
		oc, err := chat.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ChatModel, cfg.SystemPrompt, nil)
		if err != nil {
			return nil, err
		}
		chatClient = oc
	}
	chatGuard := guardFor("chat", cfg)
	p.deps.Chat = chat.WithGuard(chatClient, chatGuard)
	if _, ok := p.checks["chat"]; !ok {
		p.checks["chat"] = breakerCheck(chatGuard)
	}

	// Image questions need an OpenAI compatible multimodal model
	if cfg.OpenAIAPIKey != "" {
		vc, err := chat.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.VisionModel, cfg.SystemPrompt, nil)
		if err != nil {
			return nil, err
		}
		p.deps.Vision = chat.WithGuard(vc, guardFor("vision", cfg))
		p.deps.Images = vision.NewSource(cfg.CameraURL, cfg.ImageDir, cfg.VisionMaxImages)
	} else {
		logger.Info().Msg("OPENAI_API_KEY not set, visual questions disabled")
	}

	// Voiceprint
	if cfg.VoiceprintURL != "" {
		vp := voiceprint.NewClient(cfg.VoiceprintURL, cfg.VoiceprintThreshold, cfg.InputSampleRate, guardFor("voiceprint", cfg))
		p.deps.Voiceprint = vp
		p.checks["voiceprint"] = vp.HealthCheck
	}

	// Wake words
	wakeCfg, err := config.LoadWakeWords(cfg.WakeWordConfig)
	if err != nil {
		return nil, err
	}
	table, err := wakeword.NewTable(wakeCfg)
	if err != nil {
		return nil, err
	}
	assets := wakeword.NewAssets(cfg.OutputSampleRate, cfg.FrameDuration(), nil)
	if table.Enabled() {
		warm := append(table.Assets(), table.Pool()...)
		if err := assets.Warm(ctx, warm); err != nil {
			return nil, fmt.Errorf("warm wake assets: %w", err)
		}
		logger.Info().Int("assets", len(warm)).Msg("Wake word assets loaded")
	}
	p.deps.Wake = table
	p.deps.Assets = assets

	p.deps.NewDecoder = func() (session.FrameDecoder, error) {
		dec, err := audio.NewDecoder(cfg.InputSampleRate, cfg.FrameDuration())
		if err != nil {
			return nil, err
		}
		return dec, nil
	}
	return p, nil
}

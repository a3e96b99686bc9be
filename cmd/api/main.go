// Package main is the entry point for the relay server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-relay/internal/assistant"
	"github.com/capitalize-ai/assistant-relay/internal/config"
	"github.com/capitalize-ai/assistant-relay/internal/handler"
	"github.com/capitalize-ai/assistant-relay/internal/llm"
	"github.com/capitalize-ai/assistant-relay/internal/media"
	natsclient "github.com/capitalize-ai/assistant-relay/internal/nats"
	"github.com/capitalize-ai/assistant-relay/internal/service"
	"github.com/capitalize-ai/assistant-relay/internal/session"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
	"github.com/capitalize-ai/assistant-relay/pkg/tracing"
)

const serviceName = "assistant-relay"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting relay server",
		zap.String("scope", cfg.ConversationScope),
		zap.String("image_policy", cfg.ImagePolicy),
		zap.String("session_store", cfg.SessionStore),
	)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	var (
		natsClient *natsclient.Client
		exchanges  *natsclient.ExchangeStream
		recorder   service.ExchangeRecorder = service.NoopRecorder{}
	)
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		exchanges = natsclient.NewExchangeStream(natsClient, cfg.ExchangeRetention)
		if err := exchanges.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure exchange stream", zap.Error(err))
		}
		recorder = exchanges
	}

	// Session store
	sessions, err := openSessionStore(ctx, cfg, natsClient, log)
	if err != nil {
		log.Fatal("failed to open session store", zap.Error(err))
	}
	defer sessions.Close()

	// Images
	uploads, err := media.NewStore(cfg.UploadDir)
	if err != nil {
		log.Fatal("failed to create upload directory", zap.Error(err))
	}
	fetcher := media.NewFetcher(media.FetcherOptions{
		Timeout:   cfg.ImageFetchTimeout,
		UserAgent: cfg.ImageFetchUserAgent,
		Referer:   cfg.ImageFetchReferer,
		Fallbacks: cfg.ImageFetchFallbacks,
		MaxBytes:  cfg.MaxImageBytes,
	}, log)
	materializer := media.NewMaterializer(media.MaterializerOptions{
		Policy:        cfg.ImagePolicy,
		PublicBaseURL: cfg.PublicBaseURL,
		MaxBytes:      cfg.MaxImageBytes,
	}, fetcher, uploads, log)

	var sweeper *media.Sweeper
	if cfg.ImagePolicy == config.ImagePolicyRehost {
		sweeper, err = media.NewSweeper(uploads, cfg.UploadSweepSchedule, cfg.UploadRetention, log)
		if err != nil {
			log.Fatal("invalid upload sweep schedule", zap.Error(err))
		}
		sweeper.Start()
	}

	// Initialize vision describer
	visionKey := cfg.OpenAIAPIKey
	visionBaseURL := cfg.OpenAIBaseURL
	if llm.Provider(cfg.VisionProvider) == llm.ProviderAnthropic {
		visionKey = cfg.AnthropicAPIKey
		visionBaseURL = ""
	}
	describer, err := llm.NewDescriber(llm.Provider(cfg.VisionProvider), llm.Options{
		APIKey:  visionKey,
		BaseURL: visionBaseURL,
		Model:   cfg.VisionModel,
	})
	if err != nil {
		log.Warn("vision describer disabled, image requests will fail", zap.Error(err))
		describer = nil
	} else if cfg.VisionModel != "" && !slices.Contains(describer.Models(), cfg.VisionModel) {
		log.Warn("vision model is not in the provider's known list",
			zap.String("provider", describer.Name()),
			zap.String("model", cfg.VisionModel),
			zap.Strings("known", describer.Models()),
		)
	}

	// Initialize assistant
	var conv service.Conversationalist
	if cfg.OpenAIAPIKey != "" && cfg.OpenAIAssistantID != "" {
		api := assistant.NewOpenAIClient(assistant.ClientOptions{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			BetaHeader: cfg.OpenAIBetaHeader,
			Timeout:    cfg.ServerWriteTimeout,
		})
		conv = assistant.NewDriver(api, describer, assistant.Options{
			AssistantID:        cfg.OpenAIAssistantID,
			PollInterval:       cfg.RunPollInterval,
			MaxAttempts:        cfg.RunPollMaxAttempts,
			PollTimeout:        cfg.RunPollTimeout,
			DefaultImagePrompt: cfg.DefaultImagePrompt,
			VisionModel:        cfg.VisionModel,
			VisionMaxTokens:    cfg.VisionMaxTokens,
		}, log)
	}

	// Initialize services
	relay := service.NewRelayService(conv, materializer, uploads, sessions, recorder, service.Options{
		Scope:             cfg.ConversationScope,
		SessionTTL:        cfg.SessionTTL,
		UploadDeleteAfter: cfg.UploadDeleteAfter,
	}, log)

	routerCfg := handler.RouterConfig{
		Relay:             relay,
		Uploads:           uploads,
		NATS:              natsClient,
		Logger:            log,
		AuthEnabled:       cfg.AuthEnabled,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	}
	if exchanges != nil {
		routerCfg.Exchanges = exchanges
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(routerCfg),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}

	log.Info("server stopped")
}

func openSessionStore(ctx context.Context, cfg *config.Config, nc *natsclient.Client, log *logger.Logger) (session.Store, error) {
	switch cfg.SessionStore {
	case config.SessionStoreBolt:
		store, err := session.OpenBoltStore(cfg.SessionBoltPath)
		if err != nil {
			return nil, err
		}
		if pruned, err := store.Prune(); err != nil {
			log.Warn("failed to prune expired sessions", zap.Error(err))
		} else if pruned > 0 {
			log.Info("pruned expired sessions", zap.Int("count", pruned))
		}
		return store, nil
	case config.SessionStoreNATS:
		return natsclient.NewSessionKV(ctx, nc, cfg.SessionTTL)
	default:
		return session.NewMemoryStore(), nil
	}
}

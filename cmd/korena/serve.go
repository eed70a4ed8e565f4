// Copyright 2024 Korena Digital Solutions
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/korena-digital/korena-web/internal/assistant"
	"github.com/korena-digital/korena-web/internal/catalog"
	"github.com/korena-digital/korena-web/internal/chroma"
	"github.com/korena-digital/korena-web/internal/config"
	"github.com/korena-digital/korena-web/internal/health"
	"github.com/korena-digital/korena-web/internal/kv"
	"github.com/korena-digital/korena-web/internal/leads"
	"github.com/korena-digital/korena-web/internal/metrics"
	"github.com/korena-digital/korena-web/internal/openai"
	"github.com/korena-digital/korena-web/internal/ratelimit"
	"github.com/korena-digital/korena-web/internal/server"
	"github.com/korena-digital/korena-web/internal/speech"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath)
		},
	}
}

// app holds the long-lived collaborators built by buildApp
type app struct {
	deps          server.Dependencies
	chatLimiter   *ratelimit.Limiter
	speechLimiter *ratelimit.Limiter
	closers       []func() error
}

func (a *app) close(logger *zap.Logger) {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, level, err := initializeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.String("environment", os.Getenv("ENVIRONMENT")),
		zap.Int("port", masked.Server.Port),
		zap.String("inference_base_url", masked.Inference.BaseURL),
		zap.String("inference_api_key", masked.Inference.APIKey),
		zap.String("chroma_url", masked.Chroma.URL),
		zap.String("kv_backend", masked.KV.Backend),
		zap.String("leads_webhook_url", masked.Leads.WebhookURL),
	)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := buildApp(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	defer a.close(logger)

	if configPath != "" || os.Getenv("CONFIG_PATH") != "" {
		watchErr := config.WatchConfig(configPath, func(next *config.Config) {
			applyReload(next, level, a, logger)
		}, func(err error) {
			logger.Warn("Ignoring invalid configuration change", zap.Error(err))
		})
		if watchErr != nil {
			logger.Warn("Configuration hot reload disabled", zap.Error(watchErr))
		}
	}

	srv := server.New(cfg.Server.Port, a.deps)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// buildApp assembles every collaborator once from cfg
func buildApp(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{}

	store := newCounterStore(cfg.KV, logger)
	a.closers = append(a.closers, store.Close)

	a.chatLimiter = ratelimit.NewChatLimiter(store, ratelimit.Policy{
		Limit:  cfg.RateLimit.ChatLimit,
		Window: cfg.RateLimit.ChatWindow(),
	}, logger, m)
	a.speechLimiter = ratelimit.NewSpeechLimiter(store, ratelimit.Policy{
		Limit:  cfg.RateLimit.SpeechLimit,
		Window: cfg.RateLimit.SpeechWindow(),
	}, logger, m)

	inference, err := openai.NewClient(openai.Options{
		APIKey:         cfg.Inference.APIKey,
		BaseURL:        cfg.Inference.BaseURL,
		EmbeddingModel: cfg.Inference.EmbeddingModel,
		ChatModel:      cfg.Inference.ChatModel,
		SpeechModel:    cfg.Inference.SpeechModel,
	}, logger)
	if err != nil {
		a.close(logger)
		return nil, fmt.Errorf("failed to initialize inference client: %w", err)
	}

	index := chroma.NewClient(cfg.Chroma.URL, cfg.Chroma.CollectionName, logger)
	retriever := assistant.NewRetriever(inference, index, cfg.Chroma.TopK, logger, m)

	manager := health.NewManager(serviceName, version, logger)
	if pinger, ok := store.(kv.Pinger); ok {
		manager.AddChecker("counter_store", health.PingChecker("counter store", health.StatusDegraded, pinger.Ping))
	}
	manager.AddChecker("vector_index", health.PingChecker("vector index", health.StatusDegraded, index.HealthCheck))
	manager.AddChecker("inference", health.StaticChecker(cfg.Inference.APIKey != "", health.StatusUnhealthy,
		"inference API key not configured", map[string]any{"chat_model": cfg.Inference.ChatModel}))
	manager.AddChecker("lead_webhook", health.StaticChecker(cfg.Leads.WebhookURL != "", health.StatusDegraded,
		"lead webhook URL not configured", nil))

	webhookTimeout := time.Duration(cfg.Leads.TimeoutSeconds) * time.Second
	a.deps = server.Dependencies{
		Assistant: assistant.NewService(retriever, inference, a.chatLimiter, assistant.Options{
			MaxTokens:   cfg.Inference.MaxTokens,
			Temperature: float32(cfg.Inference.Temperature),
		}, logger, m),
		Speech: speech.NewService(inference, a.speechLimiter, logger, m),
		Leads: leads.NewService(
			leads.NewWebhook(cfg.Leads.ClientIdentifier, webhookTimeout),
			leads.Options{
				WebhookURL:  cfg.Leads.WebhookURL,
				MaxAttempts: cfg.Leads.MaxAttempts,
				BaseDelay:   cfg.Leads.BaseDelay(),
			}, logger, m),
		Health:         manager,
		Metrics:        m,
		Logger:         logger,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		LeadTimeout:    server.LeadTimeout(cfg.Leads.MaxAttempts, cfg.Leads.BaseDelay(), webhookTimeout),
		AllowedOrigin:  cfg.Server.AllowedOrigin,
	}

	if cfg.Catalog.DBPath != "" {
		if _, statErr := os.Stat(cfg.Catalog.DBPath); statErr == nil {
			cat, err := catalog.NewStore(cfg.Catalog.DBPath, logger)
			if err != nil {
				logger.Warn("Catalog unavailable", zap.Error(err))
			} else {
				a.closers = append(a.closers, cat.Close)
				manager.AddChecker("catalog", health.PingChecker("catalog", health.StatusDegraded, cat.Ping))
			}
		}
	}

	return a, nil
}

func newCounterStore(cfg config.KVConfig, logger *zap.Logger) kv.Store {
	if cfg.Backend == "redis" {
		return kv.NewRedisStore(kv.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "korena:",
		}, logger)
	}
	logger.Info("Using in-memory counter store; limits are per instance")
	return kv.NewMemoryStore()
}

// applyReload pushes hot-reloadable settings into running components
func applyReload(cfg *config.Config, level zap.AtomicLevel, a *app, logger *zap.Logger) {
	level.SetLevel(parseLevel(cfg.Logging.Level))
	a.chatLimiter.SetPolicy(ratelimit.Policy{Limit: cfg.RateLimit.ChatLimit, Window: cfg.RateLimit.ChatWindow()})
	a.speechLimiter.SetPolicy(ratelimit.Policy{Limit: cfg.RateLimit.SpeechLimit, Window: cfg.RateLimit.SpeechWindow()})

	logger.Info("Configuration reloaded",
		zap.String("log_level", cfg.Logging.Level),
		zap.Int("chat_limit", cfg.RateLimit.ChatLimit),
		zap.Int("speech_limit", cfg.RateLimit.SpeechLimit))
}

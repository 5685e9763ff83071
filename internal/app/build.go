package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/memvault/internal/automation"
	"github.com/antoniostano/memvault/internal/config"
	"github.com/antoniostano/memvault/internal/embedding"
	"github.com/antoniostano/memvault/internal/extract"
	"github.com/antoniostano/memvault/internal/httpapi"
	"github.com/antoniostano/memvault/internal/integrator"
	"github.com/antoniostano/memvault/internal/memory"
	"github.com/antoniostano/memvault/internal/notify"
	"github.com/antoniostano/memvault/internal/observability"
	"github.com/antoniostano/memvault/internal/policy"
	"github.com/antoniostano/memvault/internal/session"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Vault      *memory.Vault
	Integrator *integrator.Integrator
	Contexts   *session.ContextStore
	Hub        *notify.Hub
	Metrics    *observability.Metrics

	// Cleanup should be called on shutdown to release the store and caches.
	Cleanup func() error
}

// Build wires the vault, the ingestion pipeline and the HTTP API. reg
// receives the metrics; nil uses the default Prometheus registry.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, registerer)

	store, err := memory.NewStore(ctx, memory.Options{
		DatabaseURL:  cfg.DatabaseURL,
		SQLitePath:   cfg.SQLitePath,
		EmbeddingDim: cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	embedder, closeEmbedder, err := embedding.NewProvider(embedding.Options{
		Kind:         cfg.EmbeddingProvider,
		Model:        cfg.EmbeddingModel,
		BaseURL:      cfg.EmbeddingBaseURL,
		APIKey:       cfg.OpenAIAPIKey,
		Dimensions:   cfg.EmbeddingDim,
		CacheMaxCost: cfg.EmbeddingCacheMaxCost,
		RateLimit:    cfg.EmbeddingRateLimit,
		MaxRetries:   cfg.EmbeddingMaxRetries,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("embedding provider init failed: %w", err)
	}

	extractor, err := extract.New(extract.Options{
		Kind:            cfg.ExtractorProvider,
		Model:           cfg.ExtractorModel,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		BaseURL:         cfg.ExtractorBaseURL,
	})
	if err != nil {
		closeEmbedder()
		_ = store.Close()
		return nil, fmt.Errorf("extractor init failed: %w", err)
	}

	vault := memory.NewVault(store, embedder, memory.Config{
		SimilarityThreshold:    cfg.SimilarityThreshold,
		SummaryAppendThreshold: cfg.SummaryAppendThreshold,
		CandidateWindow:        cfg.CandidateWindow,
	}, memory.WithLogger(logger), memory.WithMetrics(metrics))

	contexts := session.NewContextStore(cfg.ContextMaxHistory, cfg.ContextInactivityTimeout)
	contexts.SetExpireHook(func(ownerID string) {
		logger.Debug("conversation context expired", "owner_id", ownerID)
	})

	hub := notify.NewHub(notify.DefaultBuffer, logger)
	hub.OnDrop(func(string) { metrics.IncCallbackFailure("notify") })

	opts := []integrator.Option{
		integrator.WithNotifier(hub),
		integrator.WithAutomator(automation.NewDispatcher(automation.NewLogExecutor(logger), logger)),
		integrator.WithContextStore(contexts),
		integrator.WithMetrics(metrics),
		integrator.WithLogger(logger),
	}
	if cfg.RedactPII {
		opts = append(opts, integrator.WithRedactor(policy.NewRedactor()))
	}
	ing := integrator.New(vault, extractor, opts...)

	api := httpapi.New(cfg, httpapi.Deps{
		Vault:      vault,
		Integrator: ing,
		Hub:        hub,
		Metrics:    metrics,
		Gatherer:   gatherer,
		Logger:     logger,
	})

	logger.Info("memory vault ready",
		"store_mode", cfg.StoreMode(),
		"embedding_provider", cfg.EmbeddingProvider,
		"extractor_provider", cfg.ExtractorProvider,
	)

	cleanup := func() error {
		closeEmbedder()
		if err := store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Vault:      vault,
		Integrator: ing,
		Contexts:   contexts,
		Hub:        hub,
		Metrics:    metrics,
		Cleanup:    cleanup,
	}, nil
}

// Package bootstrap provides dependency initialization for the ScenePartner API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/scenepartner-api/internal/aligner"
	"github.com/maauso/scenepartner-api/internal/cache"
	"github.com/maauso/scenepartner-api/internal/config"
	"github.com/maauso/scenepartner-api/internal/hydration"
	"github.com/maauso/scenepartner-api/internal/observability"
	"github.com/maauso/scenepartner-api/internal/run"
	"github.com/maauso/scenepartner-api/internal/script"
	"github.com/maauso/scenepartner-api/internal/storage"
	"github.com/maauso/scenepartner-api/internal/synth"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Hydration *hydration.Service
	Scripts   script.Repository
	Runs      run.Repository
	Metrics   http.Handler
	// AudioDir is the local clip directory, empty when clips go to S3.
	AudioDir string

	cache *cache.DiskCache
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() error {
	if d.cache != nil {
		return d.cache.Close()
	}
	return nil
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, audioDir, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize synthesis and alignment clients
	synthClient, err := synth.NewClient(cfg.SynthesisURL,
		synth.WithAPIKey(cfg.SynthesisAPIKey),
		synth.WithModelID(cfg.SynthesisModelID),
	)
	if err != nil {
		return nil, fmt.Errorf("create synthesis client: %w", err)
	}
	alignClient, err := aligner.NewClient(cfg.AlignmentURL, aligner.WithAPIKey(cfg.AlignmentAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create alignment client: %w", err)
	}

	// Initialize line persistence: in-memory store behind a disk cache
	diskCache, err := cache.NewDiskCache(cfg.CacheDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create disk cache: %w", err)
	}
	lineStore := script.NewMemoryRepository()
	scripts := &script.Tiered{Cache: diskCache, Store: lineStore}

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	svc := hydration.NewService(synthClient, alignClient, store,
		hydration.WithLogger(logger),
		hydration.WithMetrics(metrics),
		hydration.WithCache(diskCache),
		hydration.WithStore(lineStore),
		hydration.WithModelID(cfg.SynthesisModelID),
		hydration.WithDefaultVoice(cfg.DefaultVoiceID),
		hydration.WithBatchMaxChars(cfg.BatchMaxChars),
		hydration.WithBatchDelay(cfg.BatchDelay),
		hydration.WithMaxConcurrentUploads(cfg.MaxConcurrentUploads),
		hydration.WithPadding(cfg.StartPaddingSec, cfg.EndPaddingSec),
	)

	return &Dependencies{
		Hydration: svc,
		Scripts:   scripts,
		Runs:      run.NewMemoryRepository(),
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		AudioDir:  audioDir,
		cache:     diskCache,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
// The returned directory is set only for local storage.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, string, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(context.Background(), s3Cfg)
		if err != nil {
			return nil, "", fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, "", nil
	}

	localStore, err := storage.NewLocalStorage(cfg.StorageDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("dir", localStore.Dir()),
		slog.String("base_url", cfg.PublicBaseURL),
	)
	return localStore, localStore.Dir(), nil
}

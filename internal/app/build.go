package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/scribe/internal/archive"
	"github.com/ent0n29/scribe/internal/config"
	"github.com/ent0n29/scribe/internal/coordinator"
	"github.com/ent0n29/scribe/internal/httpapi"
	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/provider"
	"github.com/ent0n29/scribe/internal/recording"
	"github.com/ent0n29/scribe/internal/session"
)

type ProviderInfo struct {
	Transcriber string
	Summarizer  string
	StoreMode   string
	Archive     bool
}

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Coordinator *coordinator.Coordinator
	Registry    *session.Registry
	Store       recording.Store
	Metrics     *observability.Metrics
	Providers   ProviderInfo

	// Cleanup releases the store. Call it after the coordinator has drained.
	Cleanup func() error
}

// Build wires every component from cfg. The registry janitor runs until ctx
// is cancelled.
func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = log.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, storeMode, err := recording.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("recording store init failed: %w", err)
	}
	logger.Info("recording store ready", "mode", storeMode)

	transcriber, summarizer, err := provider.FromConfig(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("provider init failed: %w", err)
	}

	var archiver coordinator.Archiver
	if strings.TrimSpace(cfg.GDriveFolderID) != "" {
		exporter, err := archive.NewDriveExporter(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID, cfg.ArchiveRedactPII, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("drive archive init failed: %w", err)
		}
		archiver = exporter
		logger.Info("drive archive enabled", "folder_id", cfg.GDriveFolderID, "redact_pii", cfg.ArchiveRedactPII)
	}

	registry := session.NewRegistry(cfg.TombstoneTTL, cfg.MaxSessionChunks)
	coord, err := coordinator.New(coordinator.Options{
		Logger:          logger,
		Metrics:         metrics,
		Registry:        registry,
		Store:           store,
		Transcriber:     transcriber,
		Summarizer:      summarizer,
		Archiver:        archiver,
		MaxChunkBytes:   cfg.MaxChunkBytes,
		SampleRate:      cfg.AudioSampleRate,
		DefaultMimeType: cfg.DefaultMimeType,
		PipelineTimeout: cfg.PipelineTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	registry.StartJanitor(ctx, cfg.SweepInterval, cfg.SessionMaxAge)

	providers := ProviderInfo{
		Transcriber: transcriber.Name(),
		Summarizer:  summarizer.Name(),
		StoreMode:   storeMode,
		Archive:     archiver != nil,
	}
	api := httpapi.New(cfg, store, coord, metrics, logger, httpapi.ReadyInfo{
		StoreMode:   storeMode,
		Transcriber: providers.Transcriber,
		Summarizer:  providers.Summarizer,
	})

	cleanup := func() error {
		if err := store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Coordinator: coord,
		Registry:    registry,
		Store:       store,
		Metrics:     metrics,
		Providers:   providers,
		Cleanup:     cleanup,
	}, nil
}

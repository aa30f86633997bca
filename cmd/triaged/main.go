package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/classify"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/enrich"
	"github.com/citydocs/triage/internal/extract"
	"github.com/citydocs/triage/internal/ingest"
	"github.com/citydocs/triage/internal/pipeline"
	"github.com/citydocs/triage/internal/rules"
	"github.com/citydocs/triage/internal/store"
	"github.com/citydocs/triage/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database.DSN, logger)
	if err != nil {
		logger.Error("opening store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ruleManager := rules.NewManager(cfg.Rules.Path, logger)

	var opts []pipeline.Option
	if cfg.Extraction.Provider == "remote" {
		opts = append(opts, pipeline.WithRemoteExtractor(extract.NewRemoteExtractor(extract.RemoteConfig{
			Endpoint:      cfg.Extraction.Endpoint,
			APIKey:        cfg.Extraction.APIKey,
			Timeout:       cfg.Extraction.Timeout,
			RatePerSecond: cfg.Extraction.RatePerSecond,
		}, logger)))
	}
	if cfg.Classifier.Provider == "openai" {
		remote, err := classify.NewOpenAIClassifier(classify.OpenAIConfig{
			Model:       cfg.Classifier.Model,
			APIKey:      cfg.Classifier.APIKey,
			BaseURL:     cfg.Classifier.BaseURL,
			Temperature: cfg.Classifier.Temperature,
			Timeout:     cfg.Classifier.Timeout,
		}, logger)
		if err != nil {
			logger.Error("building openai classifier", "error", err)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithRemoteClassifier(remote))

		// Same credentials drive field enrichment for documents the
		// pattern extractor leaves incomplete.
		enricher, err := enrich.NewOpenAIEnricher(enrich.OpenAIConfig{
			Model:       cfg.Classifier.Model,
			APIKey:      cfg.Classifier.APIKey,
			BaseURL:     cfg.Classifier.BaseURL,
			Temperature: cfg.Classifier.Temperature,
			Timeout:     cfg.Classifier.Timeout,
		}, logger)
		if err != nil {
			logger.Error("building openai enricher", "error", err)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithFieldEnricher(enricher))
	}

	processor := pipeline.NewProcessor(st, ruleManager, cfg.Pipeline, logger, opts...)
	ingestSvc := ingest.NewService(st, processor, cfg.Worker.MaxAttempts, logger)

	pool := worker.NewPool(st, cfg.Worker, logger)
	pool.Register(constants.JobTypeProcessDocument, ingestSvc.HandleJob)
	if cfg.Worker.Enabled {
		pool.Start(ctx)
	}

	logger.Info("triaged started",
		"db", cfg.Database.DSN,
		"rules", cfg.Rules.Path,
		"extraction_provider", cfg.Extraction.Provider,
		"classifier_provider", cfg.Classifier.Provider,
		"worker_enabled", cfg.Worker.Enabled)

	<-ctx.Done()
	logger.Info("shutting down, draining workers")
	if cfg.Worker.Enabled {
		pool.Stop()
	}
	logger.Info("stopped")
}

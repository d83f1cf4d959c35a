package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kalambet/finrag/internal/composer"
	"github.com/kalambet/finrag/internal/config"
	"github.com/kalambet/finrag/internal/engine"
	"github.com/kalambet/finrag/internal/ingest"
	"github.com/kalambet/finrag/internal/pipeline"
	"github.com/kalambet/finrag/internal/prices"
	"github.com/kalambet/finrag/internal/reranking"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/storage"
)

// app holds the components shared by chat, ask, ingest and serve.
type app struct {
	cfg       config.Config
	store     *storage.Store
	prices    pipeline.PriceStatistics
	retriever *retrieval.Retriever
	scanner   *ingest.Scanner
	worker    *ingest.Worker
	ingester  *ingest.Ingester
	answerer  pipeline.Answerer
}

// loadConfig loads configuration and sets up logging. A missing API key is
// fatal here, before any question is accepted.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	eng, err := engine.NewGeminiEngine(ctx, engine.Options{
		APIKey:         cfg.Gemini.APIKey,
		Temperature:    cfg.Gemini.Temperature,
		EmbedDimension: cfg.Gemini.EmbedDimension,
	})
	if err != nil {
		return nil, err
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Gemini.ChatModel, cfg.Gemini.EmbedModel, os.Stderr); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	vectors := retrieval.NewSQLiteStore(store.DB())
	embedder := retrieval.NewEmbedder(eng, cfg.Gemini.EmbedModel,
		retrieval.WithConcurrency(cfg.Ingest.EmbedConcurrency))
	retriever := retrieval.NewRetriever(embedder, vectors)

	reranker := reranking.NewReranker(
		eng,
		cfg.Gemini.ChatModel,
		cfg.Enrichment.RerankingEnabled,
		config.Duration(cfg.Enrichment.RerankingTimeout, 5*time.Second),
		cfg.Enrichment.RerankingThreshold,
	)
	gen := pipeline.NewGenerator(
		retriever,
		reranker,
		composer.New(cfg.Retrieval.MaxContextTokens),
		eng,
		cfg.Gemini.ChatModel,
		config.Duration(cfg.Gemini.Timeout, 60*time.Second),
	)

	ps := loadPrices(cfg.Data.PriceFile)
	orch := pipeline.NewOrchestrator(ps, gen, cfg.Retrieval.TopK)

	chunker := ingest.Chunker{Size: cfg.Retrieval.ChunkSize, Overlap: cfg.Retrieval.ChunkOverlap}
	scanner := ingest.NewScanner(store, cfg.Data.Dir)
	worker := ingest.NewWorker(store, embedder, vectors, chunker, 500*time.Millisecond)

	return &app{
		cfg:       cfg,
		store:     store,
		prices:    ps,
		retriever: retriever,
		scanner:   scanner,
		worker:    worker,
		ingester:  ingest.NewIngester(store, scanner, worker),
		answerer:  pipeline.NewRecorder(orch, store),
	}, nil
}

// loadPrices returns nil when the price table cannot be read; price
// questions then fall back to retrieval.
func loadPrices(path string) pipeline.PriceStatistics {
	series, err := prices.LoadCSV(path)
	if err != nil {
		printWarning("share price data unavailable: %v", err)
		return nil
	}
	return series
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}

// ensureCorpus ingests the data directory when nothing has been indexed
// yet, so the first question has something to retrieve from.
func (a *app) ensureCorpus(ctx context.Context) error {
	empty, err := a.retriever.Empty(ctx)
	if err != nil {
		return fmt.Errorf("checking vector store: %w", err)
	}
	if !empty {
		return nil
	}
	printStep("Vector store is empty, ingesting %s", a.cfg.Data.Dir)
	report, err := a.ingester.Sync(ctx)
	if err != nil {
		return fmt.Errorf("initial ingestion: %w", err)
	}
	printReport(report)
	return nil
}

func printReport(r ingest.Report) {
	printSuccess("Ingested %d documents (%d unchanged, %d removed, %d skipped)",
		r.Processed, r.Unchanged, r.Removed, r.Skipped)
}

package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/radstandard/exam-standardizer/internal/batch"
	"github.com/radstandard/exam-standardizer/internal/catalog"
	"github.com/radstandard/exam-standardizer/internal/config"
	"github.com/radstandard/exam-standardizer/internal/domain"
	"github.com/radstandard/exam-standardizer/internal/engine"
	"github.com/radstandard/exam-standardizer/internal/mcpserver"
	"github.com/radstandard/exam-standardizer/internal/parsing"
	"github.com/radstandard/exam-standardizer/internal/repository"
	"github.com/radstandard/exam-standardizer/internal/requestcache"
	"github.com/radstandard/exam-standardizer/internal/rerank"
	"github.com/radstandard/exam-standardizer/internal/retrieval"
	"github.com/radstandard/exam-standardizer/internal/validation"
	"github.com/radstandard/exam-standardizer/pkg/blobstore"
)

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	// Stdio is the MCP transport's wire; all logging must go to stderr
	// regardless of configured output, or it corrupts the JSON-RPC stream.
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg := configManager.Current()
	logger := newLogger(cfg.Logging)

	logger.WithField("transport", cfg.MCP.TransportType).Info("starting exam standardizer MCP server")

	blobStore, err := blobstore.NewFromConfig(cfg.BlobStore)
	if err != nil {
		logger.WithError(err).Fatal("failed to construct blob store")
	}

	parser := parsing.New(cfg.Parsing)

	referenceCatalog, err := catalog.Load(cfg.Retrieval.CatalogPath, parser)
	if err != nil {
		logger.WithError(err).Fatal("failed to load reference catalog")
	}

	embeddingClient := retrieval.NewHTTPEmbeddingClient(cfg.Embedding, logger)

	version := retrieval.ComputeFingerprint(
		configManager.Fingerprint(),
		referenceCatalog.ContentHash(),
		cfg.Retrieval.DefaultRetrieverID,
		cfg.Retrieval.EmbeddingDimension,
	)
	vectorIndex := retrieval.New(version)
	loadVectorIndex(context.Background(), blobStore, vectorIndex, retrieval.BlobKey(cfg.Retrieval.IndexBlobKey, version), logger)

	llmClient := rerank.NewHTTPLLMClient(cfg.Embedding, cfg.Rerank.LLMModel, logger)
	reranker, err := rerank.New(cfg.Rerank.DefaultRerankerID, embeddingClient, llmClient, cfg.Rerank, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to construct reranker")
	}

	validationCache := validation.NewCache(blobStore, logger)
	if _, _, err := validationCache.Reload(context.Background()); err != nil {
		logger.WithError(err).Warn("initial validation cache reload failed, serving empty overlay")
	}

	lookupEngine := engine.New(parser, referenceCatalog, embeddingClient, vectorIndex, reranker, validationCache, *cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, configManager.GetDatabaseConnectionString())
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer dbPool.Close()

	jobRepo := repository.NewBatchJobRepository(dbPool, logger)
	orchestrator := batch.NewWithRepository(lookupEngine, blobStore, jobRepo, cfg.Batch, logger)

	redisTier, err := requestcache.NewRedisTier(cfg.Cache, logger)
	if err != nil {
		logger.WithError(err).Warn("distributed request cache unavailable, falling back to local-only caching")
		redisTier = nil
	}
	requestCache := requestcache.NewWithRemote(cfg.Cache.RequestCacheSize, redisTier)

	mcpSrv := mcpserver.NewServer(cfg.MCP, configManager, lookupEngine, orchestrator, requestCache, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, gracefully shutting down MCP server")
		cancel()
	}()

	if err := mcpSrv.Start(ctx, cfg.MCP.TransportType); err != nil {
		logger.WithError(err).Fatal("MCP server failed")
	}
	logger.Info("MCP server stopped")
}

func loadVectorIndex(ctx context.Context, store domain.BlobStore, index *retrieval.VectorIndex, blobKey string, logger *logrus.Logger) {
	exists, err := store.Exists(ctx, blobKey)
	if err != nil || !exists {
		logger.WithField("blob_key", blobKey).Warn("no persisted vector index found, starting with an empty index")
		return
	}

	data, err := store.Get(ctx, blobKey)
	if err != nil {
		logger.WithError(err).Warn("failed to fetch persisted vector index")
		return
	}

	start := time.Now()
	if err := index.Load(bytes.NewReader(data)); err != nil {
		logger.WithError(err).Warn("persisted vector index rejected, starting with an empty index")
		return
	}
	logger.WithField("elapsed", time.Since(start)).Info("loaded persisted vector index")
}

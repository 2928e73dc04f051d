// Package main provides the lightweight entry point for the exam
// standardizer MCP server. This version requires no Postgres or Redis: a
// single data directory backs the filesystem blob store and a SQLite
// database backs batch job metadata.
package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	"github.com/radstandard/exam-standardizer/internal/setup"
	"github.com/radstandard/exam-standardizer/internal/validation"
	"github.com/radstandard/exam-standardizer/pkg/blobstore"
)

func newLiteLogger(liteCfg *config.LiteConfig) *logrus.Logger {
	logger := logrus.New()
	// Stdio is the MCP transport's wire; all logging must go to stderr
	// regardless of configured output, or it corrupts the JSON-RPC stream.
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(liteCfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if liteCfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewCLI("lite")
		if err := cli.Run(os.Args[2:]); err != nil {
			log.Fatalf("setup failed: %v", err)
		}
		return
	}

	liteCfg := config.LoadLiteConfig()
	if err := liteCfg.EnsureDataDir(); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}
	logger := newLiteLogger(liteCfg)
	logger.WithFields(logrus.Fields{
		"transport": liteCfg.Transport,
		"data_dir":  liteCfg.DataDir,
	}).Info("starting exam standardizer MCP server (lite)")

	configManager, err := config.NewManager()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	cfg := configManager.Current()

	blobStore, err := blobstore.NewFSStore(liteCfg.BlobDir())
	if err != nil {
		logger.WithError(err).Fatal("failed to construct filesystem blob store")
	}

	parser := parsing.New(cfg.Parsing)

	referenceCatalog, err := catalog.Load(cfg.Retrieval.CatalogPath, parser)
	if err != nil {
		logger.WithError(err).Fatal("failed to load reference catalog")
	}

	embeddingCfg := cfg.Embedding
	if liteCfg.EmbeddingBaseURL != "" {
		embeddingCfg.BaseURL = liteCfg.EmbeddingBaseURL
	}
	if liteCfg.EmbeddingAPIKey != "" {
		embeddingCfg.APIKey = liteCfg.EmbeddingAPIKey
	}
	embeddingClient := retrieval.NewHTTPEmbeddingClient(embeddingCfg, logger)

	version := retrieval.ComputeFingerprint(
		configManager.Fingerprint(),
		referenceCatalog.ContentHash(),
		cfg.Retrieval.DefaultRetrieverID,
		cfg.Retrieval.EmbeddingDimension,
	)
	vectorIndex := retrieval.New(version)
	loadVectorIndex(context.Background(), blobStore, vectorIndex, retrieval.BlobKey(cfg.Retrieval.IndexBlobKey, version), logger)

	llmClient := rerank.NewHTTPLLMClient(embeddingCfg, cfg.Rerank.LLMModel, logger)
	reranker, err := rerank.New(cfg.Rerank.DefaultRerankerID, embeddingClient, llmClient, cfg.Rerank, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to construct reranker")
	}

	validationCache := validation.NewCache(blobStore, logger)
	if _, _, err := validationCache.Reload(context.Background()); err != nil {
		logger.WithError(err).Warn("initial validation cache reload failed, serving empty overlay")
	}

	lookupEngine := engine.New(parser, referenceCatalog, embeddingClient, vectorIndex, reranker, validationCache, *cfg, logger)

	jobRepo, err := repository.NewSQLiteBatchJobRepository(liteCfg.SqlitePath())
	if err != nil {
		logger.WithError(err).Fatal("failed to open sqlite batch job store")
	}
	defer jobRepo.Close()

	orchestrator := batch.NewWithRepository(lookupEngine, blobStore, jobRepo, cfg.Batch, logger)

	requestCache := requestcache.New(liteCfg.RequestCacheSize)

	transportType := liteCfg.Transport
	mcpCfg := cfg.MCP
	mcpCfg.TransportType = transportType
	mcpCfg.HTTPPort = liteCfg.HTTPPort

	mcpSrv := mcpserver.NewServer(mcpCfg, configManager, lookupEngine, orchestrator, requestCache, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, gracefully shutting down lite MCP server")
		cancel()
	}()

	if err := mcpSrv.Start(ctx, transportType); err != nil {
		logger.WithError(err).Fatal("lite MCP server failed")
	}
	logger.Info("lite MCP server stopped")
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

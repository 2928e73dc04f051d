// Package main implements the offline cache builder: the idempotent
// procedure of spec.md §4.5 that batch-embeds the reference catalog and
// uploads a versioned VectorIndex to the blob store. The online servers
// never build an index themselves; they only load what this binary
// produced.
package main

import (
	"bytes"
	"context"
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radstandard/exam-standardizer/internal/catalog"
	"github.com/radstandard/exam-standardizer/internal/config"
	"github.com/radstandard/exam-standardizer/internal/parsing"
	"github.com/radstandard/exam-standardizer/internal/retrieval"
	"github.com/radstandard/exam-standardizer/pkg/blobstore"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg := configManager.Current()

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	blobStore, err := blobstore.NewFromConfig(cfg.BlobStore)
	if err != nil {
		logger.WithError(err).Fatal("failed to construct blob store")
	}

	parser := parsing.New(cfg.Parsing)

	referenceCatalog, err := catalog.Load(cfg.Retrieval.CatalogPath, parser)
	if err != nil {
		logger.WithError(err).Fatal("failed to load reference catalog")
	}

	version := retrieval.ComputeFingerprint(
		configManager.Fingerprint(),
		referenceCatalog.ContentHash(),
		cfg.Retrieval.DefaultRetrieverID,
		cfg.Retrieval.EmbeddingDimension,
	)
	blobKey := retrieval.BlobKey(cfg.Retrieval.IndexBlobKey, version)

	ctx := context.Background()

	exists, err := blobStore.Exists(ctx, blobKey)
	if err != nil {
		logger.WithError(err).Fatal("failed to check for existing index blob")
	}
	if exists {
		logger.WithFields(logrus.Fields{
			"blob_key":    blobKey,
			"fingerprint": version.Fingerprint,
		}).Info("index already built for this fingerprint, nothing to do")
		return
	}

	entries := referenceCatalog.All()
	logger.WithField("entries", len(entries)).Info("building vector index")

	embeddingClient := retrieval.NewHTTPEmbeddingClient(cfg.Embedding, logger)

	ids := make([]string, len(entries))
	texts := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		texts[i] = e.EmbeddingText()
	}

	vectors := make([][]float32, 0, len(texts))
	batchSize := cfg.Embedding.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	start := time.Now()
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := embeddingClient.Embed(ctx, texts[i:end])
		if err != nil {
			logger.WithError(err).Fatal("failed to embed catalog batch")
		}
		vectors = append(vectors, chunk...)
		logger.WithFields(logrus.Fields{"embedded": end, "total": len(texts)}).Info("embedding progress")
	}
	logger.WithField("elapsed", time.Since(start)).Info("embedding complete")

	index := retrieval.New(version)
	if err := index.Build(ids, vectors); err != nil {
		logger.WithError(err).Fatal("failed to build vector index")
	}

	var buf bytes.Buffer
	if err := index.Save(&buf); err != nil {
		logger.WithError(err).Fatal("failed to serialize vector index")
	}

	if err := blobStore.Put(ctx, blobKey, buf.Bytes()); err != nil {
		logger.WithError(err).Fatal("failed to upload vector index")
	}

	logger.WithFields(logrus.Fields{
		"blob_key":    blobKey,
		"fingerprint": version.Fingerprint,
		"bytes":       buf.Len(),
	}).Info("vector index built and uploaded")
}

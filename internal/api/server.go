package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/radstandard/exam-standardizer/internal/batch"
	"github.com/radstandard/exam-standardizer/internal/domain"
	"github.com/radstandard/exam-standardizer/internal/engine"
	"github.com/radstandard/exam-standardizer/internal/middleware"
	"github.com/radstandard/exam-standardizer/internal/requestcache"
	"github.com/radstandard/exam-standardizer/internal/rerank"
)

// configFilePath is where POST /config/update writes incoming YAML before
// calling ConfigManager.Reload, matching the path Manager.loadConfig reads
// via viper's "." config path and "config" name.
const configFilePath = "./config.yaml"

// Server is the HTTP surface over the standardize_exam pipeline: request
// routing, validation short-circuit lookup, batch submission, and
// operational endpoints for model discovery, warmup and config reload.
type Server struct {
	configManager   domain.ConfigManager
	engine          *engine.LookupEngine
	batch           *batch.Orchestrator
	requestCache    *requestcache.Cache
	validationCache domain.ValidationCache
	catalog         domain.Catalog
	index           domain.VectorIndex
	embedding       domain.EmbeddingClient
	logger          *logrus.Logger

	router *gin.Engine
	server *http.Server
}

// NewServer wires the pipeline collaborators into a routed gin.Engine.
func NewServer(
	configManager domain.ConfigManager,
	lookupEngine *engine.LookupEngine,
	orchestrator *batch.Orchestrator,
	requestCache *requestcache.Cache,
	validationCache domain.ValidationCache,
	catalog domain.Catalog,
	index domain.VectorIndex,
	embedding domain.EmbeddingClient,
	logger *logrus.Logger,
) *Server {
	cfg := configManager.Current()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(cfg.Server.ReadTimeout))
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	s := &Server{
		configManager:   configManager,
		engine:          lookupEngine,
		batch:           orchestrator,
		requestCache:    requestCache,
		validationCache: validationCache,
		catalog:         catalog,
		index:           index,
		embedding:       embedding,
		logger:          logger,
		router:          router,
	}

	s.setupRoutes()
	return s
}

// Start binds and serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.Current().Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/models", s.handleModels)
	s.router.POST("/warmup", s.handleWarmup)
	s.router.POST("/parse_enhanced", s.handleParseEnhanced)
	s.router.POST("/parse_batch", s.handleParseBatch)
	s.router.GET("/batch_progress/:job_id", s.handleBatchProgress)
	s.router.GET("/config/current", s.handleConfigCurrent)
	s.router.POST("/config/update", s.handleConfigUpdate)
	s.router.POST("/admin/reload-validation-cache", s.handleReloadValidationCache)
}

func (s *Server) handleHealth(c *gin.Context) {
	cfg := s.configManager.Current()
	c.JSON(http.StatusOK, domain.HealthResponse{
		Status:            "healthy",
		ConfigFingerprint: cfg.Retrieval.DefaultRetrieverID + "@" + s.configManager.Fingerprint(),
		IndexPresent:      s.index.Version().Fingerprint != "",
	})
}

func (s *Server) handleModels(c *gin.Context) {
	cfg := s.configManager.Current()
	c.JSON(http.StatusOK, domain.ModelsResponse{
		Retrievers: []domain.RetrieverDescriptor{
			{
				ID:          cfg.Retrieval.DefaultRetrieverID,
				Name:        cfg.Retrieval.DefaultRetrieverID,
				Status:      "active",
				Description: "dense nearest-neighbor retriever over the reference catalog",
			},
		},
		Rerankers: []domain.RerankerDescriptor{
			{ID: rerank.KindCrossEncoder, Name: "Medical cross-encoder", Type: rerank.KindCrossEncoder, Status: activeStatus(cfg.Rerank.DefaultRerankerID, rerank.KindCrossEncoder), Description: "cross-encoder re-scoring of query/candidate pairs"},
			{ID: rerank.KindLLM, Name: "LLM reranker", Type: rerank.KindLLM, Status: activeStatus(cfg.Rerank.DefaultRerankerID, rerank.KindLLM), Description: "LLM-judged candidate ranking via prompt template"},
		},
		DefaultRetriever: cfg.Retrieval.DefaultRetrieverID,
		DefaultReranker:  cfg.Rerank.DefaultRerankerID,
	})
}

func activeStatus(defaultID, kind string) string {
	if defaultID == kind {
		return "active"
	}
	return "available"
}

func (s *Server) handleWarmup(c *gin.Context) {
	start := time.Now()
	components := map[string]string{}

	if len(s.catalog.All()) > 0 {
		components["catalog"] = "ok"
	} else {
		components["catalog"] = "empty"
	}

	if s.index.Version().Fingerprint != "" {
		components["index"] = "ok"
	} else {
		components["index"] = "missing"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if _, err := s.embedding.Embed(ctx, []string{"warmup probe"}); err != nil {
		components["embedding"] = "unreachable: " + err.Error()
	} else {
		components["embedding"] = "ok"
	}

	c.JSON(http.StatusOK, domain.WarmupResponse{
		Components: components,
		ElapsedMs:  time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleParseEnhanced(c *gin.Context) {
	var req domain.ExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	modalityHint := domain.Modality(req.ModalityCode)
	if !modalityHint.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized modality_code: " + req.ModalityCode})
		return
	}

	key := requestcache.Key{
		PreprocessedExam:  req.ExamName,
		ModalityHint:      modalityHint,
		Retriever:         req.Retriever,
		Reranker:          req.Reranker,
		ConfigFingerprint: s.configManager.Fingerprint(),
	}
	if cached, ok := s.requestCache.Get(key); ok {
		c.JSON(http.StatusOK, domain.ToMatchResultResponse(cached))
		return
	}

	result, err := s.engine.StandardizeExam(c.Request.Context(), req.ExamName, modalityHint, req.DataSource)
	if err != nil {
		s.respondPipelineError(c, err)
		return
	}

	s.requestCache.Put(key, result)
	c.JSON(http.StatusOK, domain.ToMatchResultResponse(result))
}

func (s *Server) handleParseBatch(c *gin.Context) {
	var req domain.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := uuid.NewString()
	job := s.batch.Submit(c.Request.Context(), jobID, req)
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleBatchProgress(c *gin.Context) {
	jobID := c.Param("job_id")
	job, ok := s.batch.Progress(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job_id: " + jobID})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleConfigCurrent(c *gin.Context) {
	cfg := s.configManager.Current()
	out, err := yaml.Marshal(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render configuration"})
		return
	}
	c.JSON(http.StatusOK, domain.ConfigCurrentResponse{
		ConfigYAML: string(out),
		Timestamp:  time.Now().UTC(),
	})
}

func (s *Server) handleConfigUpdate(c *gin.Context) {
	var req domain.ConfigUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var candidate domain.Config
	if err := yaml.Unmarshal([]byte(req.ConfigYAML), &candidate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid yaml: " + err.Error()})
		return
	}
	if err := s.configManager.Validate(&candidate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "configuration rejected: " + err.Error()})
		return
	}

	if err := os.WriteFile(configFilePath, []byte(req.ConfigYAML), 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist configuration: " + err.Error()})
		return
	}
	if err := s.configManager.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload configuration: " + err.Error()})
		return
	}
	s.requestCache.Purge()

	c.JSON(http.StatusOK, domain.ConfigUpdateResponse{
		Status:    "reloaded",
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleReloadValidationCache(c *gin.Context) {
	approved, rejected, err := s.validationCache.Reload(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.requestCache.Purge()
	c.JSON(http.StatusOK, domain.ReloadValidationCacheResponse{
		ApprovedCount: approved,
		RejectedCount: rejected,
	})
}

// respondPipelineError maps a domain.PipelineError's code to an HTTP status;
// anything else is an internal error.
func (s *Server) respondPipelineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsCatalogError(err), domain.IsConfigError(err), domain.IsIndexMismatch(err):
		status = http.StatusServiceUnavailable
	case domain.IsRemoteFailure(err):
		status = http.StatusBadGateway
	}
	s.logger.WithError(err).Error("standardize_exam failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/radstandard/exam-standardizer/internal/batch"
	"github.com/radstandard/exam-standardizer/internal/domain"
	"github.com/radstandard/exam-standardizer/internal/engine"
	"github.com/radstandard/exam-standardizer/internal/requestcache"
)

// Server exposes standardize_exam and process_batch as MCP tools, backed by
// the same LookupEngine/Orchestrator/request-cache collaborators the HTTP
// surface in internal/api uses.
type Server struct {
	engine        *engine.LookupEngine
	batch         *batch.Orchestrator
	requestCache  *requestcache.Cache
	configManager domain.ConfigManager
	logger        *logrus.Logger

	mcpServer *mcp.Server
	transport Transport
}

// NewServer builds the MCP server and registers its two tools.
func NewServer(
	cfg domain.MCPConfig,
	configManager domain.ConfigManager,
	lookupEngine *engine.LookupEngine,
	orchestrator *batch.Orchestrator,
	requestCache *requestcache.Cache,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		engine:        lookupEngine,
		batch:         orchestrator,
		requestCache:  requestCache,
		configManager: configManager,
		logger:        logger,
	}

	impl := &mcp.Implementation{Name: cfg.ServerName, Version: cfg.ServerVersion}
	mcpServer := mcp.NewServer(impl, nil)

	mcpServer.AddTool(&mcp.Tool{
		Name:        "standardize_exam",
		Description: "Standardize a raw radiology exam name against the reference catalog, returning the matched clean name, SNOMED code and confidence.",
	}, s.handleStandardizeExam)

	mcpServer.AddTool(&mcp.Tool{
		Name:        "process_batch",
		Description: "Submit a batch of raw exam names for asynchronous standardization and return a job id to poll for progress.",
	}, s.handleProcessBatch)

	s.mcpServer = mcpServer
	return s
}

// standardizeExamParams is the standardize_exam tool's argument shape.
type standardizeExamParams struct {
	ExamName     string `json:"exam_name"`
	ModalityCode string `json:"modality_code,omitempty"`
	DataSource   string `json:"data_source,omitempty"`
	Retriever    string `json:"retriever,omitempty"`
	Reranker     string `json:"reranker,omitempty"`
}

func (s *Server) handleStandardizeExam(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params standardizeExamParams
	if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	return s.standardizeExam(ctx, params)
}

func (s *Server) standardizeExam(ctx context.Context, params standardizeExamParams) (*mcp.CallToolResult, error) {
	if params.ExamName == "" {
		return errorResult("exam_name is required"), nil
	}

	modalityHint := domain.Modality(params.ModalityCode)
	if !modalityHint.IsValid() {
		return errorResult("unrecognized modality_code: " + params.ModalityCode), nil
	}

	key := requestcache.Key{
		PreprocessedExam:  params.ExamName,
		ModalityHint:      modalityHint,
		Retriever:         params.Retriever,
		Reranker:          params.Reranker,
		ConfigFingerprint: s.configManager.Fingerprint(),
	}
	if cached, ok := s.requestCache.Get(key); ok {
		return resultFromResponse(domain.ToMatchResultResponse(cached))
	}

	result, err := s.engine.StandardizeExam(ctx, params.ExamName, modalityHint, params.DataSource)
	if err != nil {
		s.logger.WithError(err).Error("standardize_exam tool call failed")
		return errorResult(err.Error()), nil
	}
	s.requestCache.Put(key, result)

	return resultFromResponse(domain.ToMatchResultResponse(result))
}

// processBatchParams is the process_batch tool's argument shape.
type processBatchParams struct {
	Exams     []domain.ExamBatchItem `json:"exams"`
	Retriever string                 `json:"retriever,omitempty"`
	Reranker  string                 `json:"reranker,omitempty"`
}

func (s *Server) handleProcessBatch(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params processBatchParams
	if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	return s.processBatch(ctx, params)
}

func (s *Server) processBatch(ctx context.Context, params processBatchParams) (*mcp.CallToolResult, error) {
	if len(params.Exams) == 0 {
		return errorResult("exams must be non-empty"), nil
	}

	jobID := uuid.NewString()
	job := s.batch.Submit(ctx, jobID, domain.BatchRequest{
		Exams:     params.Exams,
		Retriever: params.Retriever,
		Reranker:  params.Reranker,
	})

	return resultFromResponse(job)
}

func resultFromResponse(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("failed to marshal result: " + err.Error()), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		Meta:    map[string]interface{}{"result": v},
	}, nil
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}

// Start runs the MCP server until ctx is cancelled. Only the stdio
// transport is implemented; cfg.TransportType "http" is rejected since no
// library in this build provides an MCP-over-HTTP/SSE server and none of
// the example repos needed one either.
func (s *Server) Start(ctx context.Context, transportType string) error {
	if transportType != "" && transportType != "stdio" {
		return fmt.Errorf("unsupported MCP transport type: %s", transportType)
	}

	s.transport = NewStdioTransport(s.logger)
	bridge := newTransportBridge(s.transport, s.logger)

	if err := s.mcpServer.Run(ctx, bridge); err != nil {
		s.transport.Close()
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close releases the active transport, if any.
func (s *Server) Close() error {
	if s.transport != nil {
		return s.transport.Close()
	}
	return nil
}

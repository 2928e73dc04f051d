// Package batch implements BatchOrchestrator (§4.9): chunked, bounded-
// concurrency processing of a parse_batch request with per-request failure
// isolation, progress reporting and cooperative cancellation.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// Standardizer is the subset of LookupEngine the orchestrator depends on.
type Standardizer interface {
	StandardizeExam(ctx context.Context, rawExam string, modalityHint domain.Modality, dataSource string) (domain.MatchResult, error)
}

// JobRepository is the subset of repository.BatchJobRepository the
// orchestrator depends on. Optional: a nil JobRepository means job state
// lives only in memory and does not survive a process restart.
type JobRepository interface {
	Create(ctx context.Context, job *domain.BatchJob) error
	UpdateProgress(ctx context.Context, jobID string, completed int, status domain.BatchStatus, resultsURL string) error
	GetByID(ctx context.Context, jobID string) (*domain.BatchJob, error)
}

// Orchestrator runs parse_batch requests as background jobs, chunked and
// processed with bounded concurrency across chunks (sequential within a
// chunk), grounded on the teacher's semaphore-gated BatchResolve pattern.
type Orchestrator struct {
	standardizer Standardizer
	blobStore    domain.BlobStore
	repo         JobRepository
	cfg          domain.BatchConfig
	logger       *logrus.Logger

	mu      sync.RWMutex
	jobs    map[string]*domain.BatchJob
	cancels map[string]*atomic.Bool
}

// New builds an Orchestrator with no durable job repository; job state is
// memory-only and lost on restart.
func New(standardizer Standardizer, blobStore domain.BlobStore, cfg domain.BatchConfig, logger *logrus.Logger) *Orchestrator {
	return NewWithRepository(standardizer, blobStore, nil, cfg, logger)
}

// NewWithRepository builds an Orchestrator that mirrors job metadata to
// repo on submit and on every progress/status change, so GET
// /batch_progress/{job_id} survives a process restart.
func NewWithRepository(standardizer Standardizer, blobStore domain.BlobStore, repo JobRepository, cfg domain.BatchConfig, logger *logrus.Logger) *Orchestrator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	if cfg.MaxConcurrentChunks <= 0 {
		cfg.MaxConcurrentChunks = 4
	}
	return &Orchestrator{
		standardizer: standardizer,
		blobStore:    blobStore,
		repo:         repo,
		cfg:          cfg,
		logger:       logger,
		jobs:         make(map[string]*domain.BatchJob),
		cancels:      make(map[string]*atomic.Bool),
	}
}

// Submit registers a new batch job and starts processing it in the
// background. It returns immediately with the job's initial state.
func (o *Orchestrator) Submit(ctx context.Context, jobID string, req domain.BatchRequest) *domain.BatchJob {
	job := &domain.BatchJob{
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
		Retriever: req.Retriever,
		Reranker:  req.Reranker,
		Total:     len(req.Exams),
		Status:    domain.BatchRunning,
	}

	cancelFlag := &atomic.Bool{}

	o.mu.Lock()
	o.jobs[jobID] = job
	o.cancels[jobID] = cancelFlag
	o.mu.Unlock()

	if o.repo != nil {
		if err := o.repo.Create(ctx, job); err != nil && o.logger != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Warn("failed to persist new batch job")
		}
	}

	go o.run(context.WithoutCancel(ctx), jobID, req, cancelFlag)

	return job
}

// Progress returns the current state of a job, falling back to the
// durable repository (if configured) for a job this process has no
// in-memory record of, e.g. after a restart.
func (o *Orchestrator) Progress(jobID string) (domain.BatchJob, bool) {
	o.mu.RLock()
	job, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if ok {
		return *job, true
	}

	if o.repo == nil {
		return domain.BatchJob{}, false
	}
	persisted, err := o.repo.GetByID(context.Background(), jobID)
	if err != nil {
		return domain.BatchJob{}, false
	}
	return *persisted, true
}

// Cancel requests cooperative cancellation of an in-flight job. It has no
// effect on jobs that have already finished.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.RLock()
	flag, ok := o.cancels[jobID]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	flag.Store(true)
	return true
}

func (o *Orchestrator) run(ctx context.Context, jobID string, req domain.BatchRequest, cancelFlag *atomic.Bool) {
	chunks := chunk(req.Exams, o.cfg.ChunkSize)

	results := make([][]domain.BatchResultRecord, len(chunks))
	var completed int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.cfg.MaxConcurrentChunks)

	for i, items := range chunks {
		wg.Add(1)
		go func(idx int, items []domain.ExamBatchItem) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			results[idx] = o.runChunk(ctx, items, req, cancelFlag, &completed, jobID)
		}(i, items)
	}

	wg.Wait()

	flat := make([]domain.BatchResultRecord, 0, len(req.Exams))
	for _, chunkResult := range results {
		flat = append(flat, chunkResult...)
	}

	status := domain.BatchDone
	if cancelFlag.Load() {
		status = domain.BatchCancelled
	}

	o.finish(jobID, status, flat)
}

// runChunk processes one chunk sequentially, isolating each item's
// failure so one bad exam name never aborts the batch.
func (o *Orchestrator) runChunk(
	ctx context.Context,
	items []domain.ExamBatchItem,
	req domain.BatchRequest,
	cancelFlag *atomic.Bool,
	completed *int64,
	jobID string,
) []domain.BatchResultRecord {
	out := make([]domain.BatchResultRecord, 0, len(items))

	for _, item := range items {
		if cancelFlag.Load() {
			break
		}

		record := domain.BatchResultRecord{Input: item}

		result, err := o.standardizer.StandardizeExam(ctx, item.ExamName, domain.Modality(item.ModalityCode), item.DataSource)
		if err != nil {
			record.ErrorMessage = err.Error()
			if o.logger != nil {
				o.logger.WithError(err).WithField("exam_name", item.ExamName).Warn("batch item failed, continuing")
			}
		} else {
			record.Result = &result
		}

		out = append(out, record)
		atomic.AddInt64(completed, 1)
		o.setCompleted(jobID, int(atomic.LoadInt64(completed)))
	}

	return out
}

func (o *Orchestrator) setCompleted(jobID string, completed int) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if ok {
		job.Completed = completed
	}
	o.mu.Unlock()

	if ok && o.repo != nil {
		if err := o.repo.UpdateProgress(context.Background(), jobID, completed, domain.BatchRunning, ""); err != nil && o.logger != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Warn("failed to persist batch progress")
		}
	}
}

func (o *Orchestrator) finish(jobID string, status domain.BatchStatus, results []domain.BatchResultRecord) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if ok {
		job.Status = status
		job.Completed = len(results)
	}
	o.mu.Unlock()

	if !ok {
		return
	}

	persisted := domain.PersistedBatchResult{
		JobID:     jobID,
		CreatedAt: job.CreatedAt,
		Retriever: job.Retriever,
		Reranker:  job.Reranker,
		Results:   results,
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		o.markError(jobID)
		return
	}

	if o.blobStore != nil {
		if err := o.blobStore.Put(context.Background(), resultsKey(jobID), data); err != nil {
			if o.logger != nil {
				o.logger.WithError(err).WithField("job_id", jobID).Error("failed to persist batch results")
			}
			o.markError(jobID)
			return
		}
	}

	o.mu.Lock()
	if job, ok := o.jobs[jobID]; ok {
		job.ResultsURL = resultsKey(jobID)
	}
	o.mu.Unlock()

	if o.repo != nil {
		if err := o.repo.UpdateProgress(context.Background(), jobID, len(results), status, resultsKey(jobID)); err != nil && o.logger != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Warn("failed to persist final batch status")
		}
	}
}

func (o *Orchestrator) markError(jobID string) {
	o.mu.Lock()
	_, ok := o.jobs[jobID]
	if ok {
		o.jobs[jobID].Status = domain.BatchError
	}
	o.mu.Unlock()

	if ok && o.repo != nil {
		if err := o.repo.UpdateProgress(context.Background(), jobID, 0, domain.BatchError, ""); err != nil && o.logger != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Warn("failed to persist batch error status")
		}
	}
}

func resultsKey(jobID string) string {
	return fmt.Sprintf("batches/%s.json", jobID)
}

func chunk(items []domain.ExamBatchItem, size int) [][]domain.ExamBatchItem {
	if len(items) == 0 {
		return nil
	}
	var chunks [][]domain.ExamBatchItem
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// ErrNotFound indicates a repository lookup found no matching row.
var ErrNotFound = errors.New("not found")

// BatchJobRepository persists BatchOrchestrator job metadata so
// GET /batch_progress/{job_id} survives a process restart while the job
// itself is still running against a durable BlobStore-backed result set.
type BatchJobRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewBatchJobRepository builds a BatchJobRepository.
func NewBatchJobRepository(db *pgxpool.Pool, logger *logrus.Logger) *BatchJobRepository {
	return &BatchJobRepository{db: db, log: logger}
}

// Create inserts a newly submitted batch job.
func (r *BatchJobRepository) Create(ctx context.Context, job *domain.BatchJob) error {
	query := `
		INSERT INTO batch_jobs (
			job_id, created_at, retriever, reranker, total, completed, status, results_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		job.JobID, job.CreatedAt, job.Retriever, job.Reranker,
		job.Total, job.Completed, string(job.Status), job.ResultsURL,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{"job_id": job.JobID, "error": err}).Error("failed to create batch job")
		return fmt.Errorf("creating batch job: %w", err)
	}
	return nil
}

// UpdateProgress updates the completed count and status of a job.
func (r *BatchJobRepository) UpdateProgress(ctx context.Context, jobID string, completed int, status domain.BatchStatus, resultsURL string) error {
	query := `
		UPDATE batch_jobs
		SET completed = $2, status = $3, results_url = $4
		WHERE job_id = $1`

	result, err := r.db.Exec(ctx, query, jobID, completed, string(status), resultsURL)
	if err != nil {
		r.log.WithFields(logrus.Fields{"job_id": jobID, "error": err}).Error("failed to update batch job progress")
		return fmt.Errorf("updating batch job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("batch job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// GetByID retrieves one batch job's current state.
func (r *BatchJobRepository) GetByID(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	query := `
		SELECT job_id, created_at, retriever, reranker, total, completed, status, results_url
		FROM batch_jobs
		WHERE job_id = $1`

	var job domain.BatchJob
	var status string
	var createdAt time.Time

	err := r.db.QueryRow(ctx, query, jobID).Scan(
		&job.JobID, &createdAt, &job.Retriever, &job.Reranker,
		&job.Total, &job.Completed, &status, &job.ResultsURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("batch job %s: %w", jobID, ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{"job_id": jobID, "error": err}).Error("failed to get batch job")
		return nil, fmt.Errorf("getting batch job: %w", err)
	}

	job.CreatedAt = createdAt
	job.Status = domain.BatchStatus(status)
	return &job, nil
}

// ListRecent returns the most recently created jobs, newest first.
func (r *BatchJobRepository) ListRecent(ctx context.Context, limit int) ([]*domain.BatchJob, error) {
	query := `
		SELECT job_id, created_at, retriever, reranker, total, completed, status, results_url
		FROM batch_jobs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing batch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.BatchJob
	for rows.Next() {
		var job domain.BatchJob
		var status string
		var createdAt time.Time
		if err := rows.Scan(
			&job.JobID, &createdAt, &job.Retriever, &job.Reranker,
			&job.Total, &job.Completed, &status, &job.ResultsURL,
		); err != nil {
			return nil, fmt.Errorf("scanning batch job row: %w", err)
		}
		job.CreatedAt = createdAt
		job.Status = domain.BatchStatus(status)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating batch job rows: %w", err)
	}
	return jobs, nil
}

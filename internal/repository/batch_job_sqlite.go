package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// SQLiteBatchJobRepository persists batch job metadata without a Postgres
// dependency, for standalone operation. Same responsibility and schema
// shape as BatchJobRepository, against modernc.org/sqlite instead of pgx.
type SQLiteBatchJobRepository struct {
	db *sql.DB
}

// NewSQLiteBatchJobRepository opens (creating if necessary) the SQLite
// batch job database at dbPath.
func NewSQLiteBatchJobRepository(dbPath string) (*SQLiteBatchJobRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS batch_jobs (
		job_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		retriever TEXT DEFAULT '',
		reranker TEXT DEFAULT '',
		total INTEGER NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		results_url TEXT DEFAULT ''
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteBatchJobRepository{db: db}, nil
}

// Create inserts a newly submitted batch job.
func (r *SQLiteBatchJobRepository) Create(ctx context.Context, job *domain.BatchJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO batch_jobs (job_id, created_at, retriever, reranker, total, completed, status, results_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.JobID, job.CreatedAt, job.Retriever, job.Reranker, job.Total, job.Completed, string(job.Status), job.ResultsURL)
	if err != nil {
		return fmt.Errorf("creating batch job: %w", err)
	}
	return nil
}

// UpdateProgress updates the completed count and status of a job.
func (r *SQLiteBatchJobRepository) UpdateProgress(ctx context.Context, jobID string, completed int, status domain.BatchStatus, resultsURL string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE batch_jobs SET completed = ?, status = ?, results_url = ? WHERE job_id = ?
	`, completed, string(status), resultsURL, jobID)
	if err != nil {
		return fmt.Errorf("updating batch job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating batch job: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("batch job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// GetByID retrieves one batch job's current state.
func (r *SQLiteBatchJobRepository) GetByID(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	var job domain.BatchJob
	var status string
	var createdAt time.Time

	err := r.db.QueryRowContext(ctx, `
		SELECT job_id, created_at, retriever, reranker, total, completed, status, results_url
		FROM batch_jobs WHERE job_id = ?
	`, jobID).Scan(
		&job.JobID, &createdAt, &job.Retriever, &job.Reranker,
		&job.Total, &job.Completed, &status, &job.ResultsURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("getting batch job: %w", err)
	}
	job.CreatedAt = createdAt
	job.Status = domain.BatchStatus(status)
	return &job, nil
}

// Close closes the underlying database connection.
func (r *SQLiteBatchJobRepository) Close() error {
	return r.db.Close()
}

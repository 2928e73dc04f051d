package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

func newTestSQLiteBatchJobRepository(t *testing.T) *SQLiteBatchJobRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "batch_jobs.db")
	repo, err := NewSQLiteBatchJobRepository(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteBatchJobRepository_CreateThenGetByID(t *testing.T) {
	repo := newTestSQLiteBatchJobRepository(t)
	ctx := context.Background()

	job := &domain.BatchJob{
		JobID:     "job-1",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Retriever: "bge-small",
		Reranker:  "cross_encoder",
		Total:     10,
		Completed: 0,
		Status:    domain.BatchRunning,
	}
	require.NoError(t, repo.Create(ctx, job))

	fetched, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.JobID, fetched.JobID)
	assert.Equal(t, job.Retriever, fetched.Retriever)
	assert.Equal(t, job.Total, fetched.Total)
	assert.Equal(t, domain.BatchRunning, fetched.Status)
}

func TestSQLiteBatchJobRepository_UpdateProgress(t *testing.T) {
	repo := newTestSQLiteBatchJobRepository(t)
	ctx := context.Background()

	job := &domain.BatchJob{JobID: "job-2", CreatedAt: time.Now().UTC(), Total: 5, Status: domain.BatchRunning}
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.UpdateProgress(ctx, "job-2", 5, domain.BatchDone, "https://blob/results/job-2"))

	fetched, err := repo.GetByID(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, 5, fetched.Completed)
	assert.Equal(t, domain.BatchDone, fetched.Status)
	assert.Equal(t, "https://blob/results/job-2", fetched.ResultsURL)
}

func TestSQLiteBatchJobRepository_UpdateProgressUnknownJobReturnsNotFound(t *testing.T) {
	repo := newTestSQLiteBatchJobRepository(t)
	err := repo.UpdateProgress(context.Background(), "missing", 1, domain.BatchDone, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteBatchJobRepository_GetByIDUnknownJobReturnsNotFound(t *testing.T) {
	repo := newTestSQLiteBatchJobRepository(t)
	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

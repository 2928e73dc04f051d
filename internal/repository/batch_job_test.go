package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/radstandard/exam-standardizer/internal/database"
	"github.com/radstandard/exam-standardizer/internal/domain"
)

func generateBatchTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupBatchTestDB(t *testing.T) (*database.DB, func()) {
	ctx := context.Background()
	testPassword := generateBatchTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	config := database.Config{
		Host: host, Port: port.Int(), Database: "testdb",
		Username: "testuser", Password: testPassword,
		MaxConns: 10, MinConns: 2, MaxConnLife: time.Hour, MaxConnIdle: 30 * time.Minute,
		SSLMode: "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	databaseURL := "postgres://testuser:" + testPassword + "@" + host + ":" + port.Port() + "/testdb?sslmode=disable"
	migrationRunner, err := database.NewMigrationRunner(databaseURL, "../../migrations", logger)
	if err != nil {
		t.Fatalf("failed to create migration runner: %v", err)
	}
	if err := migrationRunner.Up(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	cleanup := func() {
		migrationRunner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}

	return db, cleanup
}

func TestBatchJobRepository_CreateAndGetByID(t *testing.T) {
	db, cleanup := setupBatchTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewBatchJobRepository(db.Pool, logger)

	job := &domain.BatchJob{
		JobID:     "job-abc",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Retriever: "bge-small",
		Reranker:  "cross_encoder",
		Total:     10,
		Status:    domain.BatchRunning,
	}

	ctx := context.Background()
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "job-abc")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Total != 10 || got.Status != domain.BatchRunning {
		t.Fatalf("unexpected job state: %+v", got)
	}
}

func TestBatchJobRepository_UpdateProgress(t *testing.T) {
	db, cleanup := setupBatchTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewBatchJobRepository(db.Pool, logger)
	ctx := context.Background()

	job := &domain.BatchJob{JobID: "job-progress", CreatedAt: time.Now().UTC(), Total: 5, Status: domain.BatchRunning}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.UpdateProgress(ctx, "job-progress", 5, domain.BatchDone, "batches/job-progress.json"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "job-progress")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Completed != 5 || got.Status != domain.BatchDone || got.ResultsURL != "batches/job-progress.json" {
		t.Fatalf("unexpected job state after update: %+v", got)
	}
}

func TestBatchJobRepository_UpdateProgressMissingJobReturnsNotFound(t *testing.T) {
	db, cleanup := setupBatchTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewBatchJobRepository(db.Pool, logger)

	err := repo.UpdateProgress(context.Background(), "does-not-exist", 1, domain.BatchDone, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchJobRepository_ListRecentOrdersNewestFirst(t *testing.T) {
	db, cleanup := setupBatchTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewBatchJobRepository(db.Pool, logger)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"job-1", "job-2", "job-3"} {
		job := &domain.BatchJob{JobID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute), Status: domain.BatchRunning}
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	jobs, err := repo.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(jobs) != 3 || jobs[0].JobID != "job-3" {
		t.Fatalf("expected job-3 first, got %+v", jobs)
	}
}

package validation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL, for production
// deployment with durable, concurrent-safe validation record persistence.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a new connection pool from a database URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Save upserts the validation record for its request key.
func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	excludedCSV := joinCSV(rec.ExcludedIDs)

	query := `
		INSERT INTO validation_records (
			request_key, raw_exam, modality_hint, status, mapping_id, excluded_ids, note, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (request_key) DO UPDATE SET
			raw_exam = EXCLUDED.raw_exam,
			modality_hint = EXCLUDED.modality_hint,
			status = EXCLUDED.status,
			mapping_id = EXCLUDED.mapping_id,
			excluded_ids = EXCLUDED.excluded_ids,
			note = EXCLUDED.note,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		rec.RequestKey, rec.RawExam, rec.ModalityHint, string(rec.Status), rec.MappingID, excludedCSV, rec.Note,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert validation record: %w", err)
	}
	return nil
}

// Get retrieves the validation record for a request key, or nil if absent.
func (s *PostgresStore) Get(ctx context.Context, requestKey string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_key, raw_exam, modality_hint, status, mapping_id, excluded_ids, note, created_at, updated_at
		FROM validation_records WHERE request_key = $1
	`, requestKey)

	rec, err := scanPgRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return rec, nil
}

// List returns validation records ordered newest-first, paginated.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_key, raw_exam, modality_hint, status, mapping_id, excluded_ids, note, created_at, updated_at
		FROM validation_records ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Count returns the total number of validation records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM validation_records").Scan(&count)
	return count, err
}

// Delete removes a validation record by id.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM validation_records WHERE id = $1", id)
	return err
}

// ExportJSON exports all validation records to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, w io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	export := &Export{Version: "1.0", ExportedAt: time.Now(), Count: len(all), Records: all}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

// ImportJSON imports validation records from a JSON reader, skipping
// request keys that already exist.
func (s *PostgresStore) ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, rec := range export.Records {
		existing, err := s.Get(ctx, rec.RequestKey)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}
		if err := s.Save(ctx, rec); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanPgRecord(s scanner) (*Record, error) {
	r := &Record{}
	var status, excludedCSV string

	if err := s.Scan(
		&r.ID, &r.RequestKey, &r.RawExam, &r.ModalityHint,
		&status, &r.MappingID, &excludedCSV, &r.Note, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}

	r.Status = statusFromString(status)
	r.ExcludedIDs = splitCSV(excludedCSV)
	return r, nil
}

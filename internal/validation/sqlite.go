package validation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite, for standalone operation
// without a Postgres dependency.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if necessary) the SQLite validation
// record database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS validation_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_key TEXT NOT NULL UNIQUE,
		raw_exam TEXT NOT NULL,
		modality_hint TEXT DEFAULT '',
		status TEXT NOT NULL,
		mapping_id TEXT DEFAULT '',
		excluded_ids TEXT DEFAULT '',
		note TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_request_key ON validation_records(request_key);
	CREATE INDEX IF NOT EXISTS idx_status ON validation_records(status);
	`
	_, err := db.Exec(schema)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
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

// Save upserts the validation record for its request key using SQLite's
// native INSERT ... ON CONFLICT, the same single-statement idiom Postgres
// uses, rather than a separate existence check.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	now := time.Now()
	excludedCSV := joinCSV(rec.ExcludedIDs)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validation_records (
			request_key, raw_exam, modality_hint, status, mapping_id, excluded_ids, note, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_key) DO UPDATE SET
			raw_exam = excluded.raw_exam,
			modality_hint = excluded.modality_hint,
			status = excluded.status,
			mapping_id = excluded.mapping_id,
			excluded_ids = excluded.excluded_ids,
			note = excluded.note,
			updated_at = excluded.updated_at
	`, rec.RequestKey, rec.RawExam, rec.ModalityHint, string(rec.Status), rec.MappingID, excludedCSV, rec.Note, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert validation record: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at FROM validation_records WHERE request_key = ?
	`, rec.RequestKey)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to read back upserted record: %w", err)
	}
	return nil
}

// Get retrieves the validation record for a request key, or nil if absent.
func (s *SQLiteStore) Get(ctx context.Context, requestKey string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_key, raw_exam, modality_hint, status, mapping_id, excluded_ids, note, created_at, updated_at
		FROM validation_records WHERE request_key = ? LIMIT 1
	`, requestKey)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return rec, nil
}

// List returns validation records ordered newest-first, paginated.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_key, raw_exam, modality_hint, status, mapping_id, excluded_ids, note, created_at, updated_at
		FROM validation_records ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Count returns the total number of validation records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM validation_records").Scan(&count)
	return count, err
}

// Delete removes a validation record by id.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM validation_records WHERE id = ?", id)
	return err
}

const maxExportLimit = 1000000

// ExportJSON exports all validation records to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, w io.Writer) error {
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
func (s *SQLiteStore) ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error) {
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

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinCSV(ss []string) string {
	return strings.Join(ss, ",")
}

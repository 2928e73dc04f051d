// Package blobstore implements domain.BlobStore: the minimal get/put/exists
// abstraction the pipeline uses to persist the vector index, batch results,
// and the config and validation caches (§3, §7).
package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// FSStore is a filesystem-backed BlobStore rooted at a base directory.
// Keys are slash-separated and map directly onto nested paths, so
// "validation/approved_mappings_cache.json" becomes
// "<baseDir>/validation/approved_mappings_cache.json".
type FSStore struct {
	baseDir string
}

// NewFSStore builds an FSStore rooted at baseDir, creating it if absent.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob store base dir: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

func (s *FSStore) path(key string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key escapes base dir: %q", key)
	}
	return full, nil
}

// Get reads the blob stored at key.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", key, err)
	}
	return data, nil
}

// Put writes data at key, creating any missing parent directories.
func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create parent dir for blob %q: %w", key, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write blob %q: %w", key, err)
	}
	return nil
}

// Exists reports whether a blob is stored at key.
func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %q: %w", key, err)
	}
	return true, nil
}

var _ domain.BlobStore = (*FSStore)(nil)

// NewFromConfig builds the configured BlobStore backend. Only "fs" is
// implemented; "s3" is accepted by configuration validation (so an
// operator can record the intended production backend) but returns an
// error here, since no object-store client library is wired into this
// build.
func NewFromConfig(cfg domain.BlobStoreConfig) (domain.BlobStore, error) {
	switch cfg.Backend {
	case "", "fs":
		baseDir := cfg.BaseDir
		if baseDir == "" {
			baseDir = "./data/blobs"
		}
		return NewFSStore(baseDir)
	case "s3":
		return nil, fmt.Errorf("blob store backend %q is not implemented in this build", cfg.Backend)
	default:
		return nil, fmt.Errorf("unknown blob store backend %q", cfg.Backend)
	}
}

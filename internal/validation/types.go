// Package validation implements the human-in-the-loop validation cache
// (§4.8): an approved/rejected decision overlay consulted before
// retrieval, backed by a durable Store and reloadable atomically from the
// blob store without readers ever observing a partial state.
package validation

import (
	"context"
	"io"
	"time"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// Record is one durable validation decision, keyed by the hash of
// (raw_exam, modality_hint, data_source). It is the Store-persisted
// counterpart of domain.ValidationRecord — this is the audit trail a
// reviewer's decision is written to before being folded into the
// blob-backed approved/rejected JSON files that Cache.Reload reads.
type Record struct {
	ID          int64                          `json:"id,omitempty"`
	RequestKey  string                         `json:"request_key"`
	RawExam     string                         `json:"raw_exam"`
	ModalityHint string                        `json:"modality_hint,omitempty"`
	Status      domain.ValidationDecisionStatus `json:"status"`
	MappingID   string                         `json:"mapping_id,omitempty"`
	ExcludedIDs []string                       `json:"excluded_ids,omitempty"`
	Note        string                         `json:"note,omitempty"`
	CreatedAt   time.Time                      `json:"created_at"`
	UpdatedAt   time.Time                      `json:"updated_at"`
}

// Export is the JSON export/import format for a Store's full contents.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Records    []*Record `json:"records"`
}

func statusFromString(s string) domain.ValidationDecisionStatus {
	switch domain.ValidationDecisionStatus(s) {
	case domain.DecisionApproved:
		return domain.DecisionApproved
	case domain.DecisionRejected:
		return domain.DecisionRejected
	default:
		return domain.DecisionDeferred
	}
}

// Store defines durable persistence for validation decisions. Two
// implementations are provided: PostgresStore (production) and
// SQLiteStore (standalone / lite mode), mirroring the teacher's dual
// Postgres/SQLite feedback stores.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, requestKey string) (*Record, error)
	List(ctx context.Context, limit, offset int) ([]*Record, error)
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id int64) error
	ExportJSON(ctx context.Context, w io.Writer) error
	ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error)
	Close() error
}

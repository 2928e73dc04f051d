package validation

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "validation.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &Record{
		RequestKey:   "req-1",
		RawExam:      "CT CHEST W/O CONTRAST",
		ModalityHint: "CT",
		Status:       domain.DecisionApproved,
		MappingID:    "entry-42",
		ExcludedIDs:  nil,
	}

	require.NoError(t, store.Save(ctx, rec))
	assert.NotZero(t, rec.ID)

	fetched, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "req-1", fetched.RequestKey)
	assert.Equal(t, domain.DecisionApproved, fetched.Status)
	assert.Equal(t, "entry-42", fetched.MappingID)
}

func TestSQLiteStore_SaveUpdatesExistingRequestKey(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &Record{RequestKey: "req-2", RawExam: "MRI BRAIN", Status: domain.DecisionDeferred}
	require.NoError(t, store.Save(ctx, rec))
	firstID := rec.ID

	rec.Status = domain.DecisionRejected
	rec.ExcludedIDs = []string{"bad-1", "bad-2"}
	require.NoError(t, store.Save(ctx, rec))
	assert.Equal(t, firstID, rec.ID)

	fetched, err := store.Get(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRejected, fetched.Status)
	assert.Equal(t, []string{"bad-1", "bad-2"}, fetched.ExcludedIDs)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStore_GetMissingReturnsNilNotError(t *testing.T) {
	store := newTestSQLiteStore(t)
	rec, err := store.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSQLiteStore_ListOrdersNewestFirst(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for i, key := range []string{"req-a", "req-b", "req-c"} {
		require.NoError(t, store.Save(ctx, &Record{RequestKey: key, RawExam: "exam", Status: domain.DecisionDeferred}))
		_ = i
	}

	records, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "req-c", records[0].RequestKey)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &Record{RequestKey: "req-del", RawExam: "exam", Status: domain.DecisionDeferred}
	require.NoError(t, store.Save(ctx, rec))

	require.NoError(t, store.Delete(ctx, rec.ID))

	fetched, err := store.Get(ctx, "req-del")
	require.NoError(t, err)
	assert.Nil(t, fetched)
}

func TestSQLiteStore_ExportImportRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{RequestKey: "exp-1", RawExam: "exam one", Status: domain.DecisionApproved, MappingID: "m1"}))
	require.NoError(t, store.Save(ctx, &Record{RequestKey: "exp-2", RawExam: "exam two", Status: domain.DecisionRejected, ExcludedIDs: []string{"x1"}}))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	other := newTestSQLiteStore(t)
	imported, skipped, err := other.ImportJSON(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 0, skipped)

	count, err := other.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSQLiteStore_ImportSkipsExistingRequestKeys(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{RequestKey: "dup-1", RawExam: "exam", Status: domain.DecisionApproved}))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	imported, skipped, err := store.ImportJSON(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	assert.Equal(t, 1, skipped)
}

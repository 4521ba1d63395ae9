package source

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "source.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	store, err := NewSQLStoreFromDB(db, "syncable_records", logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRecords(t *testing.T, store *SQLStore) {
	t.Helper()
	_, err := store.BatchInsert(context.Background(), []Record{
		{ID: "r1", ContentType: "timeline_event", RelevancyScore: 950, RawText: "a", RawMetadata: Metadata{"relevancy": 950}},
		{ID: "r2", ContentType: "court_hearing", RelevancyScore: 800, RawText: "b"},
		{ID: "r3", ContentType: "general", RelevancyScore: 650, RawText: "c"},
		{ID: "r4", ContentType: "document_summary", RelevancyScore: 700, RawText: "d", RawMetadata: Metadata{"relevancy": 700, "source": "clerk"}},
	})
	require.NoError(t, err)
}

func TestSQLStoreCandidates(t *testing.T) {
	store := newTestSQLStore(t)
	seedRecords(t, store)
	ctx := context.Background()

	records, err := store.Candidates(ctx, CandidateQuery{MinRelevancy: 700})
	require.NoError(t, err)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r1", "r2", "r4"}, ids, "highest relevancy first, below threshold excluded")

	assert.Equal(t, "clerk", records[2].RawMetadata["source"])
	assert.False(t, records[0].Synced)
	assert.Nil(t, records[0].DestinationID)

	filtered, err := store.Candidates(ctx, CandidateQuery{MinRelevancy: 0, ContentTypes: []string{"general", "court_hearing"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "r2", filtered[0].ID)
}

func TestSQLStoreMarkSyncedOnce(t *testing.T) {
	store := newTestSQLStore(t)
	seedRecords(t, store)
	ctx := context.Background()

	require.NoError(t, store.MarkSynced(ctx, "r1", "draft-1"))

	err := store.MarkSynced(ctx, "r1", "draft-2")
	assert.True(t, errors.Is(err, ErrAlreadySynced), "second mark must fail, got %v", err)

	err = store.MarkSynced(ctx, "missing", "draft-3")
	assert.True(t, errors.Is(err, ErrAlreadySynced))

	records, err := store.Candidates(ctx, CandidateQuery{MinRelevancy: 0})
	require.NoError(t, err)
	for _, r := range records {
		assert.NotEqual(t, "r1", r.ID, "synced records are never candidates")
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{Total: 4, Synced: 1, Unsynced: 3}, stats)
}

func TestSQLStoreBatchInsertSkipsDuplicates(t *testing.T) {
	store := newTestSQLStore(t)
	seedRecords(t, store)

	res, err := store.BatchInsert(context.Background(), []Record{
		{ID: "r1", ContentType: "general", RelevancyScore: 100, RawText: "changed"},
		{ID: "r9", ContentType: "general", RelevancyScore: 100, RawText: "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Inserted)
	assert.Equal(t, int64(1), res.Duplicates)

	records, err := store.Candidates(context.Background(), CandidateQuery{MinRelevancy: 900})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].RawText, "existing rows are not overwritten")
}

func TestSQLStoreRejectsBadTableName(t *testing.T) {
	_, err := NewSQLStoreFromDB(nil, "records; DROP TABLE x", logger.NewNop())
	assert.Error(t, err)
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://sync:***@db:5432/cases", maskDatabaseURL("postgres://sync:secret@db:5432/cases"))
	assert.Equal(t, "postgres://db:5432/cases", maskDatabaseURL("postgres://db:5432/cases"))
}

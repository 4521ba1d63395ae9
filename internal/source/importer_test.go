package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDetectFileFormat(t *testing.T) {
	assert.Equal(t, FormatCSV, DetectFileFormat("records.csv"))
	assert.Equal(t, FormatParquet, DetectFileFormat("records.PARQUET"))
	assert.Equal(t, FormatJSON, DetectFileFormat("records.jsonl"))
	assert.Equal(t, FormatJSON, DetectFileFormat("records.json"))
	assert.Equal(t, FormatCSV, DetectFileFormat("records"))
}

func TestImportCSV(t *testing.T) {
	store := newTestSQLStore(t)
	path := writeFile(t, "records.csv", `id,content_type,relevancy_score,raw_text,raw_metadata
r1,timeline_event,900,"Judge Amy Park ruled","{""relevancy"":900}"
r2,,750,"Status update",
r3,general,abc,"bad score",
r4,general,800,"",
r1,general,100,"duplicate id",
`)

	im := NewImporter(store, 2, logger.NewNop())
	res, err := im.ImportFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Inserted)
	assert.Equal(t, int64(1), res.Duplicates)
	assert.Equal(t, int64(2), res.Invalid, "bad score and empty text")

	records, err := store.Candidates(context.Background(), CandidateQuery{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "general", records[1].ContentType, "blank content type defaults to general")
}

func TestImportCSVRejectsWrongHeader(t *testing.T) {
	store := newTestSQLStore(t)
	path := writeFile(t, "records.csv", "text,label_text,label,x,y\n")

	_, err := NewImporter(store, 10, logger.NewNop()).ImportFile(context.Background(), path)
	assert.Error(t, err)
}

func TestImportJSONLines(t *testing.T) {
	store := newTestSQLStore(t)
	path := writeFile(t, "records.jsonl", `{"id":"j1","content_type":"document_summary","relevancy_score":920,"raw_text":"Summary","raw_metadata":"{\"relevancy\":920}"}
{"id":"j2","content_type":"general","relevancy_score":5000,"raw_text":"out of range"}
{"id":"j3","content_type":"general","relevancy_score":710,"raw_text":"ok"}
`)

	res, err := NewImporter(store, 10, logger.NewNop()).ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.TotalRows)
	assert.Equal(t, int64(2), res.Inserted)
	assert.Equal(t, int64(1), res.Invalid)
}

func TestImportJSONStopsOnSyntaxError(t *testing.T) {
	store := newTestSQLStore(t)
	path := writeFile(t, "records.json", `{"id":"j1","raw_text":"ok","relevancy_score":800}
{"id": oops}
`)

	res, err := NewImporter(store, 10, logger.NewNop()).ImportFile(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, int64(1), res.Inserted, "rows read before the error are kept")
}

func TestImportParquet(t *testing.T) {
	store := newTestSQLStore(t)
	path := filepath.Join(t.TempDir(), "records.parquet")
	require.NoError(t, parquet.WriteFile(path, []ImportRow{
		{ID: "p1", ContentType: "court_hearing", Relevancy: 880, Text: "Courtroom 4B", Metadata: `{"relevancy":880}`},
		{ID: "p2", ContentType: "general", Relevancy: 720, Text: "Status update"},
	}))

	res, err := NewImporter(store, 1, logger.NewNop()).ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Inserted)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Unsynced)
}

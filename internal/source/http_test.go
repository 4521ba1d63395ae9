package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStoreCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/records", r.URL.Path)
		assert.Equal(t, "Bearer source-token", r.Header.Get("Authorization"))
		assert.Equal(t, "false", r.URL.Query().Get("synced"))
		assert.Equal(t, "700", r.URL.Query().Get("min_relevancy"))
		assert.Equal(t, "timeline_event,general", r.URL.Query().Get("content_type"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"records":[{"id":"r1","content_type":"timeline_event","relevancy_score":910,
			"raw_text":"Judge Amy Park ruled","raw_metadata":{"relevancy":910},"synced":false}]}`))
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL+"/", "source-token", time.Second, logger.NewNop())
	records, err := store.Candidates(context.Background(), CandidateQuery{
		MinRelevancy: 700,
		ContentTypes: []string{"timeline_event", "general"},
		Limit:        25,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, 910, records[0].RelevancyScore)
	assert.Equal(t, json.Number("910"), records[0].RawMetadata["relevancy"])
}

func TestHTTPStoreMarkSynced(t *testing.T) {
	var got markSyncedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		switch r.URL.Path {
		case "/records/r1":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		case "/records/r2":
			w.WriteHeader(http.StatusConflict)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, "", time.Second, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, store.MarkSynced(ctx, "r1", "draft-9"))
	assert.Equal(t, markSyncedRequest{Synced: true, DestinationID: "draft-9"}, got)

	err := store.MarkSynced(ctx, "r2", "draft-10")
	assert.True(t, errors.Is(err, ErrAlreadySynced))

	err = store.MarkSynced(ctx, "r3", "draft-11")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPStoreTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL, "", 20*time.Millisecond, logger.NewNop())
	_, err := store.Candidates(context.Background(), CandidateQuery{})
	assert.Error(t, err)
}

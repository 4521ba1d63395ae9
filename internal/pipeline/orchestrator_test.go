package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/destination"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/privacy"
	"github.com/raaihank/case-sentinel/internal/redaction"
	"github.com/raaihank/case-sentinel/internal/safety"
	"github.com/raaihank/case-sentinel/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	records  []source.Record
	queries  []source.CandidateQuery
	marked   map[string]string
	listErr  error
	markErrs map[string]error
}

func (f *fakeSource) Candidates(_ context.Context, q source.CandidateQuery) ([]source.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []source.Record
	for _, r := range f.records {
		if _, done := f.marked[r.ID]; !done {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) MarkSynced(_ context.Context, id, destinationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markErrs[id]; err != nil {
		return err
	}
	if _, done := f.marked[id]; done {
		return source.ErrAlreadySynced
	}
	f.marked[id] = destinationID
	return nil
}

func (f *fakeSource) Close() error { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	drafts []destination.Draft
	fail   map[string]bool
}

func (p *fakePublisher) CreateDraft(_ context.Context, d destination.Draft) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[d.SourceID] {
		return "", fmt.Errorf("cms unavailable")
	}
	p.drafts = append(p.drafts, d)
	return "draft-" + d.SourceID, nil
}

type harness struct {
	orch  *Orchestrator
	src   *fakeSource
	pub   *fakePublisher
	store *audit.Store
}

func newHarness(t *testing.T, records []source.Record) *harness {
	t.Helper()
	log := logger.NewNop()
	store := audit.NewStore(100, 50, log)
	engine := redaction.NewEngine(privacy.New(privacy.DefaultRegistry(), log), store, log)
	evaluator := safety.NewEvaluator(engine, store, config.GetDefaults().Safety, log)

	settings := config.DefaultSettings()
	settings.ProtectedAdultRealName = "Jane Doe"

	src := &fakeSource{records: records, marked: map[string]string{}, markErrs: map[string]error{}}
	pub := &fakePublisher{fail: map[string]bool{}}
	cfg := config.GetDefaults().Sync
	cfg.Workers = 3

	return &harness{
		orch:  NewOrchestrator(src, pub, evaluator, config.NewSettingsStore(settings), cfg, log),
		src:   src,
		pub:   pub,
		store: store,
	}
}

func sampleRecords() []source.Record {
	return []source.Record{
		{ID: "ok", ContentType: "general", RelevancyScore: 800,
			RawText: "Police Report filed by Jane Doe, SSN 123-45-6789, DOB 01/01/1990, case CV-2024-00123. The officer noted the family was cooperative."},
		{ID: "low", ContentType: "general", RelevancyScore: 300, RawText: "routine note"},
		{ID: "flag", ContentType: "timeline_event", RelevancyScore: 950, RawText: "Psychiatric hold ordered"},
		{ID: "done", ContentType: "general", RelevancyScore: 900, RawText: "already there", Synced: true},
		{ID: "summary", ContentType: "document_summary", RelevancyScore: 990,
			RawText: "Hearing moved to 2024-05-01 at 10:00 AM.", RawMetadata: source.Metadata{"relevancy": 990}},
	}
}

func TestRunProcessesCandidates(t *testing.T) {
	h := newHarness(t, sampleRecords())

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.Candidates)
	assert.Equal(t, int64(2), res.Accepted)
	assert.Equal(t, int64(1), res.Rejected)
	assert.Equal(t, int64(2), res.Skipped, "below threshold and already synced")
	assert.Equal(t, int64(0), res.Failed)

	require.Len(t, h.src.queries, 1)
	assert.Equal(t, 700, h.src.queries[0].MinRelevancy)

	bodies := map[string]string{}
	for _, d := range h.pub.drafts {
		bodies[d.SourceID] = d.Body
	}
	assert.Equal(t, "Police Report filed by Mother, SSN [SSN Redacted], [DOB Redacted], [Case # Redacted]. The officer noted the family was cooperative.", bodies["ok"])
	assert.Equal(t, "Hearing moved to [Date] at [Time].", bodies["summary"])
	assert.NotContains(t, bodies, "low")
	assert.NotContains(t, bodies, "done")

	assert.Equal(t, "draft-ok", h.src.marked["ok"])

	rejections := h.store.ListRejections(0)
	require.Len(t, rejections, 1, "threshold pre-filter means no backstop rejection for the low record")
	assert.Equal(t, "contains red flag: psychiatric", rejections[0].Reason)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	h := newHarness(t, sampleRecords())

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	second, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), second.Accepted)
	assert.Len(t, h.pub.drafts, 2, "no record is handed to the destination twice")
}

func TestPerRecordFailuresDoNotAbortBatch(t *testing.T) {
	records := []source.Record{
		{ID: "a", ContentType: "general", RelevancyScore: 800, RawText: "first update"},
		{ID: "b", ContentType: "general", RelevancyScore: 800, RawText: "second update"},
		{ID: "c", ContentType: "general", RelevancyScore: 800, RawText: "third update"},
	}
	h := newHarness(t, records)
	h.pub.fail["a"] = true
	h.src.markErrs["b"] = errors.New("db down")

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Failed)
	assert.Equal(t, int64(1), res.Accepted)
	_, marked := h.src.marked["a"]
	assert.False(t, marked, "failed drafts are not marked synced")
}

func TestRunFailsWhenCandidatesUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.src.listErr = errors.New("connection refused")

	_, err := h.orch.Run(context.Background())
	assert.Error(t, err)
	assert.Nil(t, h.orch.LastRun())
}

func TestOnRunAndLastRun(t *testing.T) {
	h := newHarness(t, sampleRecords())
	var seen []RunResult
	h.orch.OnRun(func(r RunResult) { seen = append(seen, r) })

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, res.Accepted, seen[0].Accepted)
	assert.Equal(t, res.Accepted, h.orch.LastRun().Accepted)
}

func TestLoopStopsOnCancel(t *testing.T) {
	h := newHarness(t, sampleRecords())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.orch.Loop(ctx, 10*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	assert.GreaterOrEqual(t, len(h.src.queries), 2)
}

func TestRecordMetadataFallsBackToScore(t *testing.T) {
	meta := recordMetadata(source.Record{RelevancyScore: 910, RawMetadata: source.Metadata{"author": "clerk"}})
	score, ok := redaction.Relevancy(meta)
	assert.True(t, ok)
	assert.Equal(t, 910, score)
	assert.Equal(t, "clerk", meta["author"])
}

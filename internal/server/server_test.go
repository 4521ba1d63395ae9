package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/destination"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/pipeline"
	"github.com/raaihank/case-sentinel/internal/privacy"
	"github.com/raaihank/case-sentinel/internal/redaction"
	"github.com/raaihank/case-sentinel/internal/safety"
	"github.com/raaihank/case-sentinel/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cret-token"

type emptySource struct{}

func (emptySource) Candidates(context.Context, source.CandidateQuery) ([]source.Record, error) {
	return nil, nil
}
func (emptySource) MarkSynced(context.Context, string, string) error { return nil }
func (emptySource) Close() error                                     { return nil }

type nopPublisher struct{}

func (nopPublisher) CreateDraft(context.Context, destination.Draft) (string, error) {
	return "draft-1", nil
}

type testEnv struct {
	server   *Server
	audit    *audit.Store
	settings *config.SettingsStore
}

func newTestEnv(t *testing.T, mutate func(*config.Config), withSync bool) *testEnv {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.Server.AdminToken = testToken
	cfg.Server.RateLimit.Enabled = false
	cfg.WebSocket.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	log := logger.NewNop()
	store := audit.NewStore(cfg.Audit.RedactionCap, cfg.Audit.RejectionCap, log)
	engine := redaction.NewEngine(privacy.New(privacy.DefaultRegistry(), log), store, log)
	evaluator := safety.NewEvaluator(engine, store, cfg.Safety, log)
	settings := config.NewSettingsStore(cfg.Settings())

	deps := Deps{
		Engine:    engine,
		Evaluator: evaluator,
		Audit:     store,
		Settings:  settings,
		Version:   "test",
	}
	if withSync {
		deps.Sync = pipeline.NewOrchestrator(emptySource{}, nopPublisher{}, evaluator, settings, cfg.Sync, log)
	}

	srv, err := New(cfg, deps, log)
	require.NoError(t, err)
	return &testEnv{server: srv, audit: store, settings: settings}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnv(t, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])
}

func TestAPIRequiresAdminToken(t *testing.T) {
	env := newTestEnv(t, nil, false)

	for _, auth := range []string{"", "Bearer wrong", testToken} {
		req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "auth %q", auth)
	}

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/settings", nil).Code)
}

func TestFilterRecordsRedaction(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(t, http.MethodPost, "/api/filter", FilterRequest{
		Text:        "Call 555-123-4567 today",
		ContentType: "general",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[redaction.Result](t, rec)
	assert.Equal(t, "Call [Phone Redacted] today", result.Text)
	require.NotNil(t, result.Event)
	assert.Equal(t, "phone", result.Event.Patterns[0].PatternName)
	assert.Len(t, env.audit.ListRedactions(0), 1)
}

func TestFilterSummaryGatedByMetadata(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(t, http.MethodPost, "/api/filter", FilterRequest{
		Text:        "Quarterly summary of filings",
		ContentType: "document_summary",
		Metadata:    map[string]any{"relevancy": 100},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[redaction.Result](t, rec)
	assert.Empty(t, result.Text)
	require.NotNil(t, result.Event)
	assert.True(t, result.Event.Suppressed)
}

func TestEvaluateDenyList(t *testing.T) {
	env := newTestEnv(t, nil, false)
	relevancy := 950

	rec := env.do(t, http.MethodPost, "/api/evaluate", EvaluateRequest{
		FilterRequest: FilterRequest{Text: "notes from the therapy session were filed", ContentType: "general"},
		Relevancy:     &relevancy,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	decision := decode[safety.Decision](t, rec)
	assert.False(t, decision.Safe)
	assert.Equal(t, "contains red flag: therapy session", decision.Reason)
	assert.Len(t, env.audit.ListRejections(0), 1)
}

func TestEvaluateDefaultsRelevancyFromMetadata(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(t, http.MethodPost, "/api/evaluate", FilterRequest{
		Text:        "hearing moved to next week",
		ContentType: "general",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	decision := decode[safety.Decision](t, rec)
	assert.False(t, decision.Safe)
	assert.Equal(t, safety.ReasonBelowThreshold, decision.Reason)
}

func TestSettingsUpdate(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(t, http.MethodPut, "/api/settings", map[string]any{"relevancy_threshold": 2000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 700, env.settings.Get().RelevancyThreshold)

	rec = env.do(t, http.MethodPut, "/api/settings", map[string]any{
		"relevancy_threshold":       500,
		"protected_adult_real_name": "Jane Doe",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got := env.settings.Get()
	assert.Equal(t, 500, got.RelevancyThreshold)
	assert.Equal(t, 900, got.HighSensitivityThreshold, "unspecified fields keep their values")
	assert.Equal(t, "Jane Doe", got.ProtectedAdultRealName)
	assert.Equal(t, "Mother", got.ProtectedAdultAlias)
}

func TestAuditListAndClear(t *testing.T) {
	env := newTestEnv(t, nil, false)
	for i := 0; i < 3; i++ {
		env.audit.RecordRejection(audit.NewRejectionEvent("too much content redacted", "x"))
	}

	rec := env.do(t, http.MethodGet, "/api/audit/rejections?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["count"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/audit/redactions?limit=abc", nil).Code)

	rec = env.do(t, http.MethodDelete, "/api/audit", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, env.audit.ListRejections(0), 3, "unconfirmed clear must not delete anything")

	rec = env.do(t, http.MethodDelete, "/api/audit?confirm="+ClearConfirmation, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode[map[string]any](t, rec)["rejections"])
	assert.Empty(t, env.audit.ListRejections(0))
}

func TestPatternsListed(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := env.do(t, http.MethodGet, "/api/patterns", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		RegistryVersion string        `json:"registry_version"`
		Patterns        []PatternInfo `json:"patterns"`
	}](t, rec)
	assert.Equal(t, privacy.RegistryVersion, body.RegistryVersion)
	require.Len(t, body.Patterns, len(privacy.DefaultRegistry().Patterns()))
	assert.Equal(t, privacy.PatternSSN, body.Patterns[0].Name)
}

func TestSyncRun(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, nil, false)
		assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/api/sync/run", nil).Code)
	})

	t.Run("configured", func(t *testing.T) {
		env := newTestEnv(t, nil, true)
		rec := env.do(t, http.MethodPost, "/api/sync/run", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, decode[pipeline.RunResult](t, rec).Candidates)
	})
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.RateLimit.Enabled = true
		cfg.Server.RateLimit.RequestsPerMin = 1
		cfg.Server.RateLimit.Burst = 1
	}, false)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/settings", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/api/settings", nil).Code)
	// health is outside /api and never limited
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)
}

func TestWebSocketRequiresBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.WebSocket.Enabled = true
		cfg.WebSocket.Username = "reviewer"
		cfg.WebSocket.Password = "pw"
	}, false)
	require.NotNil(t, env.server.GetWebSocketHub())

	rec := env.do(t, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFilterCommand(t *testing.T) {
	out, err := run(t, "", "filter", "Call", "555-123-4567", "now")
	require.NoError(t, err)
	assert.Equal(t, "Call [Phone Redacted] now\n", out)
}

func TestFilterReadsStdin(t *testing.T) {
	out, err := run(t, "mail jane.doe@example.com\n", "filter", "--json", "-")
	require.NoError(t, err)

	var result struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "mail [Email Redacted]", result.Text)
}

func TestEvaluateCommand(t *testing.T) {
	out, err := run(t, "", "evaluate", "--relevancy", "950", "notes from the therapy session")
	require.NoError(t, err)
	assert.Contains(t, out, "REJECT: contains red flag: therapy session")

	out, err = run(t, "", "evaluate", "hearing moved")
	require.NoError(t, err)
	assert.Contains(t, out, "REJECT: below relevancy threshold")
}

func TestPatternsCommand(t *testing.T) {
	out, err := run(t, "", "patterns")
	require.NoError(t, err)
	assert.Contains(t, out, "ssn")
	assert.Contains(t, out, "[Name Redacted]")
}

func TestAuditListThroughAPI(t *testing.T) {
	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/audit/rejections", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"events": []audit.RejectionEvent{audit.NewRejectionEvent("too much content redacted", "Jane at [Phone")},
			"count":  1,
		})
	}))
	defer api.Close()

	out, err := run(t, "", "audit", "list", "--kind", "rejections", "--limit", "5",
		"--server", api.URL, "--token", "tkn")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tkn", gotAuth)
	assert.Contains(t, out, "too much content redacted")
}

func TestAuditClearRequiresConfirmation(t *testing.T) {
	calls := 0
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "CLEAR", r.URL.Query().Get("confirm"))
		w.Write([]byte(`{"cleared":true}`))
	}))
	defer api.Close()

	out, err := run(t, "no\n", "audit", "clear", "--server", api.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted")
	assert.Equal(t, 0, calls)

	out, err = run(t, "CLEAR\n", "audit", "clear", "--server", api.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Audit log cleared.")
	assert.Equal(t, 1, calls)

	_, err = run(t, "", "audit", "clear", "--force", "--server", api.URL)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestAuditListRejectsUnknownKind(t *testing.T) {
	_, err := run(t, "", "audit", "list", "--kind", "everything")
	assert.Error(t, err)
}

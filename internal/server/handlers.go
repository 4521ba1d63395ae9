package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/raaihank/case-sentinel/internal/pipeline"
	"github.com/raaihank/case-sentinel/internal/privacy"
	"github.com/raaihank/case-sentinel/internal/redaction"
	"go.uber.org/zap"
)

// ClearConfirmation must be passed as ?confirm= to clear the audit log
const ClearConfirmation = "CLEAR"

const (
	defaultListLimit = 100
	maxBodyBytes     = 1 << 20
)

// FilterRequest is the body of POST /api/filter
type FilterRequest struct {
	Text        string         `json:"text"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// EvaluateRequest is the body of POST /api/evaluate. Relevancy defaults to
// the metadata relevancy score.
type EvaluateRequest struct {
	FilterRequest
	Relevancy *int `json:"relevancy,omitempty"`
}

// PatternInfo describes one registry entry
type PatternInfo struct {
	Name        string           `json:"name"`
	Category    privacy.Category `json:"category"`
	Placeholder string           `json:"placeholder"`
	Description string           `json:"description"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":              "case-sentinel",
		"version":           s.version,
		"registry_version":  privacy.RegistryVersion,
		"patterns_count":    len(s.engine.Detector().Registry().Patterns()),
		"sync_enabled":      s.sync != nil,
		"websocket_enabled": s.wsHub != nil,
		"audit":             s.audit.Stats(),
	}
	if s.sync != nil {
		info["last_sync"] = s.sync.LastRun()
	}
	if s.wsHub != nil {
		info["websocket"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Get())
}

// handlePutSettings applies a partial update over the current settings
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	next := s.settings.Get()
	if !decodeBody(w, r, &next) {
		return
	}
	if err := s.settings.Set(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.WithRequestID(getRequestID(r.Context())).Info("Runtime settings updated",
		zap.Int("relevancy_threshold", next.RelevancyThreshold),
		zap.Int("high_sensitivity_threshold", next.HighSensitivityThreshold),
		zap.Bool("adult_alias_configured", next.ProtectedAdultRealName != ""),
		zap.Bool("minor_alias_configured", next.ProtectedMinorRealName != ""),
	)
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	patterns := s.engine.Detector().Registry().Patterns()
	out := make([]PatternInfo, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, PatternInfo{
			Name:        p.Name,
			Category:    p.Category,
			Placeholder: p.Placeholder,
			Description: p.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry_version": privacy.RegistryVersion,
		"patterns":         out,
	})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result := s.engine.Filter(req.Text, redaction.ParseContentType(req.ContentType), req.Metadata, s.settings.Get())
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	relevancy := 0
	if req.Relevancy != nil {
		relevancy = *req.Relevancy
	} else if score, ok := redaction.Relevancy(req.Metadata); ok {
		relevancy = score
	}

	decision := s.evaluator.Evaluate(req.Text, redaction.ParseContentType(req.ContentType), req.Metadata, relevancy, s.settings.Get())
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleListRedactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	events := s.audit.ListRedactions(limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleListRejections(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	events := s.audit.ListRejections(limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// handleClearAudit empties both audit logs. It is irreversible, so the
// caller must confirm explicitly.
func (s *Server) handleClearAudit(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != ClearConfirmation {
		writeError(w, http.StatusBadRequest, "clearing the audit log requires ?confirm="+ClearConfirmation)
		return
	}

	before := s.audit.Stats()
	s.audit.Clear()

	s.logger.WithRequestID(getRequestID(r.Context())).Warn("Audit log cleared",
		zap.Int("redactions", before.Redactions),
		zap.Int("rejections", before.Rejections),
		zap.String("client_ip", clientKey(r)),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"cleared":    true,
		"redactions": before.Redactions,
		"rejections": before.Rejections,
	})
}

func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}

	result, err := s.sync.Run(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Sync run failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

package safety

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/redaction"
	"go.uber.org/zap"
)

// Rejection reasons
const (
	ReasonBelowThreshold  = "below relevancy threshold"
	ReasonTooMuchRedacted = "too much content redacted"
	redFlagPrefix         = "contains red flag: "
)

// Decision is the outcome of a safety evaluation. Safe only means the record
// may be shown to a human reviewer as a draft, never that it may be
// published.
type Decision struct {
	Safe          bool              `json:"safe"`
	Reason        string            `json:"reason,omitempty"`
	Filtered      string            `json:"filtered_text"`
	RetainedRatio float64           `json:"retained_ratio"`
	Redaction     *redaction.Result `json:"-"`
}

// Evaluator decides whether filtered text is eligible for public review.
// Its criteria are privacy-specific and independent of how important the
// record is.
type Evaluator struct {
	engine           *redaction.Engine
	recorder         audit.Recorder
	minRetainedRatio float64
	redFlags         []string
	previewLength    int
	logger           *logger.Logger
}

// NewEvaluator creates an evaluator. recorder may be nil.
func NewEvaluator(engine *redaction.Engine, recorder audit.Recorder, cfg config.SafetyConfig, log *logger.Logger) *Evaluator {
	flags := make([]string, 0, len(cfg.RedFlags))
	for _, f := range cfg.RedFlags {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			flags = append(flags, f)
		}
	}

	ratio := cfg.MinRetainedRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	preview := cfg.PreviewLength
	if preview <= 0 {
		preview = 200
	}

	return &Evaluator{
		engine:           engine,
		recorder:         recorder,
		minRetainedRatio: ratio,
		redFlags:         flags,
		previewLength:    preview,
		logger:           log.WithComponent("safety"),
	}
}

// IsPublicSafe filters text as general content and reports whether the
// result may be shown to a reviewer. A false result has appended exactly one
// RejectionEvent.
func (ev *Evaluator) IsPublicSafe(text string, relevancy int, settings config.Settings) bool {
	return ev.Evaluate(text, redaction.General, nil, relevancy, settings).Safe
}

// Evaluate runs the full decision procedure, short-circuiting in order:
// relevancy threshold, filtering, retained-content ratio, deny-list.
func (ev *Evaluator) Evaluate(text string, contentType redaction.ContentType, metadata map[string]any, relevancy int, settings config.Settings) Decision {
	if relevancy < settings.RelevancyThreshold {
		return ev.reject(text, ReasonBelowThreshold, Decision{})
	}

	if metadata == nil {
		metadata = map[string]any{redaction.RelevancyKey: relevancy}
	}
	res := ev.engine.Filter(text, contentType, metadata, settings)
	decision := Decision{Filtered: res.Text, Redaction: &res, RetainedRatio: 1}

	originalLen := utf8.RuneCountInString(text)
	if originalLen == 0 {
		decision.Safe = true
		return decision
	}

	// placeholders count as removed content, not as retained text
	decision.RetainedRatio = float64(res.Retained) / float64(originalLen)
	if decision.RetainedRatio < ev.minRetainedRatio {
		return ev.reject(text, ReasonTooMuchRedacted, decision)
	}

	if flag, found := ev.firstRedFlag(res.Text); found {
		return ev.reject(text, redFlagPrefix+flag, decision)
	}

	decision.Safe = true
	return decision
}

// RedFlags returns the normalized deny-list in evaluation order
func (ev *Evaluator) RedFlags() []string {
	return append([]string(nil), ev.redFlags...)
}

func (ev *Evaluator) firstRedFlag(filtered string) (string, bool) {
	lower := strings.ToLower(filtered)
	for _, flag := range ev.redFlags {
		if strings.Contains(lower, flag) {
			return flag, true
		}
	}
	return "", false
}

func (ev *Evaluator) reject(original, reason string, decision Decision) Decision {
	decision.Safe = false
	decision.Reason = reason

	event := audit.NewRejectionEvent(reason, Preview(original, ev.previewLength))
	if ev.recorder != nil {
		ev.recorder.RecordRejection(event)
	}

	ev.logger.Info("Record rejected",
		zap.String("event_id", event.ID),
		zap.String("reason", reason),
		zap.Float64("retained_ratio", decision.RetainedRatio),
	)

	return decision
}

// Preview truncates s to at most n runes
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// IsRedFlagReason reports whether reason came from the deny-list
func IsRedFlagReason(reason string) bool {
	return strings.HasPrefix(reason, redFlagPrefix)
}

// RedFlagReason formats the rejection reason for a deny-list keyword
func RedFlagReason(keyword string) string {
	return fmt.Sprintf("%s%s", redFlagPrefix, keyword)
}

package redaction

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/raaihank/case-sentinel/internal/privacy"
)

// ContentType selects the content-specific rules applied on top of the
// generic registry
type ContentType string

const (
	TimelineEvent   ContentType = "timeline_event"
	CourtHearing    ContentType = "court_hearing"
	DocumentSummary ContentType = "document_summary"
	General         ContentType = "general"
)

// ParseContentType maps a wire value to a ContentType. Unknown values are
// treated as General.
func ParseContentType(s string) ContentType {
	switch ct := ContentType(strings.ToLower(strings.TrimSpace(s))); ct {
	case TimelineEvent, CourtHearing, DocumentSummary:
		return ct
	default:
		return General
	}
}

// Content-specific placeholders
const (
	LocationPlaceholder = "[Location]"
	RedactedPlaceholder = "[Redacted]"
	DatePlaceholder     = "[Date]"
	TimePlaceholder     = "[Time]"
)

// contentPlaceholders lists the placeholders emitted by content rules, so
// they can be shielded alongside the registry's own.
var contentPlaceholders = []string{
	LocationPlaceholder, RedactedPlaceholder, DatePlaceholder, TimePlaceholder,
}

// Content rule names as they appear in the audit log
const (
	RuleTimelineJudge    = "timeline_judge"
	RuleTimelineAttorney = "timeline_attorney"
	RuleTimelineLocation = "timeline_location"
	RuleCourtCourtroom   = "court_courtroom"
	RuleCourtDepartment  = "court_department"
	RuleSummaryDate      = "summary_date"
	RuleSummaryTime      = "summary_time"
)

// preRules run before the generic registry so that a role-labeled name is
// attributed to its content rule instead of the generic name pattern.
var preRules = map[ContentType][]privacy.Pattern{
	TimelineEvent: {
		privacy.LabeledNamePattern(RuleTimelineJudge, privacy.CategoryContextual,
			"Judge", privacy.NamePlaceholder, "Judge name in timeline narrative"),
		privacy.LabeledNamePattern(RuleTimelineAttorney, privacy.CategoryContextual,
			"Attorney", privacy.NamePlaceholder, "Attorney name in timeline narrative"),
		privacy.MustPattern(RuleTimelineLocation, privacy.CategoryContextual,
			privacy.StreetFragment, LocationPlaceholder, "Street location in timeline narrative"),
	},
	CourtHearing: {
		privacy.MustPattern(RuleCourtCourtroom, privacy.CategoryContextual,
			`\b(Courtroom)[ \t]+#?[ \t]*\d+[A-Za-z]?\b`,
			RedactedPlaceholder, "Courtroom number").KeepingLabel(),
		privacy.MustPattern(RuleCourtDepartment, privacy.CategoryContextual,
			`\b(Department|Dept\.)[ \t]+#?[ \t]*(?:(?:[A-Za-z0-9]+-)*[A-Za-z0-9]*\d[A-Za-z0-9]*|[A-Z]{1,3})\b`,
			RedactedPlaceholder, "Court department code").KeepingLabel(),
	},
}

// highSensitivityRules strip exact dates and clock times from the most
// sensitive summaries.
var highSensitivityRules = []privacy.Pattern{
	privacy.MustPattern(RuleSummaryDate, privacy.CategoryContextual,
		privacy.DateExpr, DatePlaceholder, "Explicit date in high-sensitivity summary"),
	privacy.MustPattern(RuleSummaryTime, privacy.CategoryContextual,
		privacy.TimeExpr, TimePlaceholder, "Clock time in high-sensitivity summary"),
}

// RelevancyKey is the metadata field carrying the 0-1000 relevancy score
const RelevancyKey = "relevancy"

// Relevancy reads the relevancy score from record metadata. Missing or
// unparseable values report ok=false and a score of 0, which is below any
// threshold, so a summary without a score is suppressed.
func Relevancy(metadata map[string]any) (score int, ok bool) {
	raw, present := metadata[RelevancyKey]
	if !present || raw == nil {
		return 0, false
	}

	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return floatScore(float64(v))
	case float64:
		return floatScore(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
		if f, err := v.Float64(); err == nil {
			return floatScore(f)
		}
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatScore(f)
		}
	}
	return 0, false
}

func floatScore(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Floor(f)), true
}

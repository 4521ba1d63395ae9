package redaction

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/privacy"
	"go.uber.org/zap"
)

// Alias roles recorded in the audit log
const (
	RoleAdult = "adult"
	RoleMinor = "minor"
)

// Engine applies the pattern registry, content-type rules and alias
// substitution to free text. It never returns an error; input anomalies
// degrade to no-ops or to more redaction.
type Engine struct {
	detector     *privacy.Detector
	recorder     audit.Recorder
	placeholders []string
	stripper     *strings.Replacer
	logger       *logger.Logger
}

// Result is the outcome of one filtering call. Event is nil when the text
// was left unchanged. Retained counts the runes of Text that are not
// placeholders.
type Result struct {
	Text     string                `json:"text"`
	Retained int                   `json:"retained_length"`
	Event    *audit.RedactionEvent `json:"event,omitempty"`
}

// NewEngine creates an engine. recorder may be nil, in which case events are
// built and returned but not persisted.
func NewEngine(detector *privacy.Detector, recorder audit.Recorder, log *logger.Logger) *Engine {
	placeholders := append(detector.Registry().Placeholders(), contentPlaceholders...)
	strip := make([]string, 0, len(placeholders)*2)
	for _, p := range placeholders {
		strip = append(strip, p, "")
	}
	return &Engine{
		detector:     detector,
		recorder:     recorder,
		placeholders: placeholders,
		stripper:     strings.NewReplacer(strip...),
		logger:       log.WithComponent("redaction"),
	}
}

// Detector returns the underlying pattern detector
func (e *Engine) Detector() *privacy.Detector {
	return e.detector
}

// Filter redacts text according to contentType and settings, records a
// RedactionEvent when the output differs from the input, and returns both.
//
// Order of operations:
//  1. empty text is returned unchanged
//  2. document summaries below the relevancy threshold are suppressed
//  3. configured real names are reserved so no pattern can consume them
//  4. content-type rules that must win over generic patterns
//  5. the generic registry, in registry order
//  6. date and time stripping for high-sensitivity summaries
//  7. reserved names are materialized as their aliases
func (e *Engine) Filter(text string, contentType ContentType, metadata map[string]any, settings config.Settings) Result {
	if text == "" {
		return Result{Text: text}
	}

	contentType = ParseContentType(string(contentType))

	var relevancy int
	if contentType == DocumentSummary {
		relevancy, _ = Relevancy(metadata)
		if relevancy < settings.RelevancyThreshold {
			event := e.buildEvent(text, "", contentType, nil, nil)
			event.Suppressed = true
			e.logger.Debug("Document summary suppressed",
				zap.Int("relevancy", relevancy),
				zap.Int("threshold", settings.RelevancyThreshold),
			)
			return e.finish("", event)
		}
	}

	sh := privacy.NewShield()
	working := sh.Protect(text, e.placeholders)

	var aliases []audit.AliasSubstitution
	working, aliases = reserveAliases(working, sh, settings.AliasConfig)

	var matches []audit.PatternMatch
	working, matches = applyRules(working, sh, preRules[contentType], matches)

	masked, findings := e.detector.Mask(working, sh)
	working = masked
	for _, f := range findings {
		matches = append(matches, audit.PatternMatch{
			PatternName: f.EntityType,
			Count:       f.Count,
			Description: f.Description,
		})
	}

	if contentType == DocumentSummary && relevancy >= settings.HighSensitivityThreshold {
		working, matches = applyRules(working, sh, highSensitivityRules, matches)
	}

	out := sh.Reveal(working)
	if out == text {
		return Result{Text: out, Retained: e.retainedLength(out)}
	}

	return e.finish(out, e.buildEvent(text, out, contentType, matches, aliases))
}

func (e *Engine) finish(out string, event audit.RedactionEvent) Result {
	if e.recorder != nil {
		e.recorder.RecordRedaction(event)
	}

	e.logger.Debug("Text filtered",
		zap.String("event_id", event.ID),
		zap.String("content_type", event.ContentType),
		zap.Int("patterns", len(event.Patterns)),
		zap.Int("aliases", len(event.Aliases)),
		zap.Float64("redaction_percentage", event.RedactionPercentage),
	)

	return Result{Text: out, Retained: e.retainedLength(out), Event: &event}
}

// retainedLength is the rune length of s with every placeholder removed
func (e *Engine) retainedLength(s string) int {
	return utf8.RuneCountInString(e.stripper.Replace(s))
}

func (e *Engine) buildEvent(original, filtered string, contentType ContentType, matches []audit.PatternMatch, aliases []audit.AliasSubstitution) audit.RedactionEvent {
	originalLen := utf8.RuneCountInString(original)
	filteredLen := utf8.RuneCountInString(filtered)

	if matches == nil {
		matches = []audit.PatternMatch{}
	}

	return audit.NewRedactionEvent(audit.RedactionEvent{
		ContentType:         string(contentType),
		OriginalLength:      originalLen,
		FilteredLength:      filteredLen,
		RedactionPercentage: RedactionPercentage(originalLen, filteredLen),
		Patterns:            matches,
		Aliases:             aliases,
	})
}

// RedactionPercentage is round((1 - filtered/original) * 100, 2). It is
// negative when placeholders are longer than what they replaced.
func RedactionPercentage(originalLen, filteredLen int) float64 {
	if originalLen == 0 {
		return 0
	}
	pct := (1 - float64(filteredLen)/float64(originalLen)) * 100
	return math.Round(pct*100) / 100
}

// reserveAliases swaps each whole-word occurrence of a configured real name
// for the shield token of its alias. The alias only becomes visible when the
// shield is revealed, after every pattern has run. Blank names and blank
// aliases are no-ops.
func reserveAliases(text string, sh *privacy.Shield, cfg config.AliasConfig) (string, []audit.AliasSubstitution) {
	var subs []audit.AliasSubstitution

	pairs := []struct {
		role, name, alias string
	}{
		{RoleAdult, cfg.ProtectedAdultRealName, cfg.ProtectedAdultAlias},
		{RoleMinor, cfg.ProtectedMinorRealName, cfg.ProtectedMinorAlias},
	}

	for _, p := range pairs {
		name := strings.TrimSpace(p.name)
		if name == "" || strings.TrimSpace(p.alias) == "" || name == p.alias {
			continue
		}
		var n int
		text, n = replaceWord(text, name, sh.Token(p.alias))
		if n == 0 {
			continue
		}
		subs = append(subs, audit.AliasSubstitution{Role: p.role, Alias: p.alias, Count: n})
	}

	return text, subs
}

// replaceWord replaces occurrences of word that are not part of a longer
// word, so "Ann" leaves "Annual" alone.
func replaceWord(text, word, repl string) (string, int) {
	first, _ := utf8.DecodeRuneInString(word)
	last, _ := utf8.DecodeLastRuneInString(word)

	var b strings.Builder
	n, start := 0, 0
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], word)
		if j < 0 {
			break
		}
		at, end := i+j, i+j+len(word)

		before, _ := utf8.DecodeLastRuneInString(text[:at])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (at > 0 && isWordRune(first) && isWordRune(before)) ||
			(end < len(text) && isWordRune(last) && isWordRune(after)) {
			_, size := utf8.DecodeRuneInString(text[at:])
			i = at + size
			continue
		}

		b.WriteString(text[start:at])
		b.WriteString(repl)
		start, i = end, end
		n++
	}
	if n == 0 {
		return text, 0
	}
	b.WriteString(text[start:])
	return b.String(), n
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func applyRules(text string, sh *privacy.Shield, rules []privacy.Pattern, matches []audit.PatternMatch) (string, []audit.PatternMatch) {
	for _, rule := range rules {
		var n int
		text, n = rule.Redact(text, sh.Token(rule.Placeholder))
		if n > 0 {
			matches = append(matches, audit.PatternMatch{
				PatternName: rule.Name,
				Count:       n,
				Description: rule.Description,
			})
		}
	}
	return text, matches
}

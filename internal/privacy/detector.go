package privacy

import (
	"github.com/raaihank/case-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Detector runs the registry over text in order
type Detector struct {
	registry *Registry
	logger   *logger.Logger
}

// New creates a new detector over the given registry
func New(registry *Registry, log *logger.Logger) *Detector {
	detector := &Detector{
		registry: registry,
		logger:   log,
	}

	custom := 0
	for _, p := range registry.patterns {
		if p.Category == CategoryCustom {
			custom++
		}
	}

	log.Info("Privacy detector initialized",
		zap.String("registry_version", RegistryVersion),
		zap.Int("total_rules", len(registry.patterns)),
		zap.Int("custom_rules", custom),
	)

	return detector
}

// Registry returns the registry the detector runs
func (d *Detector) Registry() *Registry {
	return d.registry
}

// Mask applies every pattern, in registry order, to text that has already
// been passed through sh. Replacements are shielded tokens, so later patterns
// never see earlier placeholders.
func (d *Detector) Mask(text string, sh *Shield) (string, []Finding) {
	masked := text
	findings := make([]Finding, 0)

	for _, rule := range d.registry.patterns {
		var count int
		masked, count = rule.Redact(masked, sh.Token(rule.Placeholder))
		if count == 0 {
			continue
		}

		findings = append(findings, Finding{
			EntityType:  rule.Name,
			Category:    rule.Category,
			Description: rule.Description,
			Masked:      rule.Placeholder,
			Count:       count,
		})

		d.logger.Debug("PII detected and masked",
			zap.String("entity_type", rule.Name),
			zap.Int("count", count),
			zap.String("replacement", rule.Placeholder),
		)
	}

	return masked, findings
}

// ProcessText processes plain text through all patterns
func (d *Detector) ProcessText(text string) ProcessResult {
	sh := NewShield()
	masked, findings := d.Mask(sh.Protect(text, d.registry.Placeholders()), sh)

	return ProcessResult{
		MaskedText: sh.Reveal(masked),
		Findings:   findings,
		Original:   text,
	}
}

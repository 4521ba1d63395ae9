package privacy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/raaihank/case-sentinel/internal/config"
)

// Registry is the fixed, ordered catalog of sensitive-entity patterns.
// Built-ins come first in RegistryVersion order, administrator patterns
// follow in configuration order.
type Registry struct {
	patterns []Pattern
	byName   map[string]int
}

// NewRegistry builds the registry from the built-ins plus custom patterns.
// Any malformed custom pattern is an error; callers must refuse to start
// rather than run with a detection class silently disabled.
func NewRegistry(custom []config.PatternConfig) (*Registry, error) {
	patterns := builtinPatterns()

	for _, pc := range custom {
		expr, err := regexp.Compile(pc.Expression)
		if err != nil {
			return nil, fmt.Errorf("custom pattern %q: %w", pc.Name, err)
		}
		if pc.Placeholder == "" {
			return nil, fmt.Errorf("custom pattern %q: placeholder is required", pc.Name)
		}
		description := pc.Description
		if description == "" {
			description = pc.Name
		}
		patterns = append(patterns, Pattern{
			Name:        pc.Name,
			Category:    CategoryCustom,
			Placeholder: pc.Placeholder,
			Description: description,
			Expr:        expr,
		})
	}

	r := &Registry{
		patterns: patterns,
		byName:   make(map[string]int, len(patterns)),
	}
	for i, p := range patterns {
		if p.Name == "" {
			return nil, fmt.Errorf("pattern %d has no name", i)
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate pattern name: %s", p.Name)
		}
		r.byName[p.Name] = i
	}

	return r, nil
}

// DefaultRegistry returns a registry holding only the built-in patterns
func DefaultRegistry() *Registry {
	r, err := NewRegistry(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// Patterns returns the ordered pattern list
func (r *Registry) Patterns() []Pattern {
	out := make([]Pattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Lookup finds a pattern by name
func (r *Registry) Lookup(name string) (Pattern, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Pattern{}, false
	}
	return r.patterns[i], true
}

// Placeholders returns every placeholder the registry can emit
func (r *Registry) Placeholders() []string {
	out := make([]string, 0, len(r.patterns))
	seen := make(map[string]bool)
	for _, p := range r.patterns {
		if !seen[p.Placeholder] {
			seen[p.Placeholder] = true
			out = append(out, p.Placeholder)
		}
	}
	return out
}

// Count returns how many entities p detects in text. Placeholders already
// present are never counted.
func (r *Registry) Count(text string, p Pattern) int {
	sh := NewShield()
	_, n := p.Redact(sh.Protect(text, r.Placeholders()), sh.Token(p.Placeholder))
	return n
}

// Apply replaces every entity p detects in text with p's placeholder.
func (r *Registry) Apply(text string, p Pattern) string {
	sh := NewShield()
	out, _ := p.Redact(sh.Protect(text, r.Placeholders()), sh.Token(p.Placeholder))
	return sh.Reveal(out)
}

// Shield hides placeholder text behind private-use runes while patterns run,
// so no pattern can match a placeholder or a fragment of one.
type Shield struct {
	tokens map[string]string
	pairs  []string
}

const (
	shieldOpen  = '\uE000'
	shieldClose = '\uE001'
	shieldBase  = 0xE100
	shieldLimit = 0xF8FF
)

// NewShield creates an empty shield
func NewShield() *Shield {
	return &Shield{tokens: make(map[string]string)}
}

// Token returns the opaque token standing in for text
func (s *Shield) Token(text string) string {
	if tok, ok := s.tokens[text]; ok {
		return tok
	}
	idx := len(s.tokens)
	if shieldBase+idx > shieldLimit {
		// Out of private-use runes; fall back to the raw text.
		return text
	}
	tok := string([]rune{shieldOpen, rune(shieldBase + idx), shieldClose})
	s.tokens[text] = tok
	s.pairs = append(s.pairs, tok, text)
	return tok
}

// Protect replaces every occurrence of the given literals with tokens.
// Private-use runes already present in text are tokenized too, so input can
// never forge a token; if the token space runs out they are removed.
func (s *Shield) Protect(text string, literals []string) string {
	if text == "" {
		return text
	}
	pairs := make([]string, 0, len(literals)*2)
	for _, r := range reservedRunes(text) {
		lit := string(r)
		tok := s.Token(lit)
		if tok == lit {
			tok = ""
		}
		pairs = append(pairs, lit, tok)
	}
	for _, lit := range literals {
		if lit != "" && strings.Contains(text, lit) {
			pairs = append(pairs, lit, s.Token(lit))
		}
	}
	if len(pairs) == 0 {
		return text
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// reservedRunes returns the distinct runes of text that fall in the range
// shield tokens are built from, in order of first appearance.
func reservedRunes(text string) []rune {
	if strings.IndexFunc(text, isReserved) < 0 {
		return nil
	}
	var out []rune
	seen := make(map[rune]bool)
	for _, r := range text {
		if isReserved(r) && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func isReserved(r rune) bool {
	return r >= shieldOpen && r <= shieldLimit
}

// Reveal swaps every token back to the text it stands for
func (s *Shield) Reveal(text string) string {
	if len(s.pairs) == 0 || !strings.ContainsRune(text, shieldOpen) {
		return text
	}
	return strings.NewReplacer(s.pairs...).Replace(text)
}

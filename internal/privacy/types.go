package privacy

import "regexp"

// Category groups sensitive-entity classes for audit display
type Category string

const (
	CategoryIdentity     Category = "identity"
	CategoryContact      Category = "contact"
	CategoryGovernmentID Category = "government_id"
	CategoryLegal        Category = "legal"
	CategoryMedical      Category = "medical"
	CategoryFinancial    Category = "financial"
	CategoryContextual   Category = "contextual"
	CategoryCustom       Category = "custom"
)

// Pattern is a single detectable sensitive-entity class. Patterns are
// immutable once built.
type Pattern struct {
	Name        string
	Category    Category
	Placeholder string
	Description string
	Expr        *regexp.Regexp

	// keepLabel preserves the first capture group and rewrites the rest.
	keepLabel bool
	// rewrite overrides whole-match replacement; it returns the rewritten
	// match and how many entities it replaced.
	rewrite func(match, replacement string) (string, int)
}

// Finding represents a detection result
type Finding struct {
	EntityType  string   `json:"entityType"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Masked      string   `json:"masked"`
	Count       int      `json:"count"`
}

// ProcessResult contains the result of processing text through the detector
type ProcessResult struct {
	MaskedText string    `json:"maskedText"`
	Findings   []Finding `json:"findings"`
	Original   string    `json:"-"` // Never serialize original text
}

package privacy

import (
	"regexp"
	"strings"
)

// RegistryVersion identifies the built-in pattern list and its order.
// Bump it whenever a pattern is added, removed, reordered or changed.
const RegistryVersion = "2024.4"

// Built-in pattern names
const (
	PatternSSN            = "ssn"
	PatternCreditCard     = "credit_card"
	PatternBankAccount    = "bank_account"
	PatternMedicalRecord  = "medical_record"
	PatternDriversLicense = "drivers_license"
	PatternCaseNumber     = "case_number"
	PatternBirthdate      = "birthdate"
	PatternEmail          = "email"
	PatternPhone          = "phone"
	PatternAddress        = "address"
	PatternFullName       = "full_name"
)

// NamePlaceholder is shared by the generic name pattern and the
// content-type name rules.
const NamePlaceholder = "[Name Redacted]"

// streetSuffix matches the street-type suffixes an address must end with
const streetSuffix = `(?:St|Street|Ave|Avenue|Blvd|Boulevard|Dr|Drive|Rd|Road|Ln|Lane|Ct|Court|Way|Pl|Place)\b\.?`

// StreetFragment is a leading house number, up to four capitalized words and
// a street-type suffix.
const StreetFragment = `\b\d{1,6}[ \t]+(?:[A-Z][A-Za-z]*\.?[ \t]+){0,4}` + streetSuffix

// label-prefixed identifiers must contain at least one digit so that prose
// like "case against" or "medical record of" is left alone.
const digitToken = `(?:[A-Za-z0-9]+-)*[A-Za-z0-9]*\d[A-Za-z0-9]*(?:-[A-Za-z0-9]+)*`

const labelSep = `[ \t]*(?:no\.?|number|#)?[ \t]*:?[ \t]*`

const monthName = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

// DateExpr matches numeric, ISO and spelled-out dates
const DateExpr = `\b(?:\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|\d{4}-\d{2}-\d{2}|` + monthName + `\.?[ \t]+\d{1,2}(?:st|nd|rd|th)?,?[ \t]+\d{4})\b`

// TimeExpr matches clock times with optional seconds and meridiem
const TimeExpr = `\b\d{1,2}:\d{2}(?::\d{2})?(?:[ \t]*[AaPp]\.?[Mm]\b\.?)?`

// builtinPatterns returns the fixed, ordered built-in list. More specific
// patterns come first: label-prefixed identifiers run before the bare
// numeric ssn and credit_card shapes, and full_name is last because it is
// the broadest.
func builtinPatterns() []Pattern {
	return []Pattern{
		MustPattern(PatternBankAccount, CategoryFinancial,
			`(?i)\b(?:bank[ \t]+)?(?:account|acct)\b\.?`+labelSep+`\d{8,17}\b`,
			"[Account Redacted]", "Bank account number"),
		MustPattern(PatternMedicalRecord, CategoryMedical,
			`(?i)\b(?:MRN|medical[ \t]+record)\b`+labelSep+digitToken,
			"[Medical Record Redacted]", "Medical record number"),
		MustPattern(PatternDriversLicense, CategoryGovernmentID,
			`(?i)\b(?:driver'?s?[ \t]+licen[cs]e|DL)\b`+labelSep+digitToken,
			"[DL Redacted]", "Driver's license number"),
		MustPattern(PatternCaseNumber, CategoryLegal,
			`(?i)\b(?:case|docket|file)\b`+labelSep+digitToken,
			"[Case # Redacted]", "Case, docket or file number"),
		MustPattern(PatternSSN, CategoryGovernmentID,
			`\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`,
			"[SSN Redacted]", "Social Security number"),
		MustPattern(PatternCreditCard, CategoryFinancial,
			`\b(?:\d{4}[- ]?){3}\d{4}\b`,
			"[Card Redacted]", "Credit card number"),
		MustPattern(PatternBirthdate, CategoryMedical,
			`(?i)\b(?:DOB|D\.O\.B\.?|date[ \t]+of[ \t]+birth|birth[ \t]?date|born(?:[ \t]+on)?)[ \t]*[:\-]?[ \t]*`+
				`(?:\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}|\d{4}-\d{2}-\d{2}|`+monthName+`\.?[ \t]+\d{1,2}(?:st|nd|rd|th)?,?[ \t]+\d{4})\b`,
			"[DOB Redacted]", "Date of birth"),
		MustPattern(PatternEmail, CategoryContact,
			`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`,
			"[Email Redacted]", "Email address"),
		MustPattern(PatternPhone, CategoryContact,
			`(?:\+?1[ .-]?)?(?:\(\d{3}\)[ ]?|\b\d{3}[ .-]?)\d{3}[ .-]?\d{4}\b`,
			"[Phone Redacted]", "Phone number"),
		MustPattern(PatternAddress, CategoryContact,
			StreetFragment,
			"[Address Redacted]", "Street address"),
		namePattern(),
	}
}

// MustPattern compiles a whole-match pattern and panics on a bad expression.
// It is only used for expressions fixed at compile time.
func MustPattern(name string, category Category, expr, placeholder, description string) Pattern {
	return Pattern{
		Name:        name,
		Category:    category,
		Placeholder: placeholder,
		Description: description,
		Expr:        regexp.MustCompile(expr),
	}
}

// KeepingLabel returns a copy of p that preserves the first capture group
// (for example "Judge") and replaces only what follows it.
func (p Pattern) KeepingLabel() Pattern {
	p.keepLabel = true
	return p
}

// Redact replaces every match of p in text with replacement and reports how
// many entities were replaced. Count and Apply are both built on it, so the
// two always agree.
func (p Pattern) Redact(text, replacement string) (string, int) {
	if text == "" {
		return text, 0
	}

	total := 0
	out := p.Expr.ReplaceAllStringFunc(text, func(match string) string {
		switch {
		case p.rewrite != nil:
			rewritten, n := p.rewrite(match, replacement)
			total += n
			return rewritten
		case p.keepLabel:
			sub := p.Expr.FindStringSubmatch(match)
			if len(sub) < 2 || sub[1] == "" {
				total++
				return replacement
			}
			total++
			return sub[1] + " " + replacement
		default:
			total++
			return replacement
		}
	})

	return out, total
}

// nameToken is one capitalized word, allowing O'Brien and Mary-Jane forms
const nameToken = `[A-Z](?:[a-z]+|'[A-Z][a-z]+)(?:-[A-Z][a-z]+)?`

var nameTokenRe = regexp.MustCompile(nameToken + `|[A-Z]\.`)

// nameStopWords are capitalized words that start sentences or belong to
// institutions rather than people. A run of capitalized words is split at
// these before deciding whether it is a name.
var nameStopWords = toSet(
	// function words and sentence starters
	"The", "A", "An", "And", "Or", "But", "If", "On", "In", "At", "By", "For", "From", "To", "Of",
	"With", "When", "After", "Before", "During", "Per", "Re", "Contact", "Dear", "Regarding",
	"This", "That", "His", "Her", "Their", "Our", "Your", "Mr", "Mrs", "Ms", "Miss", "Dr",
	// institutions and roles
	"Police", "Report", "Reports", "Court", "Courtroom", "County", "Superior", "District",
	"Family", "Juvenile", "State", "City", "Department", "Judge", "Attorney", "Hearing",
	"Motion", "Order", "Petition", "Case", "Docket", "File", "Filed", "Notice", "Summary",
	"Document", "Exhibit", "Protective", "Restraining", "Custody", "Child", "Services",
	"Agency", "Office", "Clerk", "Honorable", "Plaintiff", "Defendant", "Petitioner",
	"Respondent", "Counsel", "Minute", "Minutes", "Trial", "Status", "Conference", "Review",
	"Mediation", "Evaluation", "Sheriff", "Officer", "Detective", "Social", "Worker",
	"Guardian", "Ad", "Litem", "Appeal", "Appeals", "Supreme", "Federal", "Public", "Defender",
	"Health", "Hospital", "School", "Center", "Timeline", "Event", "Update",
	// calendar
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
	"January", "February", "March", "April", "May", "June", "July", "August",
	"September", "October", "November", "December",
	// placeholder vocabulary
	"Name", "Redacted",
)

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// namePattern is the heuristic full-name detector: two or more capitalized
// tokens, optionally with middle initials.
func namePattern() Pattern {
	p := MustPattern(PatternFullName, CategoryIdentity,
		`\b`+nameToken+`(?:[ \t]+(?:[A-Z]\.[ \t]+)?`+nameToken+`)+\b`,
		NamePlaceholder, "Person name")
	p.rewrite = rewriteNames
	return p
}

// rewriteNames replaces each run of at least two non-stop-word tokens in a
// capitalized sequence.
func rewriteNames(match, replacement string) (string, int) {
	spans := nameTokenRe.FindAllStringIndex(match, -1)

	var b strings.Builder
	count, last := 0, 0
	runStart, runEnd, runWords := -1, -1, 0

	flush := func() {
		if runStart >= 0 && runWords >= 2 {
			b.WriteString(match[last:runStart])
			b.WriteString(replacement)
			last = runEnd
			count++
		}
		runStart, runEnd, runWords = -1, -1, 0
	}

	for _, span := range spans {
		word := match[span[0]:span[1]]
		if nameStopWords[word] {
			flush()
			continue
		}
		if runStart < 0 {
			if strings.HasSuffix(word, ".") {
				// a run never starts with a bare initial
				continue
			}
			runStart = span[0]
		}
		runEnd = span[1]
		if !strings.HasSuffix(word, ".") {
			runWords++
		}
	}
	flush()

	if count == 0 {
		return match, 0
	}
	b.WriteString(match[last:])
	return b.String(), count
}

// LabeledNamePattern redacts the name that follows a role label, keeping the
// label: "Judge Jane Smith" becomes "Judge [Name Redacted]". A single
// capitalized word after the label is enough; the name ends at the first
// stop word.
func LabeledNamePattern(name string, category Category, label, placeholder, description string) Pattern {
	p := MustPattern(name, category,
		`\b`+regexp.QuoteMeta(label)+`(?:[ \t]+(?:[A-Z]\.[ \t]+)?`+nameToken+`)+\b`,
		placeholder, description)
	p.rewrite = func(match, replacement string) (string, int) {
		return rewriteLabeledNames(match, label, replacement)
	}
	return p
}

func rewriteLabeledNames(match, label, replacement string) (string, int) {
	spans := nameTokenRe.FindAllStringIndex(match, -1)

	var b strings.Builder
	count, last := 0, 0
	afterLabel := false
	runStart, runEnd, runWords := -1, -1, 0

	flush := func() {
		if runStart >= 0 && runWords >= 1 {
			b.WriteString(match[last:runStart])
			b.WriteString(replacement)
			last = runEnd
			count++
		}
		runStart, runEnd, runWords = -1, -1, 0
	}

	for _, span := range spans {
		word := match[span[0]:span[1]]
		switch {
		case word == label:
			flush()
			afterLabel = true
		case nameStopWords[word]:
			flush()
			afterLabel = false
		case afterLabel:
			if runStart < 0 {
				runStart = span[0]
			}
			runEnd = span[1]
			if !strings.HasSuffix(word, ".") {
				runWords++
			}
		}
	}
	flush()

	if count == 0 {
		return match, 0
	}
	b.WriteString(match[last:])
	return b.String(), count
}

package audit

import (
	"time"

	"github.com/google/uuid"
)

// PatternMatch is one registry pattern that fired during a filtering call
type PatternMatch struct {
	PatternName string `json:"pattern_name"`
	Count       int    `json:"occurrence_count"`
	Description string `json:"category_description"`
}

// AliasSubstitution records a protected real name replaced by its alias.
// Kept apart from PatternMatch so reviewers can tell the two mechanisms apart.
type AliasSubstitution struct {
	Role  string `json:"role"` // adult or minor
	Alias string `json:"alias"`
	Count int    `json:"occurrence_count"`
}

// RedactionEvent is written once per filtering call that changed the text
type RedactionEvent struct {
	ID                  string              `json:"id"`
	Timestamp           time.Time           `json:"timestamp"`
	ContentType         string              `json:"content_type"`
	OriginalLength      int                 `json:"original_length"`
	FilteredLength      int                 `json:"filtered_length"`
	RedactionPercentage float64             `json:"redaction_percentage"`
	Suppressed          bool                `json:"suppressed,omitempty"`
	Patterns            []PatternMatch      `json:"patterns_matched"`
	Aliases             []AliasSubstitution `json:"alias_substitutions,omitempty"`
}

// RejectionEvent is written when the safety evaluator refuses a record
type RejectionEvent struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
	ContentPreview string    `json:"content_preview"`
}

// NewRedactionEvent stamps a fresh id and timestamp on e
func NewRedactionEvent(e RedactionEvent) RedactionEvent {
	e.ID = uuid.NewString()
	e.Timestamp = time.Now().UTC()
	return e
}

// NewRejectionEvent builds a rejection stamped with a fresh id and timestamp
func NewRejectionEvent(reason, preview string) RejectionEvent {
	return RejectionEvent{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Reason:         reason,
		ContentPreview: preview,
	}
}

// clone returns a deep copy so stored events can never be mutated through
// a listing.
func (e RedactionEvent) clone() RedactionEvent {
	if e.Patterns != nil {
		e.Patterns = append([]PatternMatch(nil), e.Patterns...)
	}
	if e.Aliases != nil {
		e.Aliases = append([]AliasSubstitution(nil), e.Aliases...)
	}
	return e
}

// Kind identifies which log an event belongs to
type Kind string

const (
	KindRedaction Kind = "redaction"
	KindRejection Kind = "rejection"
	KindCleared   Kind = "cleared"
)

// Notification is delivered to listeners after each append or clear.
// Exactly one of Redaction and Rejection is set for append notifications.
type Notification struct {
	Kind      Kind
	Redaction *RedactionEvent
	Rejection *RejectionEvent
}

// Listener receives store notifications. Listeners run while the store lock
// is held, in append order, and must neither block nor call back into the store.
type Listener func(Notification)

// Recorder is the write side of the audit log used by the redaction engine
// and the safety evaluator.
type Recorder interface {
	RecordRedaction(RedactionEvent)
	RecordRejection(RejectionEvent)
}

package audit

import (
	"sync"

	"github.com/raaihank/case-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Store is the in-memory, append-only audit log. Appends are serialized by a
// mutex; when a log reaches its cap the oldest entry is silently dropped.
type Store struct {
	mu         sync.Mutex
	redactions *ring[RedactionEvent]
	rejections *ring[RejectionEvent]
	listeners  []Listener
	logger     *logger.Logger
}

// Stats summarizes the current log sizes
type Stats struct {
	Redactions   int `json:"redactions"`
	RedactionCap int `json:"redaction_cap"`
	Rejections   int `json:"rejections"`
	RejectionCap int `json:"rejection_cap"`
}

// NewStore creates a store holding at most redactionCap redaction events and
// rejectionCap rejection events.
func NewStore(redactionCap, rejectionCap int, log *logger.Logger) *Store {
	return &Store{
		redactions: newRing[RedactionEvent](redactionCap),
		rejections: newRing[RejectionEvent](rejectionCap),
		logger:     log.WithComponent("audit"),
	}
}

// Subscribe registers a listener for every subsequent append and clear
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// RecordRedaction appends a redaction event
func (s *Store) RecordRedaction(e RedactionEvent) {
	e = e.clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.redactions.push(e)
	s.notify(Notification{Kind: KindRedaction, Redaction: ptr(e.clone())})

	s.logger.Debug("Redaction recorded",
		zap.String("event_id", e.ID),
		zap.String("content_type", e.ContentType),
		zap.Float64("redaction_percentage", e.RedactionPercentage),
		zap.Int("patterns", len(e.Patterns)),
	)
}

// RecordRejection appends a rejection event
func (s *Store) RecordRejection(e RejectionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rejections.push(e)
	s.notify(Notification{Kind: KindRejection, Rejection: ptr(e)})

	s.logger.Info("Rejection recorded",
		zap.String("event_id", e.ID),
		zap.String("reason", e.Reason),
	)
}

// ListRedactions returns up to limit redaction events, most recent first.
// limit <= 0 returns everything retained.
func (s *Store) ListRedactions(limit int) []RedactionEvent {
	s.mu.Lock()
	events := s.redactions.newest(limit)
	s.mu.Unlock()

	for i := range events {
		events[i] = events[i].clone()
	}
	return events
}

// ListRejections returns up to limit rejection events, most recent first.
// limit <= 0 returns everything retained.
func (s *Store) ListRejections(limit int) []RejectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejections.newest(limit)
}

// Clear drops every retained event. It is unconditional; callers are
// responsible for obtaining confirmation first.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := s.redactions.len() + s.rejections.len()
	s.redactions.reset()
	s.rejections.reset()
	s.notify(Notification{Kind: KindCleared})

	s.logger.Warn("Audit log cleared", zap.Int("dropped_events", dropped))
}

// Restore loads previously persisted events without notifying listeners.
// Both slices are most recent first, the order ListRedactions returns.
func (s *Store) Restore(redactions []RedactionEvent, rejections []RejectionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(redactions) - 1; i >= 0; i-- {
		s.redactions.push(redactions[i].clone())
	}
	for i := len(rejections) - 1; i >= 0; i-- {
		s.rejections.push(rejections[i])
	}

	s.logger.Info("Audit log restored",
		zap.Int("redactions", s.redactions.len()),
		zap.Int("rejections", s.rejections.len()),
	)
}

// Stats returns current log sizes and caps
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Redactions:   s.redactions.len(),
		RedactionCap: s.redactions.capacity(),
		Rejections:   s.rejections.len(),
		RejectionCap: s.rejections.capacity(),
	}
}

func (s *Store) notify(n Notification) {
	for _, l := range s.listeners {
		l(n)
	}
}

func ptr[T any](v T) *T {
	return &v
}

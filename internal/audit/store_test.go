package audit

import (
	"fmt"
	"sync"
	"testing"

	"github.com/raaihank/case-sentinel/internal/logger"
)

func newTestStore(redactionCap, rejectionCap int) *Store {
	return NewStore(redactionCap, rejectionCap, logger.NewNop())
}

func TestRedactionsMostRecentFirstAndCapped(t *testing.T) {
	s := newTestStore(3, 2)

	for i := 0; i < 5; i++ {
		s.RecordRedaction(NewRedactionEvent(RedactionEvent{ContentType: fmt.Sprintf("t%d", i)}))
	}

	got := s.ListRedactions(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(got))
	}
	for i, want := range []string{"t4", "t3", "t2"} {
		if got[i].ContentType != want {
			t.Errorf("event %d: got %s, want %s", i, got[i].ContentType, want)
		}
	}

	if limited := s.ListRedactions(2); len(limited) != 2 || limited[0].ContentType != "t4" {
		t.Errorf("limit not honored: %+v", limited)
	}
	if all := s.ListRedactions(50); len(all) != 3 {
		t.Errorf("limit above size should return all, got %d", len(all))
	}
}

func TestRejectionsIndependentCap(t *testing.T) {
	s := newTestStore(100, 2)

	s.RecordRejection(NewRejectionEvent("a", ""))
	s.RecordRejection(NewRejectionEvent("b", ""))
	s.RecordRejection(NewRejectionEvent("c", ""))
	s.RecordRedaction(NewRedactionEvent(RedactionEvent{}))

	got := s.ListRejections(-1)
	if len(got) != 2 || got[0].Reason != "c" || got[1].Reason != "b" {
		t.Fatalf("unexpected rejections: %+v", got)
	}
	if n := len(s.ListRedactions(0)); n != 1 {
		t.Fatalf("rejection cap leaked into redactions: %d", n)
	}
}

func TestListingsAreCopies(t *testing.T) {
	s := newTestStore(10, 10)
	s.RecordRedaction(NewRedactionEvent(RedactionEvent{
		Patterns: []PatternMatch{{PatternName: "ssn", Count: 1}},
	}))

	first := s.ListRedactions(0)
	first[0].Patterns[0].Count = 99
	first[0].ContentType = "mutated"

	second := s.ListRedactions(0)
	if second[0].Patterns[0].Count != 1 || second[0].ContentType == "mutated" {
		t.Fatalf("stored event was mutated through a listing: %+v", second[0])
	}
}

func TestClearNotifiesAndEmpties(t *testing.T) {
	s := newTestStore(10, 10)
	var kinds []Kind
	s.Subscribe(func(n Notification) { kinds = append(kinds, n.Kind) })

	s.RecordRedaction(NewRedactionEvent(RedactionEvent{}))
	s.RecordRejection(NewRejectionEvent("r", "p"))
	s.Clear()

	if len(s.ListRedactions(0)) != 0 || len(s.ListRejections(0)) != 0 {
		t.Fatal("clear left events behind")
	}
	want := []Kind{KindRedaction, KindRejection, KindCleared}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("notifications = %v, want %v", kinds, want)
	}
}

func TestRestoreKeepsOrderAndSkipsListeners(t *testing.T) {
	s := newTestStore(3, 3)
	notified := 0
	s.Subscribe(func(Notification) { notified++ })

	s.Restore(
		[]RedactionEvent{{ID: "new"}, {ID: "mid"}, {ID: "old"}},
		[]RejectionEvent{{ID: "r2"}, {ID: "r1"}},
	)
	s.RecordRedaction(RedactionEvent{ID: "newest"})

	got := s.ListRedactions(0)
	if got[0].ID != "newest" || got[1].ID != "new" || got[2].ID != "mid" {
		t.Fatalf("unexpected order after restore: %+v", got)
	}
	if notified != 1 {
		t.Fatalf("restore should not notify, got %d notifications", notified)
	}
	if rej := s.ListRejections(0); rej[0].ID != "r2" {
		t.Fatalf("unexpected rejection order: %+v", rej)
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := newTestStore(100, 50)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.RecordRedaction(NewRedactionEvent(RedactionEvent{}))
				s.RecordRejection(NewRejectionEvent("x", ""))
			}
		}()
	}
	wg.Wait()

	stats := s.Stats()
	if stats.Redactions != 100 || stats.Rejections != 50 {
		t.Fatalf("caps not enforced under concurrency: %+v", stats)
	}
}

func TestNewEventsHaveDistinctIDs(t *testing.T) {
	a := NewRejectionEvent("x", "")
	b := NewRejectionEvent("x", "")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
}

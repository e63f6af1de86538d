package core

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type expiryRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *expiryRecorder) record(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *expiryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func TestReactionExpiresAfterTTL(t *testing.T) {
	clk := clock.NewMock()
	rec := &expiryRecorder{}
	s := NewReactionScheduler(clk, 3000*time.Millisecond, 5, rec.record)

	r := s.Schedule("🔥")

	clk.Add(2999 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("reaction expired early")
	}

	clk.Add(2 * time.Millisecond)
	waitFor(t, "expiry callback", func() bool { return rec.count() == 1 })

	if !s.Remove(r.ID) {
		t.Fatalf("owner removal should succeed once")
	}
	if s.Remove(r.ID) {
		t.Fatalf("second removal must be a no-op")
	}
	if s.Len() != 0 {
		t.Fatalf("active set should be empty, got %d", s.Len())
	}
}

func TestReactionCapEvictsOldest(t *testing.T) {
	clk := clock.NewMock()
	rec := &expiryRecorder{}
	s := NewReactionScheduler(clk, time.Second, 5, rec.record)

	var ids []string
	for i := 0; i < 7; i++ {
		ids = append(ids, s.Schedule("👏").ID)
		if s.Len() > 5 {
			t.Fatalf("active set exceeded cap: %d", s.Len())
		}
	}

	active := s.Active()
	if len(active) != 5 || active[0].ID != ids[2] {
		t.Fatalf("expected the two oldest to be evicted, got first %q", active[0].ID)
	}

	// Evicted timers are cancelled, so only the five survivors expire.
	clk.Add(time.Second)
	waitFor(t, "survivor expiries", func() bool { return rec.count() == 5 })
	if s.Remove(ids[0]) {
		t.Fatalf("evicted reaction must not be removed twice")
	}
}

func TestReactionDedupByID(t *testing.T) {
	s := NewReactionScheduler(clock.NewMock(), time.Second, 5, nil)
	if _, added := s.ScheduleReaction(Reaction{ID: "r1", Emoji: "💜"}); !added {
		t.Fatalf("first delivery should be added")
	}
	if _, added := s.ScheduleReaction(Reaction{ID: "r1", Emoji: "💜"}); added {
		t.Fatalf("redelivery should be ignored")
	}
	s.Remove("r1")
	if _, added := s.ScheduleReaction(Reaction{ID: "r1", Emoji: "💜"}); added {
		t.Fatalf("late redelivery after expiry should be ignored")
	}
}

func TestReactionStop(t *testing.T) {
	clk := clock.NewMock()
	s := NewReactionScheduler(clk, time.Second, 5, nil)
	s.Schedule("a")
	clk.Add(500 * time.Millisecond)
	s.Schedule("b")

	s.Stop()
	if s.Len() != 0 {
		t.Fatalf("stop should clear the active set")
	}
}

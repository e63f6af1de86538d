package core

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	// DefaultReactionTTL is how long a reaction stays on screen.
	DefaultReactionTTL = 3000 * time.Millisecond
	// DefaultReactionCap bounds the active reaction set.
	DefaultReactionCap = 5

	recentReactionIDs = 256
)

// Reaction is an ephemeral emoji emission.
type Reaction struct {
	ID            string    `json:"id"`
	Emoji         string    `json:"emoji"`
	ParticipantID string    `json:"participant_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReactionScheduler keeps a capped, time-windowed multiset of reactions.
// Each reaction owns a timer; when it fires, onExpire is called from the timer goroutine with
// the reaction id and the owner is expected to call Remove on its own loop.
// It is not safe for concurrent use.
type ReactionScheduler struct {
	clock    clock.Clock
	ttl      time.Duration
	capacity int
	onExpire func(id string)

	active []Reaction
	timers map[string]*clock.Timer
	recent []string
	known  map[string]struct{}
}

// NewReactionScheduler builds a scheduler. Non-positive ttl or capacity fall back to defaults.
func NewReactionScheduler(clk clock.Clock, ttl time.Duration, capacity int, onExpire func(id string)) *ReactionScheduler {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultReactionTTL
	}
	if capacity <= 0 {
		capacity = DefaultReactionCap
	}
	return &ReactionScheduler{
		clock:    clk,
		ttl:      ttl,
		capacity: capacity,
		onExpire: onExpire,
		timers:   make(map[string]*clock.Timer),
		known:    make(map[string]struct{}),
	}
}

// Schedule adds a reaction with a fresh id and returns it.
func (s *ReactionScheduler) Schedule(emoji string) Reaction {
	r, _ := s.ScheduleReaction(Reaction{ID: uuid.NewString(), Emoji: emoji})
	return r
}

// ScheduleReaction adds r, evicting the oldest active reaction when at capacity.
// A reaction id seen recently is ignored so re-delivered events do not double-render.
// Returns the stored reaction and whether it was added.
func (s *ReactionScheduler) ScheduleReaction(r Reaction) (Reaction, bool) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, dup := s.known[r.ID]; dup {
		return r, false
	}
	s.remember(r.ID)
	r.CreatedAt = s.clock.Now()

	for len(s.active) >= s.capacity {
		s.Remove(s.active[0].ID)
	}

	s.active = append(s.active, r)
	id := r.ID
	s.timers[id] = s.clock.AfterFunc(s.ttl, func() {
		if s.onExpire != nil {
			s.onExpire(id)
		}
	})
	return r, true
}

// Remove drops the reaction and cancels its timer. Removing an absent id is a no-op.
func (s *ReactionScheduler) Remove(id string) bool {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	for i, r := range s.active {
		if r.ID == id {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return true
		}
	}
	return false
}

// Active returns a copy of the active reactions, oldest first.
func (s *ReactionScheduler) Active() []Reaction {
	out := make([]Reaction, len(s.active))
	copy(out, s.active)
	return out
}

// Len returns the active count.
func (s *ReactionScheduler) Len() int {
	return len(s.active)
}

// Stop cancels every timer and clears the active set.
func (s *ReactionScheduler) Stop() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.active = nil
}

func (s *ReactionScheduler) remember(id string) {
	s.known[id] = struct{}{}
	s.recent = append(s.recent, id)
	if len(s.recent) > recentReactionIDs {
		delete(s.known, s.recent[0])
		s.recent = s.recent[1:]
	}
}

package core

// MuteSource identifies who flipped a mute flag.
type MuteSource int

const (
	// MuteBySelf is the participant's own toggle.
	MuteBySelf MuteSource = iota
	// MuteByHost is a host or moderator action.
	MuteByHost
	// MuteConfirmed is the relay echoing a self toggle it already accepted.
	MuteConfirmed
)

func (s MuteSource) String() string {
	switch s {
	case MuteByHost:
		return "host"
	case MuteConfirmed:
		return "confirmed"
	default:
		return "self"
	}
}

// Registry is the authoritative id-indexed set of participants in one session.
// It is not safe for concurrent use; the owning Session serializes access.
type Registry struct {
	participants map[string]*Participant
	order        []string
	kicked       map[string]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[string]*Participant),
		kicked:       make(map[string]struct{}),
	}
}

// ApplyJoin inserts p if its id is absent. Returns true if newly added.
// Re-delivered joins and joins for kicked ids are no-ops.
func (r *Registry) ApplyJoin(p Participant) bool {
	if p.ID == "" {
		return false
	}
	if _, gone := r.kicked[p.ID]; gone {
		return false
	}
	if _, exists := r.participants[p.ID]; exists {
		return false
	}
	p.AudioLevel = clampLevel(p.AudioLevel)
	if p.ConnectionStatus == "" {
		p.ConnectionStatus = StatusConnected
	}
	r.participants[p.ID] = &p
	r.order = append(r.order, p.ID)
	return true
}

// ApplyLeave removes a participant. Returns true if removed.
func (r *Registry) ApplyLeave(id string) bool {
	if _, exists := r.participants[id]; !exists {
		return false
	}
	delete(r.participants, id)
	r.dropOrder(id)
	return true
}

// ApplyUpdate merges patch into the participant, last write wins per field.
// Updates for unknown or kicked ids return ErrStaleReference and are not buffered.
func (r *Registry) ApplyUpdate(id string, patch ParticipantPatch) error {
	p, ok := r.participants[id]
	if !ok {
		return coreError(ErrCodeStaleReference, ErrStaleReference, "update for unknown participant "+id)
	}
	patch.applyTo(p)
	return nil
}

// ApplyMute flips the self or host mute flag of a participant through the mute state machine.
func (r *Registry) ApplyMute(id string, source MuteSource, muted bool) error {
	p, ok := r.participants[id]
	if !ok {
		return coreError(ErrCodeStaleReference, ErrStaleReference, "mute for unknown participant "+id)
	}
	return muteTransition(p, source, muted)
}

// ApplyKick removes the participant and tombstones the id for the rest of the session.
// Returns true if the participant was present.
func (r *Registry) ApplyKick(id string) bool {
	if id == "" {
		return false
	}
	r.kicked[id] = struct{}{}
	return r.ApplyLeave(id)
}

// IsKicked reports whether id was kicked during this session.
func (r *Registry) IsKicked(id string) bool {
	_, gone := r.kicked[id]
	return gone
}

// Get returns a copy of the participant with the given id.
func (r *Registry) Get(id string) (Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Has reports whether id is currently present.
func (r *Registry) Has(id string) bool {
	_, ok := r.participants[id]
	return ok
}

// List returns copies of all participants in join order.
func (r *Registry) List() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.participants[id])
	}
	return out
}

// Len returns the number of present participants.
func (r *Registry) Len() int {
	return len(r.participants)
}

// Reset drops every participant but keeps kick tombstones, so a resync cannot reinstate them.
func (r *Registry) Reset() {
	r.participants = make(map[string]*Participant)
	r.order = nil
}

func (r *Registry) dropOrder(id string) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

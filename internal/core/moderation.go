package core

// ModerationAction is a host or moderator action against a participant.
type ModerationAction string

const (
	ActionMute      ModerationAction = "mute"
	ActionUnmute    ModerationAction = "unmute"
	ActionUnmuteAll ModerationAction = "unmute_all"
	ActionKick      ModerationAction = "kick"
	ActionPromote   ModerationAction = "promote"
)

// Valid reports whether a is a known action.
func (a ModerationAction) Valid() bool {
	switch a {
	case ActionMute, ActionUnmute, ActionUnmuteAll, ActionKick, ActionPromote:
		return true
	}
	return false
}

// Targeted reports whether the action needs a target participant.
func (a ModerationAction) Targeted() bool {
	return a != ActionUnmuteAll
}

// muteTransition drives the {IsMuted, HostMuted} state machine.
//
//	self toggle      allowed only while HostMuted is false
//	host mute        always allowed, overrides the self state
//	host unmute      the only way to clear HostMuted
//	confirmation     records the relay's self state as is, HostMuted untouched
func muteTransition(p *Participant, source MuteSource, muted bool) error {
	switch source {
	case MuteByHost:
		p.HostMuted = muted
		return nil
	case MuteConfirmed:
		p.IsMuted = muted
		return nil
	default:
		if p.HostMuted {
			return coreError(ErrCodeMutedByModerator, ErrMutedByModerator, ErrMutedByModerator.Error())
		}
		p.IsMuted = muted
		return nil
	}
}

// Moderator applies moderation actions to a Registry and guards locally issued commands.
// It is not safe for concurrent use.
type Moderator struct {
	registry *Registry
}

// NewModerator binds a moderator to a registry.
func NewModerator(registry *Registry) *Moderator {
	return &Moderator{registry: registry}
}

// Authorize is the client-side guard run before a command reaches the transport.
// The relay remains the final authority.
func (m *Moderator) Authorize(issuerID string, action ModerationAction, targetID string) error {
	if !action.Valid() {
		return coreError(ErrCodeValidation, ErrValidation, "unknown moderation action "+string(action))
	}
	issuer, ok := m.registry.Get(issuerID)
	if !ok || !issuer.Privileged() {
		return coreError(ErrCodeNotAuthorized, ErrNotAuthorized, "only a host or moderator may "+string(action))
	}
	if !action.Targeted() {
		return nil
	}
	target, ok := m.registry.Get(targetID)
	if !ok {
		return coreError(ErrCodeStaleReference, ErrStaleReference, "participant "+targetID+" is not present")
	}
	if target.IsHost && !issuer.IsHost {
		return coreError(ErrCodeNotAuthorized, ErrNotAuthorized, "moderators cannot act on the host")
	}
	return nil
}

// Apply mutates the registry for an action. Actions against absent targets return
// ErrStaleReference and change nothing.
func (m *Moderator) Apply(action ModerationAction, targetID string) error {
	switch action {
	case ActionMute:
		return m.registry.ApplyMute(targetID, MuteByHost, true)
	case ActionUnmute:
		return m.registry.ApplyMute(targetID, MuteByHost, false)
	case ActionUnmuteAll:
		m.UnmuteAll()
		return nil
	case ActionKick:
		if !m.registry.ApplyKick(targetID) {
			return coreError(ErrCodeStaleReference, ErrStaleReference, "kick for unknown participant "+targetID)
		}
		return nil
	case ActionPromote:
		speaker := true
		return m.registry.ApplyUpdate(targetID, ParticipantPatch{IsSpeaker: &speaker})
	default:
		return coreError(ErrCodeValidation, ErrValidation, "unknown moderation action "+string(action))
	}
}

// UnmuteAll clears every host mute. Self mutes are left alone.
func (m *Moderator) UnmuteAll() {
	for _, id := range m.registry.order {
		m.registry.participants[id].HostMuted = false
	}
}

// SetSelfMuted toggles the self mute of id. It fails with ErrMutedByModerator while host-muted.
func (m *Moderator) SetSelfMuted(id string, muted bool) error {
	return m.registry.ApplyMute(id, MuteBySelf, muted)
}

// CanSelfToggle reports whether id may currently flip its own mute.
func (m *Moderator) CanSelfToggle(id string) error {
	p, ok := m.registry.Get(id)
	if !ok {
		return coreError(ErrCodeStaleReference, ErrStaleReference, "participant "+id+" is not present")
	}
	if p.HostMuted {
		return coreError(ErrCodeMutedByModerator, ErrMutedByModerator, ErrMutedByModerator.Error())
	}
	return nil
}

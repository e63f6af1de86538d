package core

import "time"

// ConnectionStatus is a participant's link state as reported by the relay.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Valid reports whether s is one of the known statuses.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusConnecting, StatusConnected, StatusDisconnected:
		return true
	}
	return false
}

// Participant is a sanctuary member as seen by the local engine.
type Participant struct {
	ID          string `json:"id"`
	Alias       string `json:"alias"`
	AvatarIndex int    `json:"avatar_index"`

	IsHost      bool `json:"is_host"`
	IsModerator bool `json:"is_moderator"`
	IsSpeaker   bool `json:"is_speaker"`

	// IsMuted is set by the participant; HostMuted only by a host or moderator.
	IsMuted   bool `json:"is_muted"`
	HostMuted bool `json:"host_muted"`

	HandRaised       bool             `json:"hand_raised"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	AudioLevel       int              `json:"audio_level"`
	JoinedAt         time.Time        `json:"joined_at"`
}

// EffectiveMuted gates audio transmission.
func (p Participant) EffectiveMuted() bool {
	return p.IsMuted || p.HostMuted
}

// Privileged reports whether p may moderate others.
func (p Participant) Privileged() bool {
	return p.IsHost || p.IsModerator
}

// ParticipantPatch carries the fields of an update event. Nil fields are left untouched.
// Mute flags are not patchable; they go through the mute state machine.
type ParticipantPatch struct {
	Alias            *string
	AvatarIndex      *int
	IsModerator      *bool
	IsSpeaker        *bool
	HandRaised       *bool
	ConnectionStatus *ConnectionStatus
	AudioLevel       *int
}

// Empty reports whether the patch changes nothing.
func (p ParticipantPatch) Empty() bool {
	return p.Alias == nil && p.AvatarIndex == nil && p.IsModerator == nil && p.IsSpeaker == nil &&
		p.HandRaised == nil && p.ConnectionStatus == nil && p.AudioLevel == nil
}

func (p ParticipantPatch) applyTo(dst *Participant) {
	if p.Alias != nil {
		dst.Alias = *p.Alias
	}
	if p.AvatarIndex != nil {
		dst.AvatarIndex = *p.AvatarIndex
	}
	if p.IsModerator != nil {
		dst.IsModerator = *p.IsModerator
	}
	if p.IsSpeaker != nil {
		dst.IsSpeaker = *p.IsSpeaker
	}
	if p.HandRaised != nil {
		dst.HandRaised = *p.HandRaised
	}
	if p.ConnectionStatus != nil {
		dst.ConnectionStatus = *p.ConnectionStatus
	}
	if p.AudioLevel != nil {
		dst.AudioLevel = clampLevel(*p.AudioLevel)
	}
}

func clampLevel(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

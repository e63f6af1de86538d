package core

import (
	"fmt"
	"time"
)

// EventKind tags an inbound event pushed by the relay.
type EventKind int

const (
	// EventParticipantJoined announces a participant in a text sanctuary.
	EventParticipantJoined EventKind = iota
	// EventParticipantLeft announces a departure.
	EventParticipantLeft
	// EventAudioParticipantJoined announces a participant in a live-audio sanctuary.
	EventAudioParticipantJoined
	// EventAudioParticipantLeft announces a departure from a live-audio sanctuary.
	EventAudioParticipantLeft
	// EventParticipantUpdated carries a field patch (alias, status, audio level...).
	EventParticipantUpdated
	// EventHandRaised toggles a raised hand.
	EventHandRaised
	// EventParticipantMuted is a self mute echo.
	EventParticipantMuted
	// EventParticipantUnmuted is a self unmute echo.
	EventParticipantUnmuted
	// EventParticipantKicked removes a participant for good.
	EventParticipantKicked
	// EventParticipantPromoted grants the speaker role.
	EventParticipantPromoted
	// EventForceMuted is a host or moderator mute.
	EventForceMuted
	// EventForceUnmuted is a host or moderator unmute. An empty target means everyone.
	EventForceUnmuted
	// EventNewMessage delivers a chat message.
	EventNewMessage
	// EventHistory delivers a message snapshot after joining or resyncing.
	EventHistory
	// EventEmojiReaction delivers an ephemeral reaction.
	EventEmojiReaction
	// EventEmergencyAlert is surfaced to the view immediately.
	EventEmergencyAlert
	// EventSessionEnded closes the sanctuary for everyone.
	EventSessionEnded
	// EventConnectionChanged is synthesized by the transport when the link state changes.
	EventConnectionChanged
)

var eventKindNames = map[EventKind]string{
	EventParticipantJoined:      "participant_joined",
	EventParticipantLeft:        "participant_left",
	EventAudioParticipantJoined: "audio_participant_joined",
	EventAudioParticipantLeft:   "audio_participant_left",
	EventParticipantUpdated:     "participant_updated",
	EventHandRaised:             "hand_raised",
	EventParticipantMuted:       "participant_muted",
	EventParticipantUnmuted:     "participant_unmuted",
	EventParticipantKicked:      "participant_kicked",
	EventParticipantPromoted:    "participant_promoted",
	EventForceMuted:             "force_muted",
	EventForceUnmuted:           "force_unmuted",
	EventNewMessage:             "new_message",
	EventHistory:                "history",
	EventEmojiReaction:          "emoji_reaction",
	EventEmergencyAlert:         "emergency_alert",
	EventSessionEnded:           "session_ended",
	EventConnectionChanged:      "connection_changed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// ParseEventKind maps a wire name to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range eventKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// AllEventKinds lists every kind a session subscribes to.
func AllEventKinds() []EventKind {
	kinds := make([]EventKind, 0, len(eventKindNames))
	for k := EventParticipantJoined; k <= EventConnectionChanged; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Alert is an emergency notification raised inside a sanctuary.
type Alert struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	From      string    `json:"from,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the validated, tagged-union form of everything the relay pushes.
// Only the payload fields relevant to Kind are set.
type Event struct {
	Kind      EventKind
	SessionID string

	// ParticipantID is the subject of participant and moderation events.
	ParticipantID string
	IssuedBy      string

	Participant *Participant
	Patch       *ParticipantPatch
	Raised      bool
	Message     *ChatMessage
	Messages    []ChatMessage
	Reaction    *Reaction
	Alert       *Alert
	Connection  ConnectionStatus
	Reason      string
}

// Validate checks that the payload required by Kind is present.
func (e Event) Validate() error {
	invalid := func(what string) error {
		return coreError(ErrCodeValidation, ErrValidation, e.Kind.String()+": "+what)
	}

	switch e.Kind {
	case EventParticipantJoined, EventAudioParticipantJoined:
		if e.Participant == nil || e.Participant.ID == "" {
			return invalid("participant with id required")
		}
	case EventParticipantLeft, EventAudioParticipantLeft, EventHandRaised,
		EventParticipantMuted, EventParticipantUnmuted, EventParticipantKicked,
		EventParticipantPromoted, EventForceMuted:
		if e.ParticipantID == "" {
			return invalid("participant id required")
		}
	case EventParticipantUpdated:
		if e.ParticipantID == "" || e.Patch == nil {
			return invalid("participant id and patch required")
		}
		if e.Patch.ConnectionStatus != nil && !e.Patch.ConnectionStatus.Valid() {
			return invalid("unknown connection status")
		}
	case EventForceUnmuted:
		// empty target is unmute-all
	case EventNewMessage:
		if e.Message == nil {
			return invalid("message required")
		}
		if err := validateMessage(*e.Message); err != nil {
			return invalid(err.Error())
		}
	case EventHistory:
		for _, m := range e.Messages {
			if err := validateMessage(m); err != nil {
				return invalid(err.Error())
			}
		}
	case EventEmojiReaction:
		if e.Reaction == nil || e.Reaction.Emoji == "" {
			return invalid("emoji required")
		}
	case EventEmergencyAlert:
		if e.Alert == nil || e.Alert.Message == "" {
			return invalid("alert message required")
		}
	case EventSessionEnded:
	case EventConnectionChanged:
		if !e.Connection.Valid() {
			return invalid("unknown connection status")
		}
	default:
		return invalid("unknown kind")
	}
	return nil
}

func validateMessage(m ChatMessage) error {
	if m.ID == "" {
		return fmt.Errorf("message id required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("message %s has unknown type %q", m.ID, m.Type)
	}
	if m.Type == MessageMedia && m.Attachment == nil {
		return fmt.Errorf("media message %s has no attachment", m.ID)
	}
	return nil
}

package core

// CommandKind describes what the local participant wants the relay to do.
type CommandKind int

const (
	// CommandSendMessage posts a chat message.
	CommandSendMessage CommandKind = iota
	// CommandEmojiReaction emits an ephemeral reaction.
	CommandEmojiReaction
	// CommandToggleHand raises or lowers the local hand.
	CommandToggleHand
	// CommandSelfMute flips the local self-mute flag.
	CommandSelfMute
	// CommandPromote promotes a participant to speaker.
	CommandPromote
	// CommandMute host-mutes a participant.
	CommandMute
	// CommandUnmute clears a host mute.
	CommandUnmute
	// CommandUnmuteAll clears every host mute.
	CommandUnmuteAll
	// CommandKick removes a participant.
	CommandKick
	// CommandEmergencyAlert raises an alert for everyone in the sanctuary.
	CommandEmergencyAlert
	// CommandLeave leaves the sanctuary.
	CommandLeave
	// CommandResync asks the relay for a fresh participant and history snapshot.
	CommandResync
)

var commandKindNames = map[CommandKind]string{
	CommandSendMessage:    "send_message",
	CommandEmojiReaction:  "emoji_reaction",
	CommandToggleHand:     "toggle_hand",
	CommandSelfMute:       "self_mute",
	CommandPromote:        "promote",
	CommandMute:           "mute",
	CommandUnmute:         "unmute",
	CommandUnmuteAll:      "unmute_all",
	CommandKick:           "kick",
	CommandEmergencyAlert: "emergency_alert",
	CommandLeave:          "leave",
	CommandResync:         "resync",
}

func (k CommandKind) String() string {
	if name, ok := commandKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Action maps moderation commands to their action. ok is false for other commands.
func (k CommandKind) Action() (ModerationAction, bool) {
	switch k {
	case CommandPromote:
		return ActionPromote, true
	case CommandMute:
		return ActionMute, true
	case CommandUnmute:
		return ActionUnmute, true
	case CommandUnmuteAll:
		return ActionUnmuteAll, true
	case CommandKick:
		return ActionKick, true
	}
	return "", false
}

// Command represents an outbound request.
type Command struct {
	Kind      CommandKind
	SessionID string
	TargetID  string
	Message   *ChatMessage
	Reaction  *Reaction
	Raised    bool
	Muted     bool
	Alert     *Alert
}

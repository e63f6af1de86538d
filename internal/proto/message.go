package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello          = "hello"
	InboundTypeSendMessage    = "send_message"
	InboundTypeEmojiReaction  = "emoji_reaction"
	InboundTypeToggleHand     = "toggle_hand"
	InboundTypeSelfMute       = "self_mute"
	InboundTypePromote        = "promote"
	InboundTypeMute           = "mute"
	InboundTypeUnmute         = "unmute"
	InboundTypeUnmuteAll      = "unmute_all"
	InboundTypeKick           = "kick"
	InboundTypeEmergencyAlert = "emergency_alert"
	InboundTypeLeave          = "leave"
	InboundTypeResync         = "resync"

	OutboundTypeWelcome = "welcome"
	OutboundTypeEvent   = "event"
	OutboundTypeError   = "error"
)

// HelloData is sent by the client to enter a sanctuary.
// A returning client repeats its ParticipantID so the relay keeps its identity.
type HelloData struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	Alias         string `json:"alias"`
	AvatarIndex   int    `json:"avatar_index"`
	HostToken     string `json:"host_token,omitempty"`
	Audio         bool   `json:"audio,omitempty"`
	Protocol      int    `json:"protocol,omitempty"`
	ResumeToken   string `json:"resume_token,omitempty"`
}

// WelcomeData acknowledges a hello. ResumeToken must accompany ParticipantID on reconnect.
type WelcomeData struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	IsHost        bool   `json:"is_host"`
	Protocol      int    `json:"protocol"`
	ResumeToken   string `json:"resume_token"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Frame is Outbound as seen by a client: the payload stays raw until the event name is known.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// ParticipantData describes a participant on the wire.
type ParticipantData struct {
	ID               string `json:"id"`
	Alias            string `json:"alias"`
	AvatarIndex      int    `json:"avatar_index"`
	IsHost           bool   `json:"is_host,omitempty"`
	IsModerator      bool   `json:"is_moderator,omitempty"`
	IsSpeaker        bool   `json:"is_speaker,omitempty"`
	IsMuted          bool   `json:"is_muted,omitempty"`
	HostMuted        bool   `json:"host_muted,omitempty"`
	HandRaised       bool   `json:"hand_raised,omitempty"`
	ConnectionStatus string `json:"connection_status,omitempty"`
	AudioLevel       int    `json:"audio_level,omitempty"`
	JoinedAt         int64  `json:"joined_at"`
}

// ParticipantPatchData carries the changed fields of participant_updated.
type ParticipantPatchData struct {
	ParticipantID    string  `json:"participant_id"`
	Alias            *string `json:"alias,omitempty"`
	AvatarIndex      *int    `json:"avatar_index,omitempty"`
	IsModerator      *bool   `json:"is_moderator,omitempty"`
	IsSpeaker        *bool   `json:"is_speaker,omitempty"`
	HandRaised       *bool   `json:"hand_raised,omitempty"`
	ConnectionStatus *string `json:"connection_status,omitempty"`
	AudioLevel       *int    `json:"audio_level,omitempty"`
}

// TargetData names the subject of a participant or moderation event or command.
// An empty ParticipantID on force_unmuted means everyone.
type TargetData struct {
	ParticipantID string `json:"participant_id,omitempty"`
	IssuedBy      string `json:"issued_by,omitempty"`
}

// HandData is hand_raised and the toggle_hand command.
type HandData struct {
	ParticipantID string `json:"participant_id,omitempty"`
	Raised        bool   `json:"raised"`
}

// MuteData is the self_mute command.
type MuteData struct {
	Muted bool `json:"muted"`
}

// AttachmentData describes uploaded media.
type AttachmentData struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ReplyData is the embedded snapshot of a replied-to message.
type ReplyData struct {
	Content     string `json:"content"`
	SenderAlias string `json:"sender_alias"`
	TS          int64  `json:"ts"`
}

// MessageData is a chat message. TS is unix milliseconds.
type MessageData struct {
	ID                string          `json:"id"`
	SenderAlias       string          `json:"sender_alias"`
	SenderAvatarIndex int             `json:"sender_avatar_index"`
	Content           string          `json:"content"`
	TS                int64           `json:"ts"`
	Type              string          `json:"type"`
	Attachment        *AttachmentData `json:"attachment,omitempty"`
	ReplyTo           string          `json:"reply_to,omitempty"`
	ReplyToMessage    *ReplyData      `json:"reply_to_message,omitempty"`
}

// HistoryData is the message snapshot sent after a hello or resync.
type HistoryData struct {
	Messages []MessageData `json:"messages"`
}

// ReactionData is an emoji reaction.
type ReactionData struct {
	ID            string `json:"id"`
	Emoji         string `json:"emoji"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// AlertData is an emergency alert.
type AlertData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	From    string `json:"from,omitempty"`
	TS      int64  `json:"ts"`
}

// SessionEndedData closes the sanctuary.
type SessionEndedData struct {
	Reason string `json:"reason,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

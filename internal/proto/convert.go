package proto

import (
	"time"

	"github.com/vovakirdan/sanctuary/internal/core"
)

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// FromParticipant converts a participant to its wire form.
func FromParticipant(p core.Participant) ParticipantData {
	return ParticipantData{
		ID:               p.ID,
		Alias:            p.Alias,
		AvatarIndex:      p.AvatarIndex,
		IsHost:           p.IsHost,
		IsModerator:      p.IsModerator,
		IsSpeaker:        p.IsSpeaker,
		IsMuted:          p.IsMuted,
		HostMuted:        p.HostMuted,
		HandRaised:       p.HandRaised,
		ConnectionStatus: string(p.ConnectionStatus),
		AudioLevel:       p.AudioLevel,
		JoinedAt:         millis(p.JoinedAt),
	}
}

// Participant converts the wire form back.
func (d ParticipantData) Participant() core.Participant {
	return core.Participant{
		ID:               d.ID,
		Alias:            d.Alias,
		AvatarIndex:      d.AvatarIndex,
		IsHost:           d.IsHost,
		IsModerator:      d.IsModerator,
		IsSpeaker:        d.IsSpeaker,
		IsMuted:          d.IsMuted,
		HostMuted:        d.HostMuted,
		HandRaised:       d.HandRaised,
		ConnectionStatus: core.ConnectionStatus(d.ConnectionStatus),
		AudioLevel:       d.AudioLevel,
		JoinedAt:         fromMillis(d.JoinedAt),
	}
}

// Patch converts the wire patch to the engine form.
func (d ParticipantPatchData) Patch() core.ParticipantPatch {
	patch := core.ParticipantPatch{
		Alias:       d.Alias,
		AvatarIndex: d.AvatarIndex,
		IsModerator: d.IsModerator,
		IsSpeaker:   d.IsSpeaker,
		HandRaised:  d.HandRaised,
		AudioLevel:  d.AudioLevel,
	}
	if d.ConnectionStatus != nil {
		status := core.ConnectionStatus(*d.ConnectionStatus)
		patch.ConnectionStatus = &status
	}
	return patch
}

// FromPatch converts an engine patch to the wire form.
func FromPatch(id string, p core.ParticipantPatch) ParticipantPatchData {
	d := ParticipantPatchData{
		ParticipantID: id,
		Alias:         p.Alias,
		AvatarIndex:   p.AvatarIndex,
		IsModerator:   p.IsModerator,
		IsSpeaker:     p.IsSpeaker,
		HandRaised:    p.HandRaised,
		AudioLevel:    p.AudioLevel,
	}
	if p.ConnectionStatus != nil {
		status := string(*p.ConnectionStatus)
		d.ConnectionStatus = &status
	}
	return d
}

// FromMessage converts a chat message to its wire form.
func FromMessage(m core.ChatMessage) MessageData {
	d := MessageData{
		ID:                m.ID,
		SenderAlias:       m.SenderAlias,
		SenderAvatarIndex: m.SenderAvatarIndex,
		Content:           m.Content,
		TS:                millis(m.Timestamp),
		Type:              string(m.Type),
		ReplyTo:           m.ReplyTo,
	}
	if a := m.Attachment; a != nil {
		d.Attachment = &AttachmentData{URL: a.URL, Name: a.Name, MimeType: a.MimeType, Size: a.Size}
	}
	if r := m.ReplyToMessage; r != nil {
		d.ReplyToMessage = &ReplyData{Content: r.Content, SenderAlias: r.SenderAlias, TS: millis(r.Timestamp)}
	}
	return d
}

// Message converts the wire form back.
func (d MessageData) Message() core.ChatMessage {
	m := core.ChatMessage{
		ID:                d.ID,
		SenderAlias:       d.SenderAlias,
		SenderAvatarIndex: d.SenderAvatarIndex,
		Content:           d.Content,
		Timestamp:         fromMillis(d.TS),
		Type:              core.MessageType(d.Type),
		ReplyTo:           d.ReplyTo,
	}
	if a := d.Attachment; a != nil {
		m.Attachment = &core.Attachment{URL: a.URL, Name: a.Name, MimeType: a.MimeType, Size: a.Size}
	}
	if r := d.ReplyToMessage; r != nil {
		m.ReplyToMessage = &core.ReplySnapshot{Content: r.Content, SenderAlias: r.SenderAlias, Timestamp: fromMillis(r.TS)}
	}
	return m
}

// FromMessages converts a message list.
func FromMessages(msgs []core.ChatMessage) []MessageData {
	out := make([]MessageData, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FromMessage(m))
	}
	return out
}

// ChatMessages converts a history payload.
func (h HistoryData) ChatMessages() []core.ChatMessage {
	out := make([]core.ChatMessage, 0, len(h.Messages))
	for _, m := range h.Messages {
		out = append(out, m.Message())
	}
	return out
}

// FromReaction converts a reaction to its wire form.
func FromReaction(r core.Reaction) ReactionData {
	return ReactionData{ID: r.ID, Emoji: r.Emoji, ParticipantID: r.ParticipantID}
}

// Reaction converts the wire form back.
func (d ReactionData) Reaction() core.Reaction {
	return core.Reaction{ID: d.ID, Emoji: d.Emoji, ParticipantID: d.ParticipantID}
}

// FromAlert converts an alert to its wire form.
func FromAlert(a core.Alert) AlertData {
	return AlertData{Kind: a.Kind, Message: a.Message, From: a.From, TS: millis(a.Timestamp)}
}

// Alert converts the wire form back.
func (d AlertData) Alert() core.Alert {
	return core.Alert{Kind: d.Kind, Message: d.Message, From: d.From, Timestamp: fromMillis(d.TS)}
}

package stream

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
)

// Decode validates a relay event frame into the engine's tagged event.
// Unknown names, undecodable payloads and missing required fields wrap core.ErrValidation.
func Decode(frame proto.Frame) (core.Event, error) {
	kind, ok := core.ParseEventKind(frame.Event)
	if !ok || kind == core.EventConnectionChanged {
		return core.Event{}, fmt.Errorf("%w: unknown event %q", core.ErrValidation, frame.Event)
	}

	ev := core.Event{Kind: kind}
	var err error
	switch kind {
	case core.EventParticipantJoined, core.EventAudioParticipantJoined:
		var d proto.ParticipantData
		if err = unmarshal(frame, &d); err == nil {
			p := d.Participant()
			ev.Participant = &p
			ev.ParticipantID = p.ID
		}
	case core.EventParticipantLeft, core.EventAudioParticipantLeft,
		core.EventParticipantMuted, core.EventParticipantUnmuted,
		core.EventParticipantKicked, core.EventParticipantPromoted,
		core.EventForceMuted, core.EventForceUnmuted:
		var d proto.TargetData
		if err = unmarshal(frame, &d); err == nil {
			ev.ParticipantID = d.ParticipantID
			ev.IssuedBy = d.IssuedBy
		}
	case core.EventParticipantUpdated:
		var d proto.ParticipantPatchData
		if err = unmarshal(frame, &d); err == nil {
			patch := d.Patch()
			ev.ParticipantID = d.ParticipantID
			ev.Patch = &patch
		}
	case core.EventHandRaised:
		var d proto.HandData
		if err = unmarshal(frame, &d); err == nil {
			ev.ParticipantID = d.ParticipantID
			ev.Raised = d.Raised
		}
	case core.EventNewMessage:
		var d proto.MessageData
		if err = unmarshal(frame, &d); err == nil {
			m := d.Message()
			ev.Message = &m
		}
	case core.EventHistory:
		var d proto.HistoryData
		if err = unmarshal(frame, &d); err == nil {
			ev.Messages = d.ChatMessages()
		}
	case core.EventEmojiReaction:
		var d proto.ReactionData
		if err = unmarshal(frame, &d); err == nil {
			r := d.Reaction()
			ev.Reaction = &r
			ev.ParticipantID = r.ParticipantID
		}
	case core.EventEmergencyAlert:
		var d proto.AlertData
		if err = unmarshal(frame, &d); err == nil {
			a := d.Alert()
			ev.Alert = &a
		}
	case core.EventSessionEnded:
		var d proto.SessionEndedData
		if err = unmarshal(frame, &d); err == nil {
			ev.Reason = d.Reason
		}
	}
	if err != nil {
		return core.Event{}, err
	}
	if err := ev.Validate(); err != nil {
		return core.Event{}, err
	}
	return ev, nil
}

func unmarshal(frame proto.Frame, v any) error {
	if len(frame.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrValidation, frame.Event, err)
	}
	return nil
}

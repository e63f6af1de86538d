package relay

import (
	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
)

// eventFrame maps an engine event to the envelope a stream client decodes.
func eventFrame(ev core.Event) proto.Outbound {
	out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: ev.Kind.String()}
	switch ev.Kind {
	case core.EventParticipantJoined, core.EventAudioParticipantJoined:
		out.Data = proto.FromParticipant(*ev.Participant)
	case core.EventParticipantUpdated:
		out.Data = proto.FromPatch(ev.ParticipantID, *ev.Patch)
	case core.EventHandRaised:
		out.Data = proto.HandData{ParticipantID: ev.ParticipantID, Raised: ev.Raised}
	case core.EventNewMessage:
		out.Data = proto.FromMessage(*ev.Message)
	case core.EventHistory:
		out.Data = proto.HistoryData{Messages: proto.FromMessages(ev.Messages)}
	case core.EventEmojiReaction:
		out.Data = proto.FromReaction(*ev.Reaction)
	case core.EventEmergencyAlert:
		out.Data = proto.FromAlert(*ev.Alert)
	case core.EventSessionEnded:
		out.Data = proto.SessionEndedData{Reason: ev.Reason}
	default:
		out.Data = proto.TargetData{ParticipantID: ev.ParticipantID, IssuedBy: ev.IssuedBy}
	}
	return out
}

func errorFrame(code, msg string) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: code, Msg: msg}}
}

// errorFrameFor reports an engine error, falling back to a generic code.
func errorFrameFor(err error) proto.Outbound {
	code := core.CodeOf(err)
	if code == "" {
		code = "internal_error"
	}
	return errorFrame(code, err.Error())
}

package http

import (
	"encoding/json"

	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
)

const (
	errCodeBadRequest     = "bad_request"
	errCodeInvalidMessage = "invalid_message"
	errCodeAlreadyJoined  = "already_joined"
)

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: errCodeBadRequest, Msg: msg}
}

// inboundToCommand maps a client frame to a hub command. A protocol error is answered
// to the client; err means the payload could not be decoded.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeSendMessage:
		var d proto.MessageData
		if err := decode(inbound, &d); err != nil {
			return nil, nil, err
		}
		msg := d.Message()
		return &core.Command{Kind: core.CommandSendMessage, Message: &msg}, nil, nil
	case proto.InboundTypeEmojiReaction:
		var d proto.ReactionData
		if err := decode(inbound, &d); err != nil {
			return nil, nil, err
		}
		if d.Emoji == "" {
			return nil, badRequest("emoji is required"), nil
		}
		r := d.Reaction()
		return &core.Command{Kind: core.CommandEmojiReaction, Reaction: &r}, nil, nil
	case proto.InboundTypeToggleHand:
		var d proto.HandData
		if err := decode(inbound, &d); err != nil {
			return nil, nil, err
		}
		return &core.Command{Kind: core.CommandToggleHand, Raised: d.Raised}, nil, nil
	case proto.InboundTypeSelfMute:
		var d proto.MuteData
		if err := decode(inbound, &d); err != nil {
			return nil, nil, err
		}
		return &core.Command{Kind: core.CommandSelfMute, Muted: d.Muted}, nil, nil
	case proto.InboundTypePromote, proto.InboundTypeMute, proto.InboundTypeUnmute, proto.InboundTypeKick:
		var d proto.TargetData
		if err := decode(inbound, &d); err != nil {
			return nil, nil, err
		}
		if d.ParticipantID == "" {
			return nil, badRequest("participant_id is required"), nil
		}
		return &core.Command{Kind: moderationKinds[inbound.Type], TargetID: d.ParticipantID}, nil, nil
	case proto.InboundTypeUnmuteAll:
		return &core.Command{Kind: core.CommandUnmuteAll}, nil, nil
	case proto.InboundTypeEmergencyAlert:
		var d proto.AlertData
		if err := decode(inbound, &d); err != nil {
			return nil, nil, err
		}
		if d.Message == "" {
			return nil, badRequest("message is required"), nil
		}
		a := d.Alert()
		return &core.Command{Kind: core.CommandEmergencyAlert, Alert: &a}, nil, nil
	case proto.InboundTypeLeave:
		return &core.Command{Kind: core.CommandLeave}, nil, nil
	case proto.InboundTypeResync:
		return &core.Command{Kind: core.CommandResync}, nil, nil
	case proto.InboundTypeHello:
		return nil, &proto.Error{Code: errCodeAlreadyJoined, Msg: "hello already received"}, nil
	default:
		return nil, &proto.Error{Code: errCodeInvalidMessage, Msg: "unknown message type"}, nil
	}
}

var moderationKinds = map[string]core.CommandKind{
	proto.InboundTypePromote: core.CommandPromote,
	proto.InboundTypeMute:    core.CommandMute,
	proto.InboundTypeUnmute:  core.CommandUnmute,
	proto.InboundTypeKick:    core.CommandKick,
}

func decode(inbound proto.Inbound, v any) error {
	if len(inbound.Data) == 0 {
		return nil
	}
	return json.Unmarshal(inbound.Data, v)
}

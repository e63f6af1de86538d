package stream

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
)

// Encode maps an engine command to the relay envelope.
func Encode(cmd core.Command) (proto.Inbound, error) {
	var (
		typ  string
		data any
	)
	switch cmd.Kind {
	case core.CommandSendMessage:
		if cmd.Message == nil {
			return proto.Inbound{}, fmt.Errorf("%w: send_message without message", core.ErrValidation)
		}
		typ, data = proto.InboundTypeSendMessage, proto.FromMessage(*cmd.Message)
	case core.CommandEmojiReaction:
		if cmd.Reaction == nil {
			return proto.Inbound{}, fmt.Errorf("%w: emoji_reaction without reaction", core.ErrValidation)
		}
		typ, data = proto.InboundTypeEmojiReaction, proto.FromReaction(*cmd.Reaction)
	case core.CommandToggleHand:
		typ, data = proto.InboundTypeToggleHand, proto.HandData{Raised: cmd.Raised}
	case core.CommandSelfMute:
		typ, data = proto.InboundTypeSelfMute, proto.MuteData{Muted: cmd.Muted}
	case core.CommandPromote:
		typ, data = proto.InboundTypePromote, proto.TargetData{ParticipantID: cmd.TargetID}
	case core.CommandMute:
		typ, data = proto.InboundTypeMute, proto.TargetData{ParticipantID: cmd.TargetID}
	case core.CommandUnmute:
		typ, data = proto.InboundTypeUnmute, proto.TargetData{ParticipantID: cmd.TargetID}
	case core.CommandUnmuteAll:
		typ = proto.InboundTypeUnmuteAll
	case core.CommandKick:
		typ, data = proto.InboundTypeKick, proto.TargetData{ParticipantID: cmd.TargetID}
	case core.CommandEmergencyAlert:
		if cmd.Alert == nil {
			return proto.Inbound{}, fmt.Errorf("%w: emergency_alert without alert", core.ErrValidation)
		}
		typ, data = proto.InboundTypeEmergencyAlert, proto.FromAlert(*cmd.Alert)
	case core.CommandLeave:
		typ = proto.InboundTypeLeave
	case core.CommandResync:
		typ = proto.InboundTypeResync
	default:
		return proto.Inbound{}, fmt.Errorf("%w: unknown command %d", core.ErrValidation, cmd.Kind)
	}

	inbound := proto.Inbound{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return proto.Inbound{}, fmt.Errorf("marshal %s: %w", typ, err)
		}
		inbound.Data = raw
	}
	return inbound, nil
}

package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/sanctuary/internal/config"
	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	tr := startTestRelay(t, nil, nil)

	resp, err := http.Get(tr.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, body)
	}
}

func TestHelloRequired(t *testing.T) {
	tr := startTestRelay(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, tr.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	send(t, ctx, conn, proto.InboundTypeResync, nil)

	frame := readFrame(t, ctx, conn)
	if frame.Type != proto.OutboundTypeError || frame.Error.Code != errCodeHelloRequired {
		t.Fatalf("expected hello_required, got %+v", frame)
	}
	if status := readClose(t, ctx, conn); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", status)
	}
}

func TestHelloUnknownSanctuary(t *testing.T) {
	tr := startTestRelay(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := tr.dial(t, ctx, proto.HelloData{SessionID: "missing", Alias: "river"})

	frame := readFrame(t, ctx, conn)
	if frame.Type != proto.OutboundTypeError || frame.Error.Code != errCodeNotFound {
		t.Fatalf("expected not_found, got %+v", frame)
	}
	if status := readClose(t, ctx, conn); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", status)
	}
}

func TestWelcomeSnapshotAndMessages(t *testing.T) {
	tr := startTestRelay(t, nil, nil)
	created := tr.create(t, "text")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host, hostWelcome := tr.join(t, ctx, proto.HelloData{
		SessionID: created.Sanctuary.ID,
		Alias:     "willow",
		HostToken: created.HostToken,
		Protocol:  proto.ProtocolVersion,
	})
	if !hostWelcome.IsHost || hostWelcome.ParticipantID == "" {
		t.Fatalf("unexpected host welcome: %+v", hostWelcome)
	}
	readEvent(t, ctx, host, core.EventHistory.String())

	guest, guestWelcome := tr.join(t, ctx, proto.HelloData{
		SessionID:     created.Sanctuary.ID,
		ParticipantID: "guest-1",
		Alias:         "river",
		AvatarIndex:   3,
	})
	if guestWelcome.IsHost || guestWelcome.ParticipantID != "guest-1" {
		t.Fatalf("unexpected guest welcome: %+v", guestWelcome)
	}
	if guestWelcome.Protocol != proto.ProtocolVersion {
		t.Fatalf("expected protocol %d, got %d", proto.ProtocolVersion, guestWelcome.Protocol)
	}

	// The guest's snapshot names both participants before the history.
	seen := map[string]bool{}
	for {
		frame := readFrame(t, ctx, guest)
		if frame.Event == core.EventHistory.String() {
			break
		}
		if frame.Event != core.EventParticipantJoined.String() {
			t.Fatalf("unexpected snapshot frame %+v", frame)
		}
		var p proto.ParticipantData
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			t.Fatalf("decode participant: %v", err)
		}
		seen[p.ID] = true
	}
	if !seen[hostWelcome.ParticipantID] || !seen["guest-1"] {
		t.Fatalf("snapshot missing participants: %v", seen)
	}

	joined := readEvent(t, ctx, host, core.EventParticipantJoined.String())
	var p proto.ParticipantData
	if err := json.Unmarshal(joined.Data, &p); err != nil {
		t.Fatalf("decode participant: %v", err)
	}
	if p.ID != "guest-1" || p.Alias != "river" || p.AvatarIndex != 3 {
		t.Fatalf("unexpected joined participant: %+v", p)
	}

	send(t, ctx, guest, proto.InboundTypeSendMessage, proto.MessageData{ID: "m-1", Content: "  hello  "})

	for _, conn := range []*websocket.Conn{host, guest} {
		frame := readEvent(t, ctx, conn, core.EventNewMessage.String())
		var msg proto.MessageData
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.ID != "m-1" || msg.Content != "hello" || msg.SenderAlias != "river" || msg.Type != "text" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	}

	// A late joiner gets the message in its history.
	late, _ := tr.join(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, Alias: "fern"})
	frame := readEvent(t, ctx, late, core.EventHistory.String())
	var history proto.HistoryData
	if err := json.Unmarshal(frame.Data, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Messages) != 1 || history.Messages[0].ID != "m-1" {
		t.Fatalf("unexpected history: %+v", history.Messages)
	}
}

func TestInvalidCommandsAnswerWithErrors(t *testing.T) {
	tr := startTestRelay(t, nil, nil)
	created := tr.create(t, "text")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := tr.join(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, Alias: "river"})

	tests := []struct {
		name string
		in   proto.Inbound
		code string
	}{
		{"unknown type", proto.Inbound{Type: "dance"}, errCodeInvalidMessage},
		{"second hello", proto.Inbound{Type: proto.InboundTypeHello}, errCodeAlreadyJoined},
		{"malformed payload", proto.Inbound{Type: proto.InboundTypeSendMessage, Data: json.RawMessage(`"nope"`)}, errCodeBadRequest},
		{"missing target", proto.Inbound{Type: proto.InboundTypeKick, Data: json.RawMessage(`{}`)}, errCodeBadRequest},
		{"guest moderation", proto.Inbound{Type: proto.InboundTypeMute, Data: json.RawMessage(`{"participant_id":"someone"}`)}, core.ErrCodeNotAuthorized},
		{"empty message", proto.Inbound{Type: proto.InboundTypeSendMessage, Data: json.RawMessage(`{"id":"m-1","content":"  "}`)}, core.ErrCodeValidation},
	}
	for _, tt := range tests {
		if err := wsjson.Write(ctx, conn, tt.in); err != nil {
			t.Fatalf("%s: write: %v", tt.name, err)
		}
		if got := readError(t, ctx, conn); got == nil || got.Code != tt.code {
			t.Fatalf("%s: expected %s, got %+v", tt.name, tt.code, got)
		}
	}
}

func TestKickClosesWithPolicyViolation(t *testing.T) {
	tr := startTestRelay(t, nil, nil)
	created := tr.create(t, "text")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host, _ := tr.join(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, Alias: "willow", HostToken: created.HostToken})
	guest, _ := tr.join(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, ParticipantID: "guest-1", Alias: "river"})
	readEvent(t, ctx, host, core.EventParticipantJoined.String())

	send(t, ctx, host, proto.InboundTypeKick, proto.TargetData{ParticipantID: "guest-1"})

	kicked := readEvent(t, ctx, guest, core.EventParticipantKicked.String())
	var target proto.TargetData
	if err := json.Unmarshal(kicked.Data, &target); err != nil {
		t.Fatalf("decode target: %v", err)
	}
	if target.ParticipantID != "guest-1" {
		t.Fatalf("unexpected kick target: %+v", target)
	}
	if status := readClose(t, ctx, guest); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", status)
	}

	// Coming back under the same identity is refused.
	again := tr.dial(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, ParticipantID: "guest-1", Alias: "river"})
	frame := readFrame(t, ctx, again)
	if frame.Type != proto.OutboundTypeError || frame.Error.Code != core.ErrCodeParticipantKicked {
		t.Fatalf("expected participant_kicked, got %+v", frame)
	}
	if status := readClose(t, ctx, again); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", status)
	}
}

func TestReconnectReplacesOldSocket(t *testing.T) {
	tr := startTestRelay(t, nil, nil)
	created := tr.create(t, "text")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, firstWelcome := tr.join(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, ParticipantID: "guest-1", Alias: "river"})
	readEvent(t, ctx, first, core.EventHistory.String())
	if firstWelcome.ResumeToken == "" {
		t.Fatalf("expected a resume token in the welcome")
	}

	second, welcome := tr.join(t, ctx, proto.HelloData{
		SessionID:     created.Sanctuary.ID,
		ParticipantID: "guest-1",
		ResumeToken:   firstWelcome.ResumeToken,
		Alias:         "river",
	})
	if welcome.ParticipantID != "guest-1" {
		t.Fatalf("expected identity to be kept, got %q", welcome.ParticipantID)
	}
	if status := readClose(t, ctx, first); status != websocket.StatusGoingAway {
		t.Fatalf("expected going away close for the replaced socket, got %v", status)
	}

	send(t, ctx, second, proto.InboundTypeResync, nil)
	readEvent(t, ctx, second, core.EventHistory.String())
}

func TestHelloCannotTakeOverHost(t *testing.T) {
	tr := startTestRelay(t, nil, nil)
	created := tr.create(t, "text")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host, _ := tr.join(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, ParticipantID: "host-1", Alias: "willow", HostToken: created.HostToken})
	guest, _ := tr.join(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, ParticipantID: "guest-1", Alias: "river"})
	readEvent(t, ctx, host, core.EventParticipantJoined.String())

	imposter := tr.dial(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, ParticipantID: "host-1", Alias: "willow"})
	if got := readError(t, ctx, imposter); got.Code != errCodeIdentityTaken {
		t.Fatalf("expected identity_taken, got %+v", got)
	}
	if status := readClose(t, ctx, imposter); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", status)
	}

	// The real host is still connected and still in charge.
	send(t, ctx, host, proto.InboundTypeKick, proto.TargetData{ParticipantID: "guest-1"})
	if status := readClose(t, ctx, guest); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected the guest to be kicked, got %v", status)
	}
}

func TestRateLimitedCommands(t *testing.T) {
	tr := startTestRelay(t, nil, func(cfg *config.RelayConfig) {
		cfg.CommandsPerMinute = 6
	})
	created := tr.create(t, "text")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := tr.join(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, Alias: "river"})

	send(t, ctx, conn, proto.InboundTypeResync, nil)
	send(t, ctx, conn, proto.InboundTypeResync, nil)

	if got := readError(t, ctx, conn); got.Code != errCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", got)
	}
}

func TestEndedSanctuaryRejectsHello(t *testing.T) {
	tr := startTestRelay(t, nil, nil)
	created := tr.create(t, "text")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr.clock.Add(2 * time.Hour)

	conn := tr.dial(t, ctx, proto.HelloData{SessionID: created.Sanctuary.ID, Alias: "river"})
	frame := readFrame(t, ctx, conn)
	if frame.Event != core.EventSessionEnded.String() {
		t.Fatalf("expected session_ended, got %+v", frame)
	}
	if status := readClose(t, ctx, conn); status != websocket.StatusNormalClosure {
		t.Fatalf("expected normal close, got %v", status)
	}
}

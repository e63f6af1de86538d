package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestSessionJoinLeave(t *testing.T) {
	s := startSession(t, participant("me"))

	s.transport.emit(joinEvent(participant("alice")))
	s.transport.emit(joinEvent(participant("bob")))
	s.transport.emit(Event{Kind: EventParticipantLeft, ParticipantID: "alice"})

	waitFor(t, "alice to leave", func() bool {
		v := s.view(t)
		return len(v.Participants) == 2 && v.Participants[1].ID == "bob"
	})
}

func TestSessionAudioEventsShareRegistry(t *testing.T) {
	s := startSession(t, participant("me"))

	p := participant("speaker")
	s.transport.emit(Event{Kind: EventAudioParticipantJoined, ParticipantID: p.ID, Participant: &p})
	s.transport.emit(joinEvent(p))
	waitFor(t, "speaker", func() bool { return len(s.view(t).Participants) == 2 })

	s.transport.emit(Event{Kind: EventAudioParticipantLeft, ParticipantID: p.ID})
	waitFor(t, "speaker to leave", func() bool { return len(s.view(t).Participants) == 1 })
}

func TestSessionEchoIsDeduplicated(t *testing.T) {
	s := startSession(t, participant("me"))
	ctx := context.Background()

	msg, err := s.SendMessage(ctx, "hello", MessageText, nil, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	cmds := s.transport.sentCommands()
	if len(cmds) != 1 || cmds[0].Kind != CommandSendMessage || cmds[0].Message.ID != msg.ID {
		t.Fatalf("unexpected commands %+v", cmds)
	}

	echo := msg
	s.transport.emit(Event{Kind: EventNewMessage, Message: &echo})
	s.transport.emit(Event{Kind: EventNewMessage, Message: &echo})
	other := textMessage("m2", "from alice")
	s.transport.emit(Event{Kind: EventNewMessage, Message: &other})

	waitFor(t, "second message", func() bool { return len(s.view(t).Messages) == 2 })
	if got := s.view(t).Messages[0].ID; got != msg.ID {
		t.Fatalf("expected own message first, got %q", got)
	}
}

func TestSessionReplyCarriesSnapshot(t *testing.T) {
	s := startSession(t, participant("me"))
	ctx := context.Background()

	orig := textMessage("orig", "the question")
	s.transport.emit(Event{Kind: EventNewMessage, Message: &orig})
	waitFor(t, "original", func() bool { return len(s.view(t).Messages) == 1 })

	reply, err := s.SendMessage(ctx, "the answer", MessageText, nil, "orig")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.ReplyToMessage == nil || reply.ReplyToMessage.Content != "the question" {
		t.Fatalf("reply should embed the original: %+v", reply.ReplyToMessage)
	}
	rc, err := s.ResolveReply(ctx, reply)
	if err != nil || rc.Source != ReplyFromLedger {
		t.Fatalf("resolve: %+v %v", rc, err)
	}
}

func TestSessionRejectsInvalidMessage(t *testing.T) {
	s := startSession(t, participant("me"))

	_, err := s.SendMessage(context.Background(), "", MessageMedia, nil, "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(s.transport.sentCommands()) != 0 {
		t.Fatalf("invalid message must not be sent")
	}

	s.transport.emit(Event{Kind: EventNewMessage, Message: &ChatMessage{ID: "bad", Type: "gif"}})
	good := textMessage("good", "ok")
	s.transport.emit(Event{Kind: EventNewMessage, Message: &good})
	waitFor(t, "valid message", func() bool { return len(s.view(t).Messages) == 1 })
	if s.view(t).Messages[0].ID != "good" {
		t.Fatalf("malformed event should be dropped")
	}
}

func TestSessionMutePrecedence(t *testing.T) {
	bob := participant("bob")
	s := startSession(t, bob)
	ctx := context.Background()

	s.transport.emit(Event{Kind: EventForceMuted, ParticipantID: "bob", IssuedBy: "host"})
	waitFor(t, "host mute", func() bool { return s.view(t).Self.HostMuted })

	err := s.SetSelfMuted(ctx, false)
	if !errors.Is(err, ErrMutedByModerator) {
		t.Fatalf("expected ErrMutedByModerator, got %v", err)
	}
	mustNotice(t, s.Notices(), NoticeMuteRejected)
	if len(s.transport.sentCommands()) != 0 {
		t.Fatalf("rejected toggle must not reach the transport")
	}

	// A self-unmute echo records the self state but leaves the host mute in place.
	s.transport.emit(Event{Kind: EventParticipantUnmuted, ParticipantID: "bob"})
	if !s.view(t).Self.EffectiveMuted() {
		t.Fatalf("bob must stay muted until a host unmute")
	}

	s.transport.emit(Event{Kind: EventForceUnmuted, ParticipantID: "bob"})
	waitFor(t, "host unmute", func() bool { return !s.view(t).Self.EffectiveMuted() })

	if err := s.SetSelfMuted(ctx, true); err != nil {
		t.Fatalf("self mute: %v", err)
	}
	if !s.view(t).Self.IsMuted {
		t.Fatalf("self mute should apply")
	}
}

func TestSessionMuteConfirmationAfterHostMute(t *testing.T) {
	bob := participant("bob")
	bob.IsMuted = true
	s := startSession(t, participant("me"))
	s.transport.emit(joinEvent(bob))

	// The relay accepted bob's self-unmute before the host muted him; the echo arrives late.
	s.transport.emit(Event{Kind: EventForceMuted, ParticipantID: "bob", IssuedBy: "host"})
	s.transport.emit(Event{Kind: EventParticipantUnmuted, ParticipantID: "bob"})
	s.transport.emit(Event{Kind: EventForceUnmuted, ParticipantID: "bob", IssuedBy: "host"})

	waitFor(t, "host unmute", func() bool {
		for _, p := range s.view(t).Participants {
			if p.ID == "bob" {
				return !p.HostMuted
			}
		}
		return false
	})
	for _, p := range s.view(t).Participants {
		if p.ID == "bob" && (p.IsMuted || p.EffectiveMuted()) {
			t.Fatalf("bob should be audible after the host unmute: %+v", p)
		}
	}
}

func TestSessionForceUnmuteAll(t *testing.T) {
	s := startSession(t, participant("me"))
	for _, id := range []string{"a", "b"} {
		s.transport.emit(joinEvent(participant(id)))
		s.transport.emit(Event{Kind: EventForceMuted, ParticipantID: id})
	}
	waitFor(t, "mutes", func() bool {
		n := 0
		for _, p := range s.view(t).Participants {
			if p.HostMuted {
				n++
			}
		}
		return n == 2
	})

	s.transport.emit(Event{Kind: EventForceUnmuted})
	waitFor(t, "unmute all", func() bool {
		for _, p := range s.view(t).Participants {
			if p.HostMuted {
				return false
			}
		}
		return true
	})
}

func TestSessionGuardsModeration(t *testing.T) {
	s := startSession(t, participant("me"))
	s.transport.emit(joinEvent(participant("bob")))
	waitFor(t, "bob", func() bool { return len(s.view(t).Participants) == 2 })

	err := s.KickParticipant(context.Background(), "bob")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if len(s.transport.sentCommands()) != 0 {
		t.Fatalf("unauthorized command must not be sent")
	}
}

func TestSessionHostModeration(t *testing.T) {
	s := startSession(t, host("h"))
	ctx := context.Background()
	s.transport.emit(joinEvent(participant("bob")))
	waitFor(t, "bob", func() bool { return len(s.view(t).Participants) == 2 })

	if err := s.PromoteToSpeaker(ctx, "bob"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := s.MuteParticipant(ctx, "bob"); err != nil {
		t.Fatalf("mute: %v", err)
	}
	v := s.view(t)
	if !v.Participants[1].IsSpeaker || !v.Participants[1].HostMuted {
		t.Fatalf("expected bob promoted and muted: %+v", v.Participants[1])
	}

	if err := s.KickParticipant(ctx, "bob"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if len(s.view(t).Participants) != 1 {
		t.Fatalf("bob should be removed")
	}

	// Target already gone: silently a no-op, nothing sent.
	before := len(s.transport.sentCommands())
	if err := s.UnmuteParticipant(ctx, "bob"); err != nil {
		t.Fatalf("stale unmute should be a no-op, got %v", err)
	}
	if len(s.transport.sentCommands()) != before {
		t.Fatalf("stale command must not be sent")
	}

	kinds := []CommandKind{CommandPromote, CommandMute, CommandKick}
	for i, cmd := range s.transport.sentCommands() {
		if cmd.Kind != kinds[i] || cmd.TargetID != "bob" || cmd.SessionID != "S" {
			t.Fatalf("command %d = %+v", i, cmd)
		}
	}
}

func TestSessionKickedCannotBeReinstated(t *testing.T) {
	s := startSession(t, participant("me"))

	s.transport.emit(joinEvent(participant("mallory")))
	s.transport.emit(Event{Kind: EventParticipantKicked, ParticipantID: "mallory"})
	waitFor(t, "kick", func() bool { return len(s.view(t).Participants) == 1 })

	alias := "sneaky"
	s.transport.emit(Event{Kind: EventParticipantUpdated, ParticipantID: "mallory", Patch: &ParticipantPatch{Alias: &alias}})
	s.transport.emit(joinEvent(participant("mallory")))
	s.transport.emit(joinEvent(participant("zed")))
	waitFor(t, "zed", func() bool { return len(s.view(t).Participants) == 2 })

	for _, p := range s.view(t).Participants {
		if p.ID == "mallory" {
			t.Fatalf("kicked participant reinstated")
		}
	}
}

func TestSessionUpdateBeforeJoinIsDropped(t *testing.T) {
	s := startSession(t, participant("me"))

	raised := true
	s.transport.emit(Event{Kind: EventParticipantUpdated, ParticipantID: "late", Patch: &ParticipantPatch{HandRaised: &raised}})
	s.transport.emit(joinEvent(participant("late")))
	waitFor(t, "late join", func() bool { return len(s.view(t).Participants) == 2 })

	if s.view(t).Participants[1].HandRaised {
		t.Fatalf("update before join must not be buffered")
	}
}

func TestSessionReactionsExpire(t *testing.T) {
	clk := clock.NewMock()
	s := startSession(t, participant("me"), WithClock(clk))

	id, err := s.SendEmojiReaction(context.Background(), "🔥")
	if err != nil {
		t.Fatalf("reaction: %v", err)
	}
	// The relay echo carries the same id and must not render twice.
	s.transport.emit(Event{Kind: EventEmojiReaction, Reaction: &Reaction{ID: id, Emoji: "🔥"}})
	if n := len(s.view(t).Reactions); n != 1 {
		t.Fatalf("expected 1 active reaction, got %d", n)
	}

	clk.Add(3001 * time.Millisecond)
	waitFor(t, "reaction expiry", func() bool { return len(s.view(t).Reactions) == 0 })
}

func TestSessionReactionCap(t *testing.T) {
	s := startSession(t, participant("me"), WithClock(clock.NewMock()))
	for i := 0; i < 8; i++ {
		s.transport.emit(Event{Kind: EventEmojiReaction, Reaction: &Reaction{ID: string(rune('a' + i)), Emoji: "✨"}})
	}
	waitFor(t, "reactions", func() bool {
		v := s.view(t)
		return len(v.Reactions) == DefaultReactionCap && v.Reactions[DefaultReactionCap-1].ID == "h"
	})
}

func TestSessionKickedSelfTearsDown(t *testing.T) {
	audio := &fakeAudio{}
	s := startSession(t, participant("me"), WithAudio(audio), WithClock(clock.NewMock()))
	s.transport.emit(Event{Kind: EventEmojiReaction, Reaction: &Reaction{ID: "r1", Emoji: "🔥"}})

	s.transport.emit(Event{Kind: EventParticipantKicked, ParticipantID: "me"})

	err := s.waitExit(t)
	if !errors.Is(err, ErrKicked) {
		t.Fatalf("expected ErrKicked, got %v", err)
	}
	if audio.closeCount() != 1 {
		t.Fatalf("audio capture should be released once, got %d", audio.closeCount())
	}
	if n := s.transport.subscriptions(); n != 0 {
		t.Fatalf("expected all subscriptions released, %d left", n)
	}
	mustNotice(t, s.Notices(), NoticeKicked)

	if _, err := s.Snapshot(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after teardown, got %v", err)
	}
	if err := s.ToggleHand(context.Background(), true); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSessionTeardownOnEveryExit(t *testing.T) {
	t.Run("leave", func(t *testing.T) {
		audio := &fakeAudio{}
		s := startSession(t, participant("me"), WithAudio(audio))
		if err := s.Leave(context.Background()); err != nil {
			t.Fatalf("leave: %v", err)
		}
		if err := s.waitExit(t); err != nil {
			t.Fatalf("run after leave: %v", err)
		}
		if audio.closeCount() != 1 || s.transport.subscriptions() != 0 {
			t.Fatalf("leave did not release resources")
		}
		if cmds := s.transport.sentCommands(); len(cmds) != 1 || cmds[0].Kind != CommandLeave {
			t.Fatalf("expected a leave command, got %+v", cmds)
		}
	})

	t.Run("leave while disconnected", func(t *testing.T) {
		audio := &fakeAudio{}
		s := startSession(t, participant("me"), WithAudio(audio))
		s.transport.failWith(errors.New("socket closed"))
		if err := s.Leave(context.Background()); err != nil {
			t.Fatalf("leave: %v", err)
		}
		s.waitExit(t)
		if audio.closeCount() != 1 {
			t.Fatalf("audio not released")
		}
	})

	t.Run("session ended", func(t *testing.T) {
		audio := &fakeAudio{}
		s := startSession(t, participant("me"), WithAudio(audio))
		s.transport.emit(Event{Kind: EventSessionEnded, Reason: "host closed"})
		if err := s.waitExit(t); !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
		if audio.closeCount() != 1 {
			t.Fatalf("audio not released")
		}
	})

	t.Run("navigation away", func(t *testing.T) {
		audio := &fakeAudio{}
		s := startSession(t, participant("me"), WithAudio(audio))
		s.cancel()
		if err := s.waitExit(t); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if audio.closeCount() != 1 || s.transport.subscriptions() != 0 {
			t.Fatalf("cancel did not release resources")
		}
	})
}

func TestSessionModerationFallback(t *testing.T) {
	fallback := &fakeFallback{}
	s := startSession(t, host("h"), WithFallback(fallback))
	s.transport.emit(joinEvent(participant("bob")))
	waitFor(t, "bob", func() bool { return len(s.view(t).Participants) == 2 })

	s.transport.failWith(errors.New("socket closed"))
	if err := s.MuteParticipant(context.Background(), "bob"); err != nil {
		t.Fatalf("mute via fallback: %v", err)
	}
	if len(fallback.calls) != 1 || fallback.calls[0] != ActionMute {
		t.Fatalf("expected one fallback mute, got %v", fallback.calls)
	}
	if !s.view(t).Participants[1].HostMuted {
		t.Fatalf("fallback success should apply the mute")
	}

	fallback.err = errors.New("503")
	err := s.MuteParticipant(context.Background(), "bob")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestSessionTransportErrorsAreRetryable(t *testing.T) {
	s := startSession(t, participant("me"))
	s.transport.failWith(errors.New("socket closed"))

	_, err := s.SendMessage(context.Background(), "hi", MessageText, nil, "")
	if !errors.Is(err, ErrTransport) || CodeOf(err) != ErrCodeTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(s.view(t).Messages) != 0 {
		t.Fatalf("failed send must not append")
	}
}

func TestSessionConnectionKeepsState(t *testing.T) {
	s := startSession(t, participant("me"))
	s.transport.emit(joinEvent(participant("bob")))
	s.transport.emit(Event{Kind: EventConnectionChanged, Connection: StatusConnected})
	mustNotice(t, s.Notices(), NoticeConnection)

	s.transport.emit(Event{Kind: EventConnectionChanged, Connection: StatusDisconnected})
	waitFor(t, "disconnect", func() bool { return s.view(t).Connection == StatusDisconnected })

	v := s.view(t)
	if !v.Stale || len(v.Participants) != 2 {
		t.Fatalf("disconnect must keep state and mark it stale: %+v", v)
	}

	s.transport.emit(Event{Kind: EventConnectionChanged, Connection: StatusConnected})
	s.transport.emit(Event{Kind: EventHandRaised, ParticipantID: "bob", Raised: true})
	waitFor(t, "fresh event", func() bool { return !s.view(t).Stale })
}

func TestSessionResyncRebuildsParticipants(t *testing.T) {
	s := startSession(t, participant("me"))
	s.transport.emit(joinEvent(participant("bob")))
	s.transport.emit(joinEvent(participant("mallory")))
	s.transport.emit(Event{Kind: EventParticipantKicked, ParticipantID: "mallory"})
	waitFor(t, "bob", func() bool { return len(s.view(t).Participants) == 2 })

	if err := s.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if v := s.view(t); len(v.Participants) != 0 || !v.Stale {
		t.Fatalf("resync should clear the view until the snapshot arrives: %+v", v)
	}

	for _, p := range []Participant{participant("me"), participant("carol"), participant("mallory")} {
		s.transport.emit(joinEvent(p))
	}
	history := []ChatMessage{textMessage("m1", "a"), textMessage("m2", "b")}
	s.transport.emit(Event{Kind: EventHistory, Messages: history})
	waitFor(t, "snapshot", func() bool {
		v := s.view(t)
		return len(v.Participants) == 2 && len(v.Messages) == 2
	})
	for _, p := range s.view(t).Participants {
		if p.ID == "mallory" {
			t.Fatalf("resync must not reinstate a kicked participant")
		}
	}
}

func TestSessionCacheMirror(t *testing.T) {
	cache := newMemoryCache()
	cache.data["S"] = []ChatMessage{textMessage("old", "from last visit")}

	s := startSession(t, participant("me"), WithCache(cache))
	v := s.view(t)
	if len(v.Messages) != 1 || !v.Stale {
		t.Fatalf("expected restored stale ledger, got %+v", v)
	}

	m := textMessage("new", "fresh")
	s.transport.emit(Event{Kind: EventNewMessage, Message: &m})
	s.transport.emit(Event{Kind: EventNewMessage, Message: &m})

	waitFor(t, "mirror", func() bool { return len(cache.stored("S")) == 2 })

	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	s.waitExit(t)
	if got := cache.stored("S"); got[1].ID != "new" {
		t.Fatalf("mirror not flushed on teardown: %+v", got)
	}
}

func TestSessionEmergencyAlert(t *testing.T) {
	s := startSession(t, participant("me"))

	if err := s.SendEmergencyAlert(context.Background(), "safety", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty alert should be rejected, got %v", err)
	}
	if err := s.SendEmergencyAlert(context.Background(), "safety", "need help"); err != nil {
		t.Fatalf("alert: %v", err)
	}
	cmds := s.transport.sentCommands()
	if len(cmds) != 1 || cmds[0].Alert.Message != "need help" || cmds[0].Alert.From != "me" {
		t.Fatalf("unexpected alert command %+v", cmds)
	}

	s.transport.emit(Event{Kind: EventEmergencyAlert, Alert: cmds[0].Alert})
	n := mustNotice(t, s.Notices(), NoticeEmergencyAlert)
	if n.Alert == nil || n.Alert.Kind != "safety" {
		t.Fatalf("unexpected notice %+v", n)
	}
}

func TestSessionToggleHand(t *testing.T) {
	s := startSession(t, participant("me"))
	if err := s.ToggleHand(context.Background(), true); err != nil {
		t.Fatalf("toggle hand: %v", err)
	}
	if !s.view(t).Self.HandRaised {
		t.Fatalf("hand should be raised")
	}
	s.transport.emit(Event{Kind: EventHandRaised, ParticipantID: "me", Raised: false})
	waitFor(t, "relay lowers hand", func() bool { return !s.view(t).Self.HandRaised })
}

func BenchmarkSessionOnEvent(b *testing.B) {
	tr := newFakeTransport()
	s := NewSession(SessionConfig{SessionID: "bench", Self: participant("me")}, tr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	msgs := make([]ChatMessage, 1024)
	for i := range msgs {
		msgs[i] = textMessage(string(rune(0x4e00+i)), "bench")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := msgs[i%len(msgs)]
		s.OnEvent(Event{Kind: EventNewMessage, Message: &m})
	}
	b.StopTimer()
	if _, err := s.Snapshot(ctx); err != nil {
		b.Fatalf("snapshot: %v", err)
	}
}

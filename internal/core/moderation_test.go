package core

import (
	"errors"
	"testing"
)

func TestMutePrecedence(t *testing.T) {
	r := NewRegistry()
	m := NewModerator(r)
	r.ApplyJoin(participant("bob"))

	if err := m.Apply(ActionMute, "bob"); err != nil {
		t.Fatalf("host mute: %v", err)
	}
	bob, _ := r.Get("bob")
	if !bob.EffectiveMuted() {
		t.Fatalf("bob should be effectively muted")
	}

	err := m.SetSelfMuted("bob", false)
	if !errors.Is(err, ErrMutedByModerator) {
		t.Fatalf("expected ErrMutedByModerator, got %v", err)
	}
	if err.Error() != "cannot unmute: muted by moderator" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if bob, _ = r.Get("bob"); !bob.EffectiveMuted() {
		t.Fatalf("self unmute must not take effect while host-muted")
	}

	if err := m.Apply(ActionUnmute, "bob"); err != nil {
		t.Fatalf("host unmute: %v", err)
	}
	if bob, _ = r.Get("bob"); bob.EffectiveMuted() {
		t.Fatalf("bob should be unmuted")
	}
}

func TestHostMuteKeepsSelfState(t *testing.T) {
	r := NewRegistry()
	m := NewModerator(r)
	r.ApplyJoin(participant("bob"))

	if err := m.SetSelfMuted("bob", true); err != nil {
		t.Fatalf("self mute: %v", err)
	}
	m.Apply(ActionMute, "bob")
	m.Apply(ActionUnmute, "bob")

	bob, _ := r.Get("bob")
	if !bob.IsMuted || !bob.EffectiveMuted() {
		t.Fatalf("host unmute must not clear the self mute: %+v", bob)
	}
}

func TestUnmuteAll(t *testing.T) {
	r := NewRegistry()
	m := NewModerator(r)
	for _, id := range []string{"a", "b", "c"} {
		r.ApplyJoin(participant(id))
	}
	if err := m.SetSelfMuted("c", true); err != nil {
		t.Fatalf("self mute: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := m.Apply(ActionMute, id); err != nil {
			t.Fatalf("mute %s: %v", id, err)
		}
	}

	if err := m.Apply(ActionUnmuteAll, ""); err != nil {
		t.Fatalf("unmute all: %v", err)
	}
	for _, p := range r.List() {
		if p.HostMuted {
			t.Fatalf("%s still host-muted", p.ID)
		}
	}
	if c, _ := r.Get("c"); !c.IsMuted {
		t.Fatalf("unmute all must leave self mutes alone")
	}
}

func TestAuthorize(t *testing.T) {
	r := NewRegistry()
	m := NewModerator(r)
	r.ApplyJoin(host("h"))
	mod := participant("mod")
	mod.IsModerator = true
	r.ApplyJoin(mod)
	r.ApplyJoin(participant("p"))

	tests := []struct {
		name    string
		issuer  string
		action  ModerationAction
		target  string
		wantErr error
	}{
		{"host mutes participant", "h", ActionMute, "p", nil},
		{"moderator kicks participant", "mod", ActionKick, "p", nil},
		{"participant cannot mute", "p", ActionMute, "mod", ErrNotAuthorized},
		{"moderator cannot kick host", "mod", ActionKick, "h", ErrNotAuthorized},
		{"absent target", "h", ActionPromote, "gone", ErrStaleReference},
		{"unmute all needs no target", "mod", ActionUnmuteAll, "", nil},
		{"unknown action", "h", ModerationAction("ban"), "p", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Authorize(tt.issuer, tt.action, tt.target)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPromoteAndKick(t *testing.T) {
	r := NewRegistry()
	m := NewModerator(r)
	r.ApplyJoin(participant("p"))

	if err := m.Apply(ActionPromote, "p"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if p, _ := r.Get("p"); !p.IsSpeaker {
		t.Fatalf("promote should grant speaker")
	}
	if err := m.Apply(ActionKick, "p"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if err := m.Apply(ActionKick, "p"); !errors.Is(err, ErrStaleReference) {
		t.Fatalf("second kick should be stale, got %v", err)
	}
	if CodeOf(m.Apply(ActionMute, "p")) != ErrCodeStaleReference {
		t.Fatalf("mute after kick should carry the stale code")
	}
}

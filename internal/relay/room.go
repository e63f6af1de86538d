package relay

import (
	"crypto/subtle"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
	"github.com/vovakirdan/sanctuary/internal/store"
)

// room is the live state of one sanctuary. Only the hub goroutine touches it.
type room struct {
	sanctuary *store.Sanctuary
	registry  *core.Registry
	moderator *core.Moderator
	ledger    *core.Ledger
	clients   map[string]*Client
	resume    map[string]string
	log       zerolog.Logger
}

func newRoom(sanc *store.Sanctuary, historyLimit int, logger zerolog.Logger) *room {
	registry := core.NewRegistry()
	return &room{
		sanctuary: sanc,
		registry:  registry,
		moderator: core.NewModerator(registry),
		ledger:    core.NewLedger(historyLimit),
		clients:   make(map[string]*Client),
		resume:    make(map[string]string),
		log:       logger.With().Str("sanctuary_id", sanc.ID).Logger(),
	}
}

// resumes reports whether token proves ownership of participant id.
func (r *room) resumes(id, token string) bool {
	want, ok := r.resume[id]
	return ok && token != "" && subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

// forget drops a participant from the registry along with its resume token.
func (r *room) forget(id string) bool {
	delete(r.resume, id)
	return r.registry.ApplyLeave(id)
}

func (r *room) audio() bool {
	return r.sanctuary.Mode == store.ModeAudio
}

func (r *room) joinedKind() core.EventKind {
	if r.audio() {
		return core.EventAudioParticipantJoined
	}
	return core.EventParticipantJoined
}

func (r *room) leftKind() core.EventKind {
	if r.audio() {
		return core.EventAudioParticipantLeft
	}
	return core.EventParticipantLeft
}

// broadcast sends ev to every client except the one with id except.
func (r *room) broadcast(ev core.Event, except string) {
	ev.SessionID = r.sanctuary.ID
	out := eventFrame(ev)
	for id, c := range r.clients {
		if id == except {
			continue
		}
		if !c.send(out) {
			r.log.Debug().Str("participant_id", id).Str("event", out.Event).Msg("client buffer full, dropping event")
		}
	}
}

// snapshot is what a client receives after a hello or resync: one join per participant, then history.
func (r *room) snapshot() []proto.Outbound {
	participants := r.registry.List()
	out := make([]proto.Outbound, 0, len(participants)+1)
	kind := r.joinedKind()
	for i := range participants {
		out = append(out, eventFrame(core.Event{Kind: kind, Participant: &participants[i]}))
	}
	out = append(out, eventFrame(core.Event{Kind: core.EventHistory, Messages: r.ledger.Messages()}))
	return out
}

func (r *room) closeAll(reason CloseReason) {
	for id, c := range r.clients {
		c.close(reason)
		delete(r.clients, id)
	}
}

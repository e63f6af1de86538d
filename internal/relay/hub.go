package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
	"github.com/vovakirdan/sanctuary/internal/store"
	"github.com/vovakirdan/sanctuary/internal/utils"
)

const (
	// DefaultHistoryLimit is how many messages a joining client receives.
	DefaultHistoryLimit = 200
	// DefaultSweepInterval is how often expired sanctuaries are closed.
	DefaultSweepInterval = 30 * time.Second
	// MaxMessageLength bounds chat message content, in runes.
	MaxMessageLength = 4000

	reasonExpired = "expired"

	resumeTokenBytes = 16
)

var (
	// ErrNotFound means the sanctuary does not exist.
	ErrNotFound = errors.New("sanctuary not found")
	// ErrEnded means the sanctuary expired or was ended by its host.
	ErrEnded = errors.New("sanctuary has ended")
	// ErrHubClosed is returned once Run has returned.
	ErrHubClosed = errors.New("hub closed")
	// ErrIdentityTaken means a hello named a connected participant without its resume token.
	ErrIdentityTaken = errors.New("participant id is in use")
)

// JoinRequest describes a client entering a sanctuary. IsHost must only be set
// after the host token was verified. Taking over a present participant id needs the
// ResumeToken handed out when that id first joined.
type JoinRequest struct {
	SanctuaryID   string
	ParticipantID string
	ResumeToken   string
	Alias         string
	AvatarIndex   int
	IsHost        bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock overrides the time source.
func WithClock(clk clock.Clock) Option {
	return func(h *Hub) { h.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.log = *logger
		}
	}
}

// WithHistoryLimit bounds the replayed history.
func WithHistoryLimit(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.historyLimit = n
		}
	}
}

// WithSweepInterval sets how often expired sanctuaries are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sweepEvery = d
		}
	}
}

// Hub owns every live sanctuary. All room state is confined to the Run goroutine;
// the exported methods hand closures to it.
type Hub struct {
	store        store.Store
	clock        clock.Clock
	log          zerolog.Logger
	historyLimit int
	sweepEvery   time.Duration

	rooms map[string]*room
	inbox chan func(context.Context)
	done  chan struct{}
}

// NewHub builds a hub on top of the persistent store. Call Run to start it.
func NewHub(st store.Store, opts ...Option) *Hub {
	h := &Hub{
		store:        st,
		clock:        clock.New(),
		log:          zerolog.Nop(),
		historyLimit: DefaultHistoryLimit,
		sweepEvery:   DefaultSweepInterval,
		rooms:        make(map[string]*room),
		inbox:        make(chan func(context.Context), 64),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes requests until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.Ticker(h.sweepEvery)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for id, r := range h.rooms {
				r.closeAll(CloseShutdown)
				delete(h.rooms, id)
			}
			h.log.Info().Msg("hub stopped")
			return
		case fn := <-h.inbox:
			fn(ctx)
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

// Join admits a client and returns the snapshot it must receive first.
func (h *Hub) Join(ctx context.Context, req JoinRequest) (*Client, []proto.Outbound, error) {
	var (
		client   *Client
		snapshot []proto.Outbound
	)
	err := h.call(ctx, func(ctx context.Context) error {
		r, err := h.room(ctx, req.SanctuaryID)
		if err != nil {
			return err
		}
		defer func() {
			if len(r.clients) == 0 {
				delete(h.rooms, r.sanctuary.ID)
			}
		}()
		id := req.ParticipantID
		if id == "" {
			id = uuid.NewString()
		}
		if r.registry.IsKicked(id) {
			return fmt.Errorf("%w: %s", core.ErrKicked, id)
		}
		if kicked, err := h.store.IsKicked(ctx, r.sanctuary.ID, id); err != nil {
			return fmt.Errorf("check kicked: %w", err)
		} else if kicked {
			r.registry.ApplyKick(id)
			return fmt.Errorf("%w: %s", core.ErrKicked, id)
		}

		existing, present := r.registry.Get(id)
		if present && !r.resumes(id, req.ResumeToken) {
			return fmt.Errorf("%w: %s", ErrIdentityTaken, id)
		}
		if old, ok := r.clients[id]; ok {
			old.close(CloseReplaced)
			delete(r.clients, id)
		}
		if present && existing.IsHost != req.IsHost {
			// The role always follows the credentials of the latest hello.
			r.forget(id)
			r.broadcast(core.Event{Kind: r.leftKind(), ParticipantID: id}, id)
		}

		p := core.Participant{
			ID:               id,
			Alias:            strings.TrimSpace(req.Alias),
			AvatarIndex:      req.AvatarIndex,
			IsHost:           req.IsHost,
			IsSpeaker:        req.IsHost && r.audio(),
			ConnectionStatus: core.StatusConnected,
			JoinedAt:         h.clock.Now().UTC(),
		}
		if p.Alias == "" {
			p.Alias = "anonymous"
		}
		fresh := r.registry.ApplyJoin(p)
		if fresh {
			if err := h.store.RecordParticipant(ctx, r.sanctuary.ID, id, p.Alias); err != nil {
				r.registry.ApplyLeave(id)
				return fmt.Errorf("record participant: %w", err)
			}
			r.resume[id] = utils.NewSecret(resumeTokenBytes)
		} else {
			status := core.StatusConnected
			if err := r.registry.ApplyUpdate(id, core.ParticipantPatch{ConnectionStatus: &status}); err != nil {
				r.log.Debug().Err(err).Str("participant_id", id).Msg("reconnect status not applied")
			}
		}

		client = newClient(id, r.sanctuary.ID, req.IsHost, r.resume[id])
		r.clients[id] = client
		if fresh {
			joined, _ := r.registry.Get(id)
			r.broadcast(core.Event{Kind: r.joinedKind(), ParticipantID: id, Participant: &joined}, id)
		}
		snapshot = r.snapshot()
		r.log.Info().Str("participant_id", id).Bool("host", req.IsHost).Int("participants", r.registry.Len()).Msg("participant joined")
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return client, snapshot, nil
}

// Leave removes a client. A client that was already replaced or closed is ignored.
func (h *Hub) Leave(c *Client) {
	h.post(func(context.Context) {
		h.leave(c, CloseLeft)
	})
}

// Submit hands a command from a connected client to its room.
func (h *Hub) Submit(c *Client, cmd core.Command) {
	h.post(func(ctx context.Context) {
		r, ok := h.rooms[c.SanctuaryID]
		if !ok || r.clients[c.ID] != c {
			return
		}
		if err := h.handle(ctx, r, c, cmd); err != nil {
			r.log.Debug().Err(err).Str("participant_id", c.ID).Str("command", cmd.Kind.String()).Msg("command rejected")
			c.send(errorFrameFor(err))
		}
	})
}

// Moderate applies a moderation action on behalf of the sanctuary host, for clients
// whose socket is down. The caller has verified the host token.
func (h *Hub) Moderate(ctx context.Context, sanctuaryID string, action core.ModerationAction, targetID string) error {
	return h.call(ctx, func(ctx context.Context) error {
		r, ok := h.rooms[sanctuaryID]
		if !ok {
			if action.Targeted() {
				return fmt.Errorf("%w: participant %s is not present", core.ErrStaleReference, targetID)
			}
			return nil
		}
		issuer := ""
		for _, p := range r.registry.List() {
			if p.IsHost {
				issuer = p.ID
				break
			}
		}
		return h.moderate(ctx, r, issuer, true, action, targetID)
	})
}

// End closes a sanctuary for everyone and marks it ended in the store.
func (h *Hub) End(ctx context.Context, sanctuaryID, reason string) error {
	return h.call(ctx, func(ctx context.Context) error {
		return h.end(ctx, sanctuaryID, reason)
	})
}

// IsSpeaker reports whether a connected participant may publish audio.
func (h *Hub) IsSpeaker(ctx context.Context, sanctuaryID, participantID string) (bool, error) {
	var speaker bool
	err := h.call(ctx, func(context.Context) error {
		if r, ok := h.rooms[sanctuaryID]; ok {
			p, found := r.registry.Get(participantID)
			speaker = found && (p.IsSpeaker || p.IsHost)
		}
		return nil
	})
	return speaker, err
}

// Participants lists the connected participants of a sanctuary.
func (h *Hub) Participants(ctx context.Context, sanctuaryID string) ([]core.Participant, error) {
	var list []core.Participant
	err := h.call(ctx, func(context.Context) error {
		if r, ok := h.rooms[sanctuaryID]; ok {
			list = r.registry.List()
		}
		return nil
	})
	return list, err
}

func (h *Hub) handle(ctx context.Context, r *room, c *Client, cmd core.Command) error {
	switch cmd.Kind {
	case core.CommandSendMessage:
		return h.sendMessage(ctx, r, c, cmd.Message)
	case core.CommandEmojiReaction:
		if cmd.Reaction == nil || cmd.Reaction.Emoji == "" {
			return &core.CoreError{Code: core.ErrCodeValidation, Message: "emoji required", Err: core.ErrValidation}
		}
		reaction := core.Reaction{
			ID:            cmd.Reaction.ID,
			Emoji:         cmd.Reaction.Emoji,
			ParticipantID: c.ID,
			CreatedAt:     h.clock.Now(),
		}
		if reaction.ID == "" {
			reaction.ID = uuid.NewString()
		}
		r.broadcast(core.Event{Kind: core.EventEmojiReaction, ParticipantID: c.ID, Reaction: &reaction}, "")
	case core.CommandToggleHand:
		raised := cmd.Raised
		if err := r.registry.ApplyUpdate(c.ID, core.ParticipantPatch{HandRaised: &raised}); err != nil {
			return err
		}
		r.broadcast(core.Event{Kind: core.EventHandRaised, ParticipantID: c.ID, Raised: raised}, "")
	case core.CommandSelfMute:
		if err := r.moderator.SetSelfMuted(c.ID, cmd.Muted); err != nil {
			return err
		}
		kind := core.EventParticipantUnmuted
		if cmd.Muted {
			kind = core.EventParticipantMuted
		}
		r.broadcast(core.Event{Kind: kind, ParticipantID: c.ID}, "")
	case core.CommandPromote, core.CommandMute, core.CommandUnmute, core.CommandUnmuteAll, core.CommandKick:
		action, _ := cmd.Kind.Action()
		return h.moderate(ctx, r, c.ID, false, action, cmd.TargetID)
	case core.CommandEmergencyAlert:
		if cmd.Alert == nil || strings.TrimSpace(cmd.Alert.Message) == "" {
			return &core.CoreError{Code: core.ErrCodeValidation, Message: "alert message required", Err: core.ErrValidation}
		}
		p, _ := r.registry.Get(c.ID)
		alert := core.Alert{Kind: cmd.Alert.Kind, Message: cmd.Alert.Message, From: p.Alias, Timestamp: h.clock.Now().UTC()}
		r.log.Warn().Str("participant_id", c.ID).Str("kind", alert.Kind).Msg("emergency alert")
		r.broadcast(core.Event{Kind: core.EventEmergencyAlert, ParticipantID: c.ID, Alert: &alert}, "")
	case core.CommandLeave:
		h.leave(c, CloseLeft)
	case core.CommandResync:
		for _, out := range r.snapshot() {
			c.send(out)
		}
	default:
		return &core.CoreError{Code: core.ErrCodeValidation, Message: "unknown command " + cmd.Kind.String(), Err: core.ErrValidation}
	}
	return nil
}

func (h *Hub) sendMessage(ctx context.Context, r *room, c *Client, in *core.ChatMessage) error {
	invalid := func(msg string) error {
		return &core.CoreError{Code: core.ErrCodeValidation, Message: msg, Err: core.ErrValidation}
	}
	if in == nil {
		return invalid("message required")
	}
	if in.ID != "" && r.ledger.Seen(in.ID) {
		return nil
	}
	sender, _ := r.registry.Get(c.ID)
	msg := core.ChatMessage{
		ID:                in.ID,
		SenderAlias:       sender.Alias,
		SenderAvatarIndex: sender.AvatarIndex,
		Content:           strings.TrimSpace(in.Content),
		Timestamp:         h.clock.Now().UTC().Truncate(time.Millisecond),
		Type:              in.Type,
		Attachment:        in.Attachment,
		ReplyTo:           in.ReplyTo,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = core.MessageText
	}
	if msg.Type == core.MessageSystem {
		return invalid("system messages are reserved")
	}
	if msg.Content == "" && msg.Attachment == nil {
		return invalid("message content required")
	}
	if utf8.RuneCountInString(msg.Content) > MaxMessageLength {
		return invalid(fmt.Sprintf("message longer than %d characters", MaxMessageLength))
	}
	if msg.ReplyTo != "" {
		if orig, ok := r.ledger.Get(msg.ReplyTo); ok {
			msg.ReplyToMessage = orig.Snapshot()
		} else {
			msg.ReplyToMessage = in.ReplyToMessage
		}
	}
	ev := core.Event{Kind: core.EventNewMessage, Message: &msg}
	if err := ev.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(proto.FromMessage(msg))
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = h.store.SaveMessage(ctx, &store.Message{
		ID:          msg.ID,
		SanctuaryID: r.sanctuary.ID,
		SenderID:    c.ID,
		Body:        body,
		CreatedAt:   msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("%w: save message: %v", core.ErrTransport, err)
	}
	r.ledger.AppendOrDedup(msg)
	r.broadcast(ev, "")
	return nil
}

// moderate authorizes and applies an action. trusted skips the issuer check for the
// token-authenticated HTTP path.
func (h *Hub) moderate(ctx context.Context, r *room, issuerID string, trusted bool, action core.ModerationAction, targetID string) error {
	if action.Targeted() && targetID == "" {
		return &core.CoreError{Code: core.ErrCodeValidation, Message: string(action) + " needs a participant", Err: core.ErrValidation}
	}
	if action.Targeted() && targetID == issuerID {
		return &core.CoreError{Code: core.ErrCodeValidation, Message: "cannot " + string(action) + " yourself", Err: core.ErrValidation}
	}
	if !trusted {
		if err := r.moderator.Authorize(issuerID, action, targetID); err != nil {
			return err
		}
	} else if action.Targeted() && !r.registry.Has(targetID) {
		return fmt.Errorf("%w: participant %s is not present", core.ErrStaleReference, targetID)
	}
	if err := r.moderator.Apply(action, targetID); err != nil {
		return err
	}

	ev := core.Event{ParticipantID: targetID, IssuedBy: issuerID}
	switch action {
	case core.ActionMute:
		ev.Kind = core.EventForceMuted
	case core.ActionUnmute:
		ev.Kind = core.EventForceUnmuted
	case core.ActionUnmuteAll:
		ev.Kind = core.EventForceUnmuted
		ev.ParticipantID = ""
	case core.ActionPromote:
		ev.Kind = core.EventParticipantPromoted
	case core.ActionKick:
		ev.Kind = core.EventParticipantKicked
		delete(r.resume, targetID)
		if err := h.store.MarkKicked(ctx, r.sanctuary.ID, targetID); err != nil {
			r.log.Error().Err(err).Str("participant_id", targetID).Msg("failed to persist kick")
		}
	}
	r.broadcast(ev, "")
	r.log.Info().Str("action", string(action)).Str("participant_id", targetID).Str("issued_by", issuerID).Msg("moderation applied")

	if action == core.ActionKick {
		if target, ok := r.clients[targetID]; ok {
			target.close(CloseKicked)
			delete(r.clients, targetID)
		}
	}
	return nil
}

func (h *Hub) leave(c *Client, reason CloseReason) {
	r, ok := h.rooms[c.SanctuaryID]
	if !ok || r.clients[c.ID] != c {
		return
	}
	delete(r.clients, c.ID)
	c.close(reason)
	if r.forget(c.ID) {
		r.broadcast(core.Event{Kind: r.leftKind(), ParticipantID: c.ID}, "")
	}
	r.log.Info().Str("participant_id", c.ID).Int("participants", r.registry.Len()).Msg("participant left")
	if len(r.clients) == 0 {
		delete(h.rooms, r.sanctuary.ID)
	}
}

func (h *Hub) end(ctx context.Context, sanctuaryID, reason string) error {
	if err := h.store.EndSanctuary(ctx, sanctuaryID, h.clock.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, sanctuaryID)
		}
		return fmt.Errorf("end sanctuary: %w", err)
	}
	r, ok := h.rooms[sanctuaryID]
	if !ok {
		return nil
	}
	r.broadcast(core.Event{Kind: core.EventSessionEnded, Reason: reason}, "")
	r.closeAll(CloseEnded)
	delete(h.rooms, sanctuaryID)
	r.log.Info().Str("reason", reason).Msg("sanctuary ended")
	return nil
}

func (h *Hub) sweep(ctx context.Context) {
	ids, err := h.store.ListExpired(ctx, h.clock.Now().UTC())
	if err != nil {
		h.log.Error().Err(err).Msg("list expired sanctuaries")
		return
	}
	for _, id := range ids {
		if err := h.end(ctx, id, reasonExpired); err != nil {
			h.log.Error().Err(err).Str("sanctuary_id", id).Msg("end expired sanctuary")
		}
	}
}

// room returns the live room, loading it and its recent history from the store on first use.
func (h *Hub) room(ctx context.Context, id string) (*room, error) {
	if r, ok := h.rooms[id]; ok {
		return r, nil
	}
	sanc, err := h.store.GetSanctuary(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load sanctuary: %w", err)
	}
	if !sanc.Active(h.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrEnded, id)
	}

	r := newRoom(sanc, h.historyLimit, h.log)
	stored, err := h.store.ListMessages(ctx, id, h.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := make([]core.ChatMessage, 0, len(stored))
	for _, m := range stored {
		var d proto.MessageData
		if err := json.Unmarshal(m.Body, &d); err != nil {
			r.log.Warn().Err(err).Str("message_id", m.ID).Msg("skipping undecodable stored message")
			continue
		}
		history = append(history, d.Message())
	}
	r.ledger.Seed(history)
	h.rooms[id] = r
	return r, nil
}

// post queues fn without waiting. Dropped once the hub has stopped.
func (h *Hub) post(fn func(context.Context)) {
	select {
	case h.inbox <- fn:
	case <-h.done:
	}
}

// call runs fn on the hub goroutine and waits for its result.
func (h *Hub) call(ctx context.Context, fn func(context.Context) error) error {
	result := make(chan error, 1)
	select {
	case h.inbox <- func(hctx context.Context) { result <- fn(hctx) }:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

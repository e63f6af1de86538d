package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultInboxSize    = 64
	defaultNoticeBuffer = 32
	defaultCacheTimeout = 2 * time.Second
)

// Transport is the event stream the session consumes: per-kind subscriptions in,
// commands out. Delivery is at-least-once and unordered across kinds.
type Transport interface {
	Subscribe(kind EventKind, handler func(Event)) (unsubscribe func())
	Send(ctx context.Context, cmd Command) error
}

// MessageCache mirrors the ledger so a reload can restore it.
type MessageCache interface {
	Load(ctx context.Context, sessionID string) ([]ChatMessage, error)
	Save(ctx context.Context, sessionID string, msgs []ChatMessage) error
}

// ModerationFallback delivers a moderation command over HTTP when the socket is unavailable.
type ModerationFallback interface {
	Moderate(ctx context.Context, sessionID string, action ModerationAction, targetID string) error
}

// AudioCapture is the microphone stream and analysis node owned by the active session.
type AudioCapture interface {
	Close() error
}

// SessionConfig parametrizes one session engine.
type SessionConfig struct {
	SessionID string
	// Self is the local participant as announced to the relay.
	Self              Participant
	ReactionTTL       time.Duration
	ReactionCap       int
	LedgerMaxMessages int
	NoticeBuffer      int
	CacheTimeout      time.Duration
}

// View is a consistent copy of the session state for rendering.
type View struct {
	SessionID    string
	Self         Participant
	Participants []Participant
	Messages     []ChatMessage
	Reactions    []Reaction
	Connection   ConnectionStatus
	Stale        bool
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces the wall clock (reaction timers, message timestamps).
func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clock = clk }
}

// WithLogger sets the session logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			l := logger.With().Str("session_id", s.cfg.SessionID).Logger()
			s.log = &l
		}
	}
}

// WithCache mirrors the message ledger into cache.
func WithCache(cache MessageCache) Option {
	return func(s *Session) { s.cache = cache }
}

// WithFallback sets the HTTP path for moderation commands.
func WithFallback(fallback ModerationFallback) Option {
	return func(s *Session) { s.fallback = fallback }
}

// WithAudio hands ownership of an audio capture to the session. It is closed on teardown.
func WithAudio(capture AudioCapture) Option {
	return func(s *Session) { s.audio = capture }
}

// Session is the synchronization and moderation engine for one sanctuary.
// All state is owned by the goroutine running Run; every mutation is a closure executed there.
type Session struct {
	cfg       SessionConfig
	transport Transport
	cache     MessageCache
	fallback  ModerationFallback
	audio     AudioCapture
	clock     clock.Clock
	log       *zerolog.Logger

	registry  *Registry
	ledger    *Ledger
	reactions *ReactionScheduler
	moderator *Moderator

	connection ConnectionStatus
	stale      bool

	inbox       chan func()
	notices     chan Notice
	mirror      chan []ChatMessage
	mirrorDone  chan struct{}
	ready       chan struct{}
	done        chan struct{}
	unsubscribe []func()
	started     atomic.Bool

	exiting bool
	exitErr error
}

// NewSession constructs a session bound to a transport. Call Run to start it.
func NewSession(cfg SessionConfig, transport Transport, opts ...Option) *Session {
	if cfg.NoticeBuffer <= 0 {
		cfg.NoticeBuffer = defaultNoticeBuffer
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = defaultCacheTimeout
	}
	nop := zerolog.Nop()
	s := &Session{
		cfg:        cfg,
		transport:  transport,
		clock:      clock.New(),
		log:        &nop,
		connection: StatusConnecting,
		inbox:      make(chan func(), defaultInboxSize),
		notices:    make(chan Notice, cfg.NoticeBuffer),
		mirror:     make(chan []ChatMessage, 1),
		mirrorDone: make(chan struct{}),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = NewRegistry()
	s.ledger = NewLedger(cfg.LedgerMaxMessages)
	s.moderator = NewModerator(s.registry)
	s.reactions = NewReactionScheduler(s.clock, cfg.ReactionTTL, cfg.ReactionCap, s.expireReaction)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.SessionID }

// Notices streams view-facing notifications. The channel is closed on teardown.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Done is closed once the session has torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Ready is closed once the session is subscribed to its transport.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Run restores the cached ledger, subscribes to the transport and processes events until
// ctx is cancelled, the participant leaves, is kicked, or the sanctuary ends.
// Every exit path releases subscriptions, timers and the audio capture.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}

	go s.mirrorLoop()
	s.restore(ctx)
	if s.cfg.Self.ID != "" {
		s.registry.ApplyJoin(s.cfg.Self)
	}
	for _, kind := range AllEventKinds() {
		s.unsubscribe = append(s.unsubscribe, s.transport.Subscribe(kind, s.OnEvent))
	}
	close(s.ready)
	s.log.Info().Str("participant_id", s.cfg.Self.ID).Int("cached_messages", s.ledger.Len()).Msg("session started")

	for {
		select {
		case fn := <-s.inbox:
			fn()
			if s.exiting {
				s.teardown()
				return s.exitErr
			}
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		}
	}
}

// OnEvent validates an inbound event and queues it for the session loop.
// Malformed events are dropped and logged.
func (s *Session) OnEvent(ev Event) {
	if err := ev.Validate(); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Kind.String()).Msg("dropping invalid event")
		return
	}
	s.post(func() { s.apply(ev) })
}

// Snapshot returns a consistent copy of the current state.
func (s *Session) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := s.call(ctx, func() error {
		self, _ := s.registry.Get(s.cfg.Self.ID)
		v = View{
			SessionID:    s.cfg.SessionID,
			Self:         self,
			Participants: s.registry.List(),
			Messages:     s.ledger.Messages(),
			Reactions:    s.reactions.Active(),
			Connection:   s.connection,
			Stale:        s.stale,
		}
		return nil
	})
	return v, err
}

// ResolveReply resolves the reply context of m against the ledger.
func (s *Session) ResolveReply(ctx context.Context, m ChatMessage) (ReplyContext, error) {
	var rc ReplyContext
	err := s.call(ctx, func() error {
		rc = s.ledger.ResolveReply(m)
		return nil
	})
	return rc, err
}

// SendMessage sends a chat message. The id is assigned locally so the relay echo deduplicates.
func (s *Session) SendMessage(ctx context.Context, content string, typ MessageType, attachment *Attachment, replyTo string) (ChatMessage, error) {
	if typ == "" {
		typ = MessageText
	}
	msg := ChatMessage{
		ID:                uuid.NewString(),
		SenderAlias:       s.cfg.Self.Alias,
		SenderAvatarIndex: s.cfg.Self.AvatarIndex,
		Content:           content,
		Timestamp:         s.clock.Now(),
		Type:              typ,
		Attachment:        attachment,
		ReplyTo:           replyTo,
	}
	if err := validateMessage(msg); err != nil {
		return ChatMessage{}, coreError(ErrCodeValidation, ErrValidation, err.Error())
	}
	if replyTo != "" {
		err := s.call(ctx, func() error {
			if orig, ok := s.ledger.Get(replyTo); ok {
				msg.ReplyToMessage = orig.Snapshot()
			}
			return nil
		})
		if err != nil {
			return ChatMessage{}, err
		}
	}

	if err := s.send(ctx, Command{Kind: CommandSendMessage, Message: &msg}); err != nil {
		return ChatMessage{}, err
	}
	err := s.call(ctx, func() error {
		s.appendMessage(msg)
		return nil
	})
	return msg, err
}

// SendEmojiReaction emits a reaction and shows it locally right away.
func (s *Session) SendEmojiReaction(ctx context.Context, emoji string) (string, error) {
	if emoji == "" {
		return "", coreError(ErrCodeValidation, ErrValidation, "emoji required")
	}
	r := Reaction{ID: uuid.NewString(), Emoji: emoji, ParticipantID: s.cfg.Self.ID}
	if err := s.send(ctx, Command{Kind: CommandEmojiReaction, Reaction: &r}); err != nil {
		return "", err
	}
	err := s.call(ctx, func() error {
		s.scheduleReaction(r)
		return nil
	})
	return r.ID, err
}

// ToggleHand raises or lowers the local participant's hand.
func (s *Session) ToggleHand(ctx context.Context, raised bool) error {
	if err := s.send(ctx, Command{Kind: CommandToggleHand, Raised: raised}); err != nil {
		return err
	}
	return s.call(ctx, func() error {
		err := s.registry.ApplyUpdate(s.cfg.Self.ID, ParticipantPatch{HandRaised: &raised})
		if errors.Is(err, ErrStaleReference) {
			return nil
		}
		return err
	})
}

// SetSelfMuted flips the local self mute. While host-muted it fails with ErrMutedByModerator
// before anything is sent.
func (s *Session) SetSelfMuted(ctx context.Context, muted bool) error {
	err := s.call(ctx, func() error {
		if err := s.moderator.CanSelfToggle(s.cfg.Self.ID); err != nil {
			if errors.Is(err, ErrMutedByModerator) {
				s.notify(Notice{Kind: NoticeMuteRejected, ParticipantID: s.cfg.Self.ID, Reason: err.Error()})
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.send(ctx, Command{Kind: CommandSelfMute, Muted: muted}); err != nil {
		return err
	}
	return s.call(ctx, func() error {
		return s.moderator.SetSelfMuted(s.cfg.Self.ID, muted)
	})
}

// PromoteToSpeaker grants the speaker role to a participant.
func (s *Session) PromoteToSpeaker(ctx context.Context, participantID string) error {
	return s.moderate(ctx, ActionPromote, participantID)
}

// MuteParticipant host-mutes a participant.
func (s *Session) MuteParticipant(ctx context.Context, participantID string) error {
	return s.moderate(ctx, ActionMute, participantID)
}

// UnmuteParticipant clears a host mute.
func (s *Session) UnmuteParticipant(ctx context.Context, participantID string) error {
	return s.moderate(ctx, ActionUnmute, participantID)
}

// UnmuteAll clears every host mute.
func (s *Session) UnmuteAll(ctx context.Context) error {
	return s.moderate(ctx, ActionUnmuteAll, "")
}

// KickParticipant removes a participant for the rest of the session.
func (s *Session) KickParticipant(ctx context.Context, participantID string) error {
	return s.moderate(ctx, ActionKick, participantID)
}

// SendEmergencyAlert raises an alert for everyone in the sanctuary.
func (s *Session) SendEmergencyAlert(ctx context.Context, kind, message string) error {
	if message == "" {
		return coreError(ErrCodeValidation, ErrValidation, "alert message required")
	}
	alert := Alert{Kind: kind, Message: message, From: s.cfg.Self.Alias, Timestamp: s.clock.Now()}
	return s.send(ctx, Command{Kind: CommandEmergencyAlert, Alert: &alert})
}

// Leave announces the departure and tears the session down. A failed announce does not
// keep the session alive.
func (s *Session) Leave(ctx context.Context) error {
	if err := s.send(ctx, Command{Kind: CommandLeave}); err != nil {
		s.log.Warn().Err(err).Msg("leave announce failed")
	}
	err := s.call(ctx, func() error {
		s.exit(nil)
		return nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// Resync asks the relay for a fresh snapshot. The participant view is rebuilt from the
// replayed joins; the ledger is kept and the history is merged by id.
func (s *Session) Resync(ctx context.Context) error {
	if err := s.send(ctx, Command{Kind: CommandResync}); err != nil {
		return err
	}
	return s.call(ctx, func() error {
		s.registry.Reset()
		s.stale = true
		s.notify(Notice{Kind: NoticeParticipants})
		return nil
	})
}

func (s *Session) moderate(ctx context.Context, action ModerationAction, targetID string) error {
	err := s.call(ctx, func() error {
		return s.moderator.Authorize(s.cfg.Self.ID, action, targetID)
	})
	if errors.Is(err, ErrStaleReference) {
		s.log.Debug().Str("action", string(action)).Str("participant_id", targetID).Msg("moderation target gone")
		return nil
	}
	if err != nil {
		return err
	}

	cmd := Command{Kind: commandFor(action), TargetID: targetID}
	err = s.send(ctx, cmd)
	if err != nil && errors.Is(err, ErrTransport) && s.fallback != nil {
		s.log.Warn().Err(err).Str("action", string(action)).Msg("socket unavailable, using moderation fallback")
		if ferr := s.fallback.Moderate(ctx, s.cfg.SessionID, action, targetID); ferr != nil {
			return fmt.Errorf("moderation fallback: %w", errors.Join(err, ferr))
		}
		err = nil
	}
	if err != nil {
		return err
	}

	// The send may have raced with other events; re-check the target before applying.
	return s.call(ctx, func() error {
		if action.Targeted() && !s.registry.Has(targetID) {
			return nil
		}
		s.applyModeration(action, targetID)
		return nil
	})
}

func commandFor(action ModerationAction) CommandKind {
	switch action {
	case ActionMute:
		return CommandMute
	case ActionUnmute:
		return CommandUnmute
	case ActionUnmuteAll:
		return CommandUnmuteAll
	case ActionKick:
		return CommandKick
	default:
		return CommandPromote
	}
}

func (s *Session) apply(ev Event) {
	if ev.Kind != EventConnectionChanged {
		s.stale = false
	}
	logger := s.log.With().Str("event", ev.Kind.String()).Str("participant_id", ev.ParticipantID).Logger()

	switch ev.Kind {
	case EventParticipantJoined, EventAudioParticipantJoined:
		if s.registry.IsKicked(ev.Participant.ID) {
			logger.Debug().Str("participant_id", ev.Participant.ID).Msg("ignoring join for kicked participant")
			return
		}
		if s.registry.ApplyJoin(*ev.Participant) {
			s.notify(Notice{Kind: NoticeParticipants, ParticipantID: ev.Participant.ID})
		}
	case EventParticipantLeft, EventAudioParticipantLeft:
		if s.registry.ApplyLeave(ev.ParticipantID) {
			s.notify(Notice{Kind: NoticeParticipants, ParticipantID: ev.ParticipantID})
		}
	case EventParticipantUpdated:
		s.update(logger, ev.ParticipantID, *ev.Patch)
	case EventHandRaised:
		raised := ev.Raised
		s.update(logger, ev.ParticipantID, ParticipantPatch{HandRaised: &raised})
	case EventParticipantMuted, EventParticipantUnmuted:
		// The relay already accepted this toggle; it may arrive after a later force_muted.
		if err := s.registry.ApplyMute(ev.ParticipantID, MuteConfirmed, ev.Kind == EventParticipantMuted); err != nil {
			logger.Debug().Err(err).Msg("dropping mute for unknown participant")
			break
		}
		s.notify(Notice{Kind: NoticeParticipants, ParticipantID: ev.ParticipantID})
	case EventParticipantKicked:
		s.applyModeration(ActionKick, ev.ParticipantID)
	case EventParticipantPromoted:
		s.applyModeration(ActionPromote, ev.ParticipantID)
	case EventForceMuted:
		s.applyModeration(ActionMute, ev.ParticipantID)
	case EventForceUnmuted:
		if ev.ParticipantID == "" {
			s.applyModeration(ActionUnmuteAll, "")
		} else {
			s.applyModeration(ActionUnmute, ev.ParticipantID)
		}
	case EventNewMessage:
		s.appendMessage(*ev.Message)
	case EventHistory:
		if n := s.ledger.Seed(ev.Messages); n > 0 {
			s.mirrorLedger()
			s.notify(Notice{Kind: NoticeMessage})
		}
	case EventEmojiReaction:
		s.scheduleReaction(*ev.Reaction)
	case EventEmergencyAlert:
		logger.Warn().Str("kind", ev.Alert.Kind).Msg("emergency alert")
		s.notify(Notice{Kind: NoticeEmergencyAlert, Alert: ev.Alert})
	case EventSessionEnded:
		logger.Info().Str("reason", ev.Reason).Msg("sanctuary ended")
		s.notify(Notice{Kind: NoticeSessionEnded, Reason: ev.Reason})
		s.exit(coreError(ErrCodeSessionClosed, ErrSessionClosed, "sanctuary ended: "+ev.Reason))
	case EventConnectionChanged:
		if ev.Connection == s.connection {
			return
		}
		s.connection = ev.Connection
		if ev.Connection == StatusDisconnected {
			s.stale = true
		}
		logger.Info().Str("status", string(ev.Connection)).Msg("connection changed")
		s.notify(Notice{Kind: NoticeConnection, Connection: ev.Connection})
	}
}

func (s *Session) update(logger zerolog.Logger, id string, patch ParticipantPatch) {
	if err := s.registry.ApplyUpdate(id, patch); err != nil {
		logger.Warn().Err(err).Msg("dropping update for unknown participant")
		return
	}
	s.notify(Notice{Kind: NoticeParticipants, ParticipantID: id})
}

func (s *Session) applyModeration(action ModerationAction, targetID string) {
	if err := s.moderator.Apply(action, targetID); err != nil {
		s.log.Debug().Err(err).Str("action", string(action)).Str("participant_id", targetID).Msg("moderation no-op")
		if action == ActionKick && targetID == s.cfg.Self.ID {
			s.kickedSelf()
		}
		return
	}
	s.notify(Notice{Kind: NoticeParticipants, ParticipantID: targetID})
	if action == ActionKick && targetID == s.cfg.Self.ID {
		s.kickedSelf()
	}
}

func (s *Session) kickedSelf() {
	s.log.Info().Msg("removed from sanctuary")
	s.notify(Notice{Kind: NoticeKicked, ParticipantID: s.cfg.Self.ID})
	s.exit(coreError(ErrCodeParticipantKicked, ErrKicked, "removed from sanctuary by a moderator"))
}

func (s *Session) appendMessage(m ChatMessage) {
	if !s.ledger.AppendOrDedup(m) {
		return
	}
	s.mirrorLedger()
	s.notify(Notice{Kind: NoticeMessage, Message: &m})
}

func (s *Session) scheduleReaction(r Reaction) {
	stored, added := s.reactions.ScheduleReaction(r)
	if added {
		s.notify(Notice{Kind: NoticeReactionAdded, Reaction: &stored})
	}
}

// expireReaction runs on the timer goroutine; the removal itself happens on the loop.
func (s *Session) expireReaction(id string) {
	s.post(func() {
		if s.reactions.Remove(id) {
			s.notify(Notice{Kind: NoticeReactionExpired, Reaction: &Reaction{ID: id}})
		}
	})
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		// Drop if slow consumer.
	}
}

func (s *Session) exit(err error) {
	if s.exiting {
		return
	}
	s.exiting = true
	s.exitErr = err
}

func (s *Session) send(ctx context.Context, cmd Command) error {
	select {
	case <-s.done:
		return coreError(ErrCodeSessionClosed, ErrSessionClosed, ErrSessionClosed.Error())
	default:
	}
	cmd.SessionID = s.cfg.SessionID
	if err := s.transport.Send(ctx, cmd); err != nil {
		if errors.Is(err, ErrTransport) {
			return err
		}
		return fmt.Errorf("%w: send %s: %w", ErrTransport, cmd.Kind, err)
	}
	return nil
}

// post queues fn for the loop. It returns false once the session is gone.
func (s *Session) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.inbox <- func() { errc <- fn() }:
	case <-s.done:
		return coreError(ErrCodeSessionClosed, ErrSessionClosed, ErrSessionClosed.Error())
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-s.done:
		select {
		case err := <-errc:
			return err
		default:
			return coreError(ErrCodeSessionClosed, ErrSessionClosed, ErrSessionClosed.Error())
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) restore(ctx context.Context) {
	if s.cache == nil {
		return
	}
	msgs, err := s.cache.Load(ctx, s.cfg.SessionID)
	if err != nil {
		s.log.Warn().Err(err).Msg("cache restore failed, starting empty")
		return
	}
	if s.ledger.Seed(msgs) > 0 {
		s.stale = true
	}
}

func (s *Session) mirrorLedger() {
	if s.cache == nil {
		return
	}
	snapshot := s.ledger.Messages()
	select {
	case <-s.mirror:
	default:
	}
	s.mirror <- snapshot
}

func (s *Session) mirrorLoop() {
	defer close(s.mirrorDone)
	for msgs := range s.mirror {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CacheTimeout)
		if err := s.cache.Save(ctx, s.cfg.SessionID, msgs); err != nil {
			s.log.Warn().Err(err).Int("messages", len(msgs)).Msg("cache mirror failed")
		}
		cancel()
	}
}

func (s *Session) teardown() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil
	s.reactions.Stop()
	if s.audio != nil {
		if err := s.audio.Close(); err != nil {
			s.log.Warn().Err(err).Msg("release audio capture")
		}
		s.audio = nil
	}
	close(s.mirror)
	<-s.mirrorDone
	close(s.done)
	close(s.notices)
	s.log.Info().Msg("session closed")
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/sanctuary/internal/api"
	"github.com/vovakirdan/sanctuary/internal/cache"
	"github.com/vovakirdan/sanctuary/internal/config"
	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/kv"
	"github.com/vovakirdan/sanctuary/internal/kv/redis"
	"github.com/vovakirdan/sanctuary/internal/kv/sqlite"
	"github.com/vovakirdan/sanctuary/internal/proto"
	"github.com/vovakirdan/sanctuary/internal/recovery"
	"github.com/vovakirdan/sanctuary/internal/stream"
)

// streamGrace is how long a session may keep draining events after its stream ended.
const streamGrace = 2 * time.Second

// OpenKV opens the local key-value backend named by cfg.Driver.
func OpenKV(cfg config.StorageConfig) (kv.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return kv.NewMemory(), nil
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "redis":
		return redis.New(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Client bundles the local storage and relay clients behind the terminal commands.
type Client struct {
	cfg config.ClientConfig
	kv  kv.Store
	log *zerolog.Logger

	Cache    *cache.Store
	Tokens   *recovery.TokenStore
	API      *api.Client
	Recovery *recovery.Service
}

// NewClient opens local storage and builds the relay clients.
func NewClient(cfg config.ClientConfig, logger *zerolog.Logger) (*Client, error) {
	store, err := OpenKV(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return newClient(cfg, store, logger), nil
}

func newClient(cfg config.ClientConfig, store kv.Store, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	messages := cache.New(store, cache.WithTTL(cfg.CacheTTL), cache.WithLogger(logger))
	tokens := recovery.NewTokenStore(store, nil, cfg.HostTokenTTL, logger)
	relayAPI := api.New(cfg.APIURL, cfg.RequestTimeout, logger)
	return &Client{
		cfg:      cfg,
		kv:       store,
		log:      logger,
		Cache:    messages,
		Tokens:   tokens,
		API:      relayAPI,
		Recovery: recovery.NewService(relayAPI, tokens,
			recovery.WithClearer(messages),
			recovery.WithExpiringSoon(cfg.ExpiringSoon),
			recovery.WithLogger(logger),
		),
	}
}

// Close releases local storage.
func (c *Client) Close() error {
	return c.kv.Close()
}

// Create creates a sanctuary on the relay and keeps its host token on this device.
func (c *Client) Create(ctx context.Context, topic, mode string, duration time.Duration) (recovery.SanctuaryInfo, error) {
	resp, err := c.API.CreateSanctuary(ctx, proto.CreateSanctuaryRequest{
		Topic:           topic,
		Mode:            mode,
		DurationMinutes: int(duration / time.Minute),
	})
	if err != nil {
		return recovery.SanctuaryInfo{}, err
	}
	if _, err := c.Recovery.Remember(ctx, resp.Sanctuary.ID, resp.HostToken); err != nil {
		return recovery.SanctuaryInfo{}, fmt.Errorf("store host token: %w", err)
	}
	info, err := c.Recovery.VerifyToken(ctx, resp.HostToken)
	if err != nil {
		return recovery.SanctuaryInfo{}, err
	}
	return info, nil
}

// End closes a sanctuary hosted from this device and forgets it locally.
func (c *Client) End(ctx context.Context, sessionID string) error {
	ht, err := c.Tokens.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	err = c.API.EndSanctuary(ctx, sessionID, ht.Token)
	if err != nil && !errors.Is(err, api.ErrNotFound) && !errors.Is(err, api.ErrExpired) {
		return err
	}
	return c.Recovery.Forget(ctx, sessionID)
}

// JoinOptions describes how to enter a sanctuary.
type JoinOptions struct {
	SessionID   string
	Alias       string
	AvatarIndex int
	Audio       bool
}

// Sanctuary is an open session and the event stream feeding it.
type Sanctuary struct {
	Session *core.Session
	Stream  *stream.Client
	IsHost  bool
	log     *zerolog.Logger
}

// Join opens a session. A host token stored for the sanctuary is presented to the relay.
func (c *Client) Join(ctx context.Context, opts JoinOptions) (*Sanctuary, error) {
	if opts.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	alias := opts.Alias
	if alias == "" {
		alias = c.cfg.Alias
	}

	var hostToken string
	_, ht, err := c.Recovery.Recover(ctx, opts.SessionID)
	switch {
	case err == nil:
		hostToken = ht.Token
	case errors.Is(err, recovery.ErrNotFound), errors.Is(err, recovery.ErrExpired):
		// guest
	case errors.Is(err, core.ErrTransport):
		c.log.Warn().Err(err).Str("session_id", opts.SessionID).Msg("could not verify host token, presenting it anyway")
		hostToken = ht.Token
	default:
		return nil, fmt.Errorf("recover host token: %w", err)
	}

	self := core.Participant{
		ID:               uuid.NewString(),
		Alias:            alias,
		AvatarIndex:      opts.AvatarIndex,
		IsHost:           hostToken != "",
		ConnectionStatus: core.StatusConnecting,
	}
	logger := c.log.With().Str("session_id", opts.SessionID).Logger()

	client := stream.New(stream.Config{
		URL: c.cfg.ServerURL,
		Hello: proto.HelloData{
			SessionID:     opts.SessionID,
			ParticipantID: self.ID,
			Alias:         self.Alias,
			AvatarIndex:   self.AvatarIndex,
			HostToken:     hostToken,
			Audio:         opts.Audio,
		},
		InitialInterval: c.cfg.Reconnect.InitialInterval,
		MaxInterval:     c.cfg.Reconnect.MaxInterval,
		MaxElapsed:      c.cfg.Reconnect.MaxElapsed,
	}, &logger)

	sessionOpts := []core.Option{core.WithLogger(c.log), core.WithCache(c.Cache)}
	if hostToken != "" {
		sessionOpts = append(sessionOpts, core.WithFallback(c.API.Fallback(hostToken)))
	}
	session := core.NewSession(core.SessionConfig{
		SessionID:         opts.SessionID,
		Self:              self,
		ReactionTTL:       c.cfg.ReactionTTL,
		ReactionCap:       c.cfg.ReactionCap,
		LedgerMaxMessages: c.cfg.LedgerMaxMessages,
	}, client, sessionOpts...)

	if err := c.Cache.Touch(ctx, opts.SessionID); err != nil {
		c.log.Warn().Err(err).Str("session_id", opts.SessionID).Msg("failed to record last access")
	}
	return &Sanctuary{Session: session, Stream: client, IsHost: self.IsHost, log: &logger}, nil
}

// Run drives the session and its stream until either ends. The session's own exit
// reason (left, kicked, ended) wins over the stream's.
func (s *Sanctuary) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionErr := make(chan error, 1)
	streamErr := make(chan error, 1)
	go func() { sessionErr <- s.Session.Run(ctx) }()

	// The relay snapshot follows the welcome; nothing may be dispatched before the session listens.
	select {
	case <-s.Session.Ready():
	case err := <-sessionErr:
		return cleanExit(err)
	}
	go func() { streamErr <- s.Stream.Run(ctx) }()

	select {
	case err := <-sessionErr:
		cancel()
		<-streamErr
		return cleanExit(err)
	case err := <-streamErr:
		var serr error
		select {
		case serr = <-sessionErr:
		case <-time.After(streamGrace):
			cancel()
			serr = <-sessionErr
		}
		if serr = cleanExit(serr); serr != nil {
			return serr
		}
		if stream.IsClosed(err) {
			return nil
		}
		s.log.Error().Err(err).Msg("event stream failed")
		return err
	}
}

func cleanExit(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

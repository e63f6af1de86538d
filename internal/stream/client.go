package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
)

// Config controls the relay connection.
type Config struct {
	URL   string
	Hello proto.HelloData

	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed bounds one reconnect attempt series; Run returns once it is exceeded.
	MaxElapsed   time.Duration
	WriteTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 5 * time.Minute
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Hello.Protocol == 0 {
		c.Hello.Protocol = proto.ProtocolVersion
	}
}

// Client is the event stream to a relay. It satisfies core.Transport.
// Delivery is at-least-once: after a reconnect the relay replays a snapshot.
type Client struct {
	cfg Config
	log *zerolog.Logger

	mu       sync.RWMutex
	handlers map[core.EventKind]map[uint64]func(core.Event)
	nextSub  uint64
	conn     *websocket.Conn
	status   core.ConnectionStatus

	welcomeOnce sync.Once
	welcomed    chan struct{}
	welcome     proto.WelcomeData
}

// New builds a client. Call Run to connect.
func New(cfg Config, logger *zerolog.Logger) *Client {
	cfg.withDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		cfg:      cfg,
		log:      logger,
		handlers: make(map[core.EventKind]map[uint64]func(core.Event)),
		status:   core.StatusConnecting,
		welcomed: make(chan struct{}),
	}
}

// Subscribe registers handler for one event kind. Handlers run on the read goroutine.
func (c *Client) Subscribe(kind core.EventKind, handler func(core.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[kind] == nil {
		c.handlers[kind] = make(map[uint64]func(core.Event))
	}
	id := c.nextSub
	c.nextSub++
	c.handlers[kind][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.handlers[kind], id)
		})
	}
}

// Send writes a command. It fails with core.ErrTransport while disconnected.
func (c *Client) Send(ctx context.Context, cmd core.Command) error {
	inbound, err := Encode(cmd)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", core.ErrTransport)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, inbound); err != nil {
		return fmt.Errorf("%w: write %s: %w", core.ErrTransport, inbound.Type, err)
	}
	return nil
}

// Status returns the current link state.
func (c *Client) Status() core.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Welcome waits for the relay to acknowledge the first hello.
func (c *Client) Welcome(ctx context.Context) (proto.WelcomeData, error) {
	select {
	case <-c.welcomed:
		return c.welcome, nil
	case <-ctx.Done():
		return proto.WelcomeData{}, ctx.Err()
	}
}

// Run connects, reads events and reconnects with exponential backoff until ctx is done
// or a reconnect series exceeds MaxElapsed.
func (c *Client) Run(ctx context.Context) error {
	defer c.setStatus(core.StatusDisconnected)

	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", core.ErrTransport, err)
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setStatus(core.StatusConnected)

		err = c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			conn.Close(websocket.StatusNormalClosure, "bye")
			return ctx.Err()
		}
		conn.CloseNow()

		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			c.log.Info().Msg("relay closed the connection")
			return nil
		case websocket.StatusPolicyViolation:
			return fmt.Errorf("relay rejected session: %w", err)
		}
		c.log.Warn().Err(err).Msg("relay connection lost, reconnecting")
		c.setStatus(core.StatusDisconnected)
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		c.setStatus(core.StatusConnecting)
		conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		if err := c.hello(ctx, conn); err != nil {
			conn.CloseNow()
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.cfg.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn().Err(err).Dur("retry_in", next).Str("url", c.cfg.URL).Msg("relay dial failed")
		}),
	)
}

func (c *Client) hello(ctx context.Context, conn *websocket.Conn) error {
	c.mu.RLock()
	hello := c.cfg.Hello
	c.mu.RUnlock()

	payload, err := json.Marshal(hello)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal hello: %w", err))
	}
	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, proto.Inbound{Type: proto.InboundTypeHello, Data: payload})
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}

		switch frame.Type {
		case proto.OutboundTypeWelcome:
			c.onWelcome(frame)
		case proto.OutboundTypeEvent:
			ev, err := Decode(frame)
			if err != nil {
				c.log.Warn().Err(err).Str("event", frame.Event).Msg("dropping malformed event")
				continue
			}
			c.dispatch(ev)
		case proto.OutboundTypeError:
			if frame.Error != nil {
				c.log.Warn().Str("code", frame.Error.Code).Str("msg", frame.Error.Msg).Msg("relay error")
			}
		default:
			c.log.Debug().Str("type", frame.Type).Msg("ignoring unknown frame")
		}
	}
}

func (c *Client) onWelcome(frame proto.Frame) {
	var w proto.WelcomeData
	if err := json.Unmarshal(frame.Data, &w); err != nil {
		c.log.Warn().Err(err).Msg("malformed welcome")
		return
	}

	// Reconnects present the same identity so the relay can restore it.
	c.mu.Lock()
	c.cfg.Hello.ParticipantID = w.ParticipantID
	c.cfg.Hello.ResumeToken = w.ResumeToken
	c.mu.Unlock()

	c.welcomeOnce.Do(func() {
		c.welcome = w
		close(c.welcomed)
	})
	c.log.Info().Str("participant_id", w.ParticipantID).Bool("is_host", w.IsHost).Msg("joined sanctuary")
}

func (c *Client) dispatch(ev core.Event) {
	c.mu.RLock()
	hs := make([]func(core.Event), 0, len(c.handlers[ev.Kind]))
	for _, h := range c.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	c.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

func (c *Client) setStatus(status core.ConnectionStatus) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()

	if changed {
		c.dispatch(core.Event{Kind: core.EventConnectionChanged, Connection: status})
	}
}

// IsClosed reports whether err is an orderly end of the stream.
func IsClosed(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

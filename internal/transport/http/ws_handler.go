package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/sanctuary/internal/auth"
	"github.com/vovakirdan/sanctuary/internal/config"
	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
	"github.com/vovakirdan/sanctuary/internal/relay"
)

const (
	helloTimeout = 10 * time.Second

	errCodeHelloRequired      = "hello_required"
	errCodeUnsupportedVersion = "unsupported_version"
	errCodeUnauthorized       = "unauthorized"
	errCodeNotFound           = "not_found"
	errCodeRateLimited        = "rate_limited"
	errCodeUnavailable        = "unavailable"
	errCodeIdentityTaken      = "identity_taken"
)

// WSHandler upgrades HTTP connections and bridges them to relay clients.
type WSHandler struct {
	hub               *relay.Hub
	auth              *auth.Service
	log               *zerolog.Logger
	maxMessageBytes   int64
	commandsPerMinute int
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *relay.Hub, authService *auth.Service, cfg *config.RelayConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:               hub,
		auth:              authService,
		log:               logger,
		maxMessageBytes:   cfg.MaxMessageBytes,
		commandsPerMinute: cfg.CommandsPerMinute,
	}
}

// closedByHub ends the write loop when the hub closes a client's events.
type closedByHub struct {
	reason relay.CloseReason
}

func (e closedByHub) Error() string { return e.reason.String() }

// rejection is a failed hello: an optional error frame and a close status.
type rejection struct {
	frame  *proto.Outbound
	status websocket.StatusCode
	reason string
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client, rej := h.handshake(ctx, conn)
	if rej != nil {
		if rej.frame != nil {
			_ = wsjson.Write(ctx, conn, rej.frame)
		}
		conn.Close(rej.status, rej.reason)
		return
	}
	defer h.hub.Leave(client)

	logger := h.log.With().Str("sanctuary_id", client.SanctuaryID).Str("participant_id", client.ID).Logger()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()

	err = <-errCh

	var byHub closedByHub
	if errors.As(err, &byHub) {
		// Send our close frame before the cancelled read tears the connection down.
		status, reason := closeStatus(byHub.reason)
		conn.Close(status, reason)
		cancel()
		<-errCh
		logger.Debug().Str("reason", reason).Msg("ws closed by relay")
		return
	}

	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}
	conn.Close(status, reason)
}

// handshake waits for the hello, verifies the optional host token and joins the hub.
// The welcome and the participant/history snapshot are written before it returns.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (*relay.Client, *rejection) {
	reject := func(code, msg string, status websocket.StatusCode) *rejection {
		return &rejection{
			frame:  &proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: code, Msg: msg}},
			status: status,
			reason: msg,
		}
	}

	hctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var inbound proto.Inbound
	if err := wsjson.Read(hctx, conn, &inbound); err != nil {
		h.log.Debug().Err(err).Msg("no hello received")
		return nil, &rejection{status: websocket.StatusPolicyViolation, reason: "hello required"}
	}
	if inbound.Type != proto.InboundTypeHello {
		return nil, reject(errCodeHelloRequired, "first message must be hello", websocket.StatusPolicyViolation)
	}
	var hello proto.HelloData
	if err := json.Unmarshal(inbound.Data, &hello); err != nil {
		return nil, reject(errCodeBadRequest, "malformed hello", websocket.StatusPolicyViolation)
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return nil, reject(errCodeUnsupportedVersion, "unsupported protocol version", websocket.StatusPolicyViolation)
	}
	if hello.SessionID == "" {
		return nil, reject(errCodeBadRequest, "session_id is required", websocket.StatusPolicyViolation)
	}

	isHost := false
	if hello.HostToken != "" {
		if _, err := h.auth.VerifyFor(ctx, hello.SessionID, hello.HostToken); err != nil {
			h.log.Debug().Err(err).Str("sanctuary_id", hello.SessionID).Msg("host token rejected")
			return nil, reject(errCodeUnauthorized, "invalid host token", websocket.StatusPolicyViolation)
		}
		isHost = true
	}

	client, snapshot, err := h.hub.Join(ctx, relay.JoinRequest{
		SanctuaryID:   hello.SessionID,
		ParticipantID: hello.ParticipantID,
		ResumeToken:   hello.ResumeToken,
		Alias:         hello.Alias,
		AvatarIndex:   hello.AvatarIndex,
		IsHost:        isHost,
	})
	switch {
	case errors.Is(err, relay.ErrNotFound):
		return nil, reject(errCodeNotFound, "sanctuary not found", websocket.StatusPolicyViolation)
	case errors.Is(err, relay.ErrEnded):
		// A normal close after session_ended lets the client tear down like any other ending.
		return nil, &rejection{
			frame:  &proto.Outbound{Type: proto.OutboundTypeEvent, Event: core.EventSessionEnded.String(), Data: proto.SessionEndedData{Reason: "ended"}},
			status: websocket.StatusNormalClosure,
			reason: "session ended",
		}
	case errors.Is(err, relay.ErrIdentityTaken):
		return nil, reject(errCodeIdentityTaken, "participant id is in use", websocket.StatusPolicyViolation)
	case errors.Is(err, core.ErrKicked):
		return nil, reject(core.ErrCodeParticipantKicked, "participant was removed from this sanctuary", websocket.StatusPolicyViolation)
	case errors.Is(err, relay.ErrHubClosed):
		return nil, reject(errCodeUnavailable, "relay shutting down", websocket.StatusServiceRestart)
	case err != nil:
		h.log.Error().Err(err).Str("sanctuary_id", hello.SessionID).Msg("join failed")
		return nil, reject(errCodeUnavailable, "join failed", websocket.StatusInternalError)
	}

	welcome := proto.Outbound{
		Type: proto.OutboundTypeWelcome,
		Data: proto.WelcomeData{
			SessionID:     client.SanctuaryID,
			ParticipantID: client.ID,
			IsHost:        client.IsHost,
			Protocol:      proto.ProtocolVersion,
			ResumeToken:   client.ResumeToken,
		},
	}
	for _, out := range append([]proto.Outbound{welcome}, snapshot...) {
		if err := wsjson.Write(ctx, conn, out); err != nil {
			h.hub.Leave(client)
			return nil, &rejection{status: websocket.StatusInternalError, reason: "write failed"}
		}
	}
	return client, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *relay.Client, logger *zerolog.Logger) error {
	limiter := newRateLimiter(h.commandsPerMinute)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			logger.Debug().Err(err).Msg("read ws inbound")
			return err
		}

		if !allow(limiter) {
			if err := h.writeError(ctx, conn, &proto.Error{Code: errCodeRateLimited, Msg: "too many commands"}); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			logger.Debug().Err(err).Str("type", inbound.Type).Msg("failed to map inbound")
			protoErr = badRequest("malformed " + inbound.Type + " payload")
		}
		if protoErr != nil {
			if err := h.writeError(ctx, conn, protoErr); err != nil {
				return err
			}
			continue
		}
		h.hub.Submit(client, *cmd)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *relay.Client, logger *zerolog.Logger) error {
	for {
		select {
		case out, ok := <-client.Events:
			if !ok {
				return closedByHub{reason: client.CloseReason()}
			}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				logger.Debug().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, e *proto.Error) error {
	return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: e})
}

// closeStatus maps why the hub let a client go to the status a stream client acts on:
// normal closes stop it, policy violations are terminal, anything else reconnects.
func closeStatus(reason relay.CloseReason) (websocket.StatusCode, string) {
	switch reason {
	case relay.CloseKicked:
		return websocket.StatusPolicyViolation, reason.String()
	case relay.CloseReplaced:
		return websocket.StatusGoingAway, reason.String()
	case relay.CloseShutdown:
		return websocket.StatusServiceRestart, reason.String()
	default:
		return websocket.StatusNormalClosure, reason.String()
	}
}

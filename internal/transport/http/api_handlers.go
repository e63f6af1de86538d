package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/sanctuary/internal/auth"
	"github.com/vovakirdan/sanctuary/internal/callengine"
	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
	"github.com/vovakirdan/sanctuary/internal/relay"
	"github.com/vovakirdan/sanctuary/internal/store"
)

const reasonEndedByHost = "ended by host"

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	authService *auth.Service
	hub         *relay.Hub
	sanctuaries store.SanctuaryStore
	engine      callengine.Engine
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, hub *relay.Hub, sanctuaries store.SanctuaryStore, engine callengine.Engine, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		hub:         hub,
		sanctuaries: sanctuaries,
		engine:      engine,
		log:         logger,
	}
}

func sanctuaryData(s *store.Sanctuary) proto.SanctuaryData {
	return proto.SanctuaryData{
		ID:               s.ID,
		Topic:            s.Topic,
		Mode:             string(s.Mode),
		CreatedAt:        s.CreatedAt.UnixMilli(),
		ExpiresAt:        s.ExpiresAt.UnixMilli(),
		Ended:            s.EndedAt != nil,
		MessageCount:     s.MessageCount,
		ParticipantCount: s.ParticipantCount,
	}
}

// CreateSanctuary handles sanctuary creation. The host token is only ever returned here.
// POST /api/sanctuaries
func (h *APIHandlers) CreateSanctuary(c *gin.Context) {
	var req proto.CreateSanctuaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create sanctuary request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	sanc, token, err := h.authService.CreateSanctuary(c.Request.Context(), req.Topic, store.Mode(req.Mode), duration)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidTopic):
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "topic must be 1 to 120 characters"})
		case errors.Is(err, auth.ErrInvalidMode):
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "mode must be text or audio"})
		default:
			h.log.Error().Err(err).Msg("failed to create sanctuary")
			c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("sanctuary_id", sanc.ID).Str("mode", string(sanc.Mode)).Time("expires_at", sanc.ExpiresAt).Msg("sanctuary created")
	c.JSON(http.StatusCreated, proto.CreateSanctuaryResponse{Sanctuary: sanctuaryData(sanc), HostToken: token})
}

// VerifyHost resolves a host token. Unknown tokens are 404, inactive sanctuaries 410.
// GET /api/host/verify
func (h *APIHandlers) VerifyHost(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, proto.ErrorResponse{Error: "missing authorization header"})
		return
	}

	sanc, err := h.authService.Verify(c.Request.Context(), token)
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, proto.ErrorResponse{Error: "unknown host token"})
		return
	case err != nil:
		h.log.Error().Err(err).Msg("failed to verify host token")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error"})
		return
	}
	if !sanc.Active(h.authService.Now()) {
		c.JSON(http.StatusGone, proto.ErrorResponse{Error: "sanctuary expired"})
		return
	}
	c.JSON(http.StatusOK, sanctuaryData(sanc))
}

// ListHost lists the sanctuaries of every token that still verifies, active or not.
// POST /api/host/sanctuaries
func (h *APIHandlers) ListHost(c *gin.Context) {
	var req proto.HostListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	owned, err := h.authService.ListOwned(c.Request.Context(), req.Tokens)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list host sanctuaries")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error"})
		return
	}

	resp := proto.HostListResponse{Sanctuaries: make([]proto.SanctuaryData, 0, len(owned))}
	for _, s := range owned {
		resp.Sanctuaries = append(resp.Sanctuaries, sanctuaryData(s))
	}
	c.JSON(http.StatusOK, resp)
}

// Moderate applies a moderation action for a host whose socket is down.
// POST /api/sanctuaries/:id/moderation
func (h *APIHandlers) Moderate(c *gin.Context) {
	var req proto.ModerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}
	action := core.ModerationAction(req.Action)
	if !action.Valid() {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "unknown moderation action"})
		return
	}

	sid := c.Param("id")
	err := h.hub.Moderate(c.Request.Context(), sid, action, req.ParticipantID)
	switch {
	case err == nil:
		h.log.Info().Str("sanctuary_id", sid).Str("action", req.Action).Str("participant_id", req.ParticipantID).Msg("moderation via http")
		c.Status(http.StatusNoContent)
	case errors.Is(err, core.ErrStaleReference):
		c.JSON(http.StatusConflict, proto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrValidation):
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, relay.ErrHubClosed):
		c.JSON(http.StatusServiceUnavailable, proto.ErrorResponse{Error: "relay shutting down"})
	default:
		h.log.Error().Err(err).Str("sanctuary_id", sid).Msg("failed to moderate")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error"})
	}
}

// EndSanctuary closes a sanctuary for everyone.
// DELETE /api/sanctuaries/:id
func (h *APIHandlers) EndSanctuary(c *gin.Context) {
	sid := c.Param("id")
	err := h.hub.End(c.Request.Context(), sid, reasonEndedByHost)
	switch {
	case err == nil:
		h.log.Info().Str("sanctuary_id", sid).Msg("sanctuary ended by host")
		c.Status(http.StatusNoContent)
	case errors.Is(err, relay.ErrNotFound):
		c.JSON(http.StatusNotFound, proto.ErrorResponse{Error: "sanctuary not found"})
	case errors.Is(err, relay.ErrHubClosed):
		c.JSON(http.StatusServiceUnavailable, proto.ErrorResponse{Error: "relay shutting down"})
	default:
		h.log.Error().Err(err).Str("sanctuary_id", sid).Msg("failed to end sanctuary")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error"})
	}
}

// AudioToken issues a media-server token for a live-audio sanctuary. The host and promoted
// speakers may publish; everyone else listens.
// POST /api/sanctuaries/:id/audio-token
func (h *APIHandlers) AudioToken(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusServiceUnavailable, proto.ErrorResponse{Error: "live audio is not enabled on this relay"})
		return
	}

	var req proto.AudioTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	sid := c.Param("id")
	sanc, err := h.sanctuaries.GetSanctuary(ctx, sid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, proto.ErrorResponse{Error: "sanctuary not found"})
		return
	case err != nil:
		h.log.Error().Err(err).Str("sanctuary_id", sid).Msg("failed to load sanctuary")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error"})
		return
	}
	if sanc.Mode != store.ModeAudio {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "sanctuary is not a live-audio sanctuary"})
		return
	}
	if !sanc.Active(h.authService.Now()) {
		c.JSON(http.StatusGone, proto.ErrorResponse{Error: "sanctuary expired"})
		return
	}

	canPublish := false
	if token, ok := bearerToken(c); ok {
		if _, err := h.authService.VerifyFor(ctx, sid, token); err == nil {
			canPublish = true
		}
	}
	if !canPublish {
		speaker, err := h.hub.IsSpeaker(ctx, sid, req.ParticipantID)
		if err != nil {
			h.log.Warn().Err(err).Str("sanctuary_id", sid).Msg("speaker lookup failed")
		}
		canPublish = speaker
	}

	info, err := h.engine.GenerateJoinInfo(ctx, sid, req.ParticipantID, req.Alias, canPublish)
	if err != nil {
		h.log.Error().Err(err).Str("sanctuary_id", sid).Msg("failed to generate audio token")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, proto.AudioTokenResponse{
		URL:        info.URL,
		Token:      info.Token,
		Room:       info.RoomName,
		CanPublish: info.CanPublish,
	})
}

package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/sanctuary/internal/auth"
	"github.com/vovakirdan/sanctuary/internal/proto"
	"github.com/vovakirdan/sanctuary/internal/store"
)

const (
	// ContextKeySanctuary is the context key for the sanctuary a host token resolved to.
	ContextKeySanctuary = "sanctuary"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// HostAuthMiddleware requires the host token of the sanctuary named by the :id path parameter.
func HostAuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			logger.Debug().Msg("missing or malformed authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, proto.ErrorResponse{Error: "missing authorization header"})
			return
		}

		sanc, err := authService.VerifyFor(c.Request.Context(), c.Param("id"), token)
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			logger.Debug().Err(err).Str("sanctuary_id", c.Param("id")).Msg("invalid host token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, proto.ErrorResponse{Error: "invalid host token"})
			return
		case errors.Is(err, store.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, proto.ErrorResponse{Error: "sanctuary not found"})
			return
		case err != nil:
			logger.Error().Err(err).Msg("failed to verify host token")
			c.AbortWithStatusJSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error"})
			return
		}

		c.Set(ContextKeySanctuary, sanc)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

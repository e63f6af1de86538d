package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/sanctuary/internal/auth"
	"github.com/vovakirdan/sanctuary/internal/callengine"
	"github.com/vovakirdan/sanctuary/internal/config"
	"github.com/vovakirdan/sanctuary/internal/relay"
	"github.com/vovakirdan/sanctuary/internal/store"
)

// NewServer builds the relay HTTP server: the event stream at /ws and the REST collaborator
// endpoints under /api. engine may be nil when live audio is disabled.
func NewServer(
	hub *relay.Hub,
	authService *auth.Service,
	sanctuaries store.SanctuaryStore,
	engine callengine.Engine,
	cfg *config.RelayConfig,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	handlers := NewAPIHandlers(authService, hub, sanctuaries, engine, logger)
	hostOnly := HostAuthMiddleware(authService, logger)

	api := router.Group("/api")
	api.POST("/sanctuaries", handlers.CreateSanctuary)
	api.DELETE("/sanctuaries/:id", hostOnly, handlers.EndSanctuary)
	api.POST("/sanctuaries/:id/moderation", hostOnly, handlers.Moderate)
	api.POST("/sanctuaries/:id/audio-token", handlers.AudioToken)
	api.GET("/host/verify", handlers.VerifyHost)
	api.POST("/host/sanctuaries", handlers.ListHost)

	// The websocket upgrade stays outside gin so the hijacked connection is left untouched.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, authService, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

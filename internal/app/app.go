package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/sanctuary/internal/auth"
	"github.com/vovakirdan/sanctuary/internal/callengine"
	"github.com/vovakirdan/sanctuary/internal/callengine/livekit"
	"github.com/vovakirdan/sanctuary/internal/config"
	"github.com/vovakirdan/sanctuary/internal/relay"
	"github.com/vovakirdan/sanctuary/internal/store"
	"github.com/vovakirdan/sanctuary/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/sanctuary/internal/transport/http"
)

// App wires together the relay hub, its store and the HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *relay.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the relay with provided configuration.
func New(cfg *config.RelayConfig, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.HostTokenSecret),
		Issuer:   "sanctuary-relay",
		Audience: "sanctuary-host",
		TTL:      cfg.HostTokenTTL,
	}
	authService := auth.NewService(st, jwtConfig, nil)

	hub := relay.NewHub(st,
		relay.WithLogger(logger),
		relay.WithHistoryLimit(cfg.HistoryLimit),
		relay.WithSweepInterval(cfg.SweepInterval),
	)

	var engine callengine.Engine
	if cfg.LiveKit.Enabled {
		engine = livekit.New(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.URL)
		logger.Info().Str("url", cfg.LiveKit.URL).Msg("live audio enabled")
	}

	server := transporthttp.NewServer(hub, authService, st, engine, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the hub and the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(hubCtx)
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("relay listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopHub()
		<-hubDone
		a.cleanup()
		return err
	case <-ctx.Done():
		// Hijacked websockets are not tracked by Shutdown; the hub closes them.
		stopHub()
		<-hubDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

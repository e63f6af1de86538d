package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/sanctuary/internal/api"
	"github.com/vovakirdan/sanctuary/internal/proto"
)

const (
	// DefaultRefreshInterval is the dashboard polling period.
	DefaultRefreshInterval = 30 * time.Second
	// DefaultExpiringSoon is the window in which an active sanctuary counts as expiring soon.
	DefaultExpiringSoon = time.Hour
)

var (
	// ErrNotFound means the token does not resolve to a sanctuary.
	ErrNotFound = api.ErrNotFound
	// ErrExpired means the token or its sanctuary has expired.
	ErrExpired = api.ErrExpired
)

// API is the relay's host-recovery surface.
type API interface {
	VerifyHost(ctx context.Context, token string) (proto.SanctuaryData, error)
	ListHost(ctx context.Context, tokens []string) ([]proto.SanctuaryData, error)
}

// SessionClearer drops locally cached state of a sanctuary.
type SessionClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

// SanctuaryInfo is a sanctuary as seen from the host dashboard.
type SanctuaryInfo struct {
	ID               string
	Topic            string
	Mode             string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Ended            bool
	MessageCount     int
	ParticipantCount int
}

// Active reports whether the sanctuary is still open at now.
func (s SanctuaryInfo) Active(now time.Time) bool {
	return !s.Ended && now.Before(s.ExpiresAt)
}

func infoFrom(d proto.SanctuaryData) SanctuaryInfo {
	return SanctuaryInfo{
		ID:               d.ID,
		Topic:            d.Topic,
		Mode:             d.Mode,
		CreatedAt:        time.UnixMilli(d.CreatedAt).UTC(),
		ExpiresAt:        time.UnixMilli(d.ExpiresAt).UTC(),
		Ended:            d.Ended,
		MessageCount:     d.MessageCount,
		ParticipantCount: d.ParticipantCount,
	}
}

// Analytics summarizes a dashboard listing.
type Analytics struct {
	Active            int
	ExpiringSoon      int
	Expired           int
	TotalMessages     int
	TotalParticipants int
	AverageEngagement float64
	// MostActiveSession is empty when there are no sanctuaries.
	MostActiveSession string
}

// Listing is the dashboard content.
type Listing struct {
	Sanctuaries []SanctuaryInfo
	Analytics   Analytics
}

// Service verifies host tokens and builds the host dashboard.
type Service struct {
	api          API
	tokens       *TokenStore
	clearer      SessionClearer
	clock        clock.Clock
	expiringSoon time.Duration
	log          *zerolog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects the clock used for analytics and refresh.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

// WithExpiringSoon overrides DefaultExpiringSoon.
func WithExpiringSoon(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.expiringSoon = d
		}
	}
}

// WithClearer drops cached messages when a sanctuary is forgotten.
func WithClearer(c SessionClearer) Option {
	return func(s *Service) { s.clearer = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// NewService builds the recovery service.
func NewService(relay API, tokens *TokenStore, opts ...Option) *Service {
	nop := zerolog.Nop()
	s := &Service{
		api:          relay,
		tokens:       tokens,
		clock:        clock.New(),
		expiringSoon: DefaultExpiringSoon,
		log:          &nop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Remember stores a freshly issued host token.
func (s *Service) Remember(ctx context.Context, sessionID, token string) (HostToken, error) {
	return s.tokens.Put(ctx, sessionID, token)
}

// VerifyToken resolves an opaque token: ErrNotFound, ErrExpired or a transport error otherwise.
func (s *Service) VerifyToken(ctx context.Context, token string) (SanctuaryInfo, error) {
	d, err := s.api.VerifyHost(ctx, token)
	if err != nil {
		return SanctuaryInfo{}, err
	}
	info := infoFrom(d)
	if !info.Active(s.clock.Now()) {
		return info, ErrExpired
	}
	return info, nil
}

// Recover verifies the stored token of sessionID and returns it for host re-authentication.
func (s *Service) Recover(ctx context.Context, sessionID string) (SanctuaryInfo, HostToken, error) {
	ht, err := s.tokens.Get(ctx, sessionID)
	if err != nil {
		return SanctuaryInfo{}, HostToken{}, err
	}
	info, err := s.VerifyToken(ctx, ht.Token)
	if errors.Is(err, ErrNotFound) {
		_ = s.tokens.Remove(ctx, sessionID)
	}
	return info, ht, err
}

// ListSanctuaries lists the sanctuaries owned by tokens with their analytics.
func (s *Service) ListSanctuaries(ctx context.Context, tokens []string) (Listing, error) {
	if len(tokens) == 0 {
		return Listing{}, nil
	}
	data, err := s.api.ListHost(ctx, tokens)
	if err != nil {
		return Listing{}, err
	}
	infos := make([]SanctuaryInfo, 0, len(data))
	for _, d := range data {
		infos = append(infos, infoFrom(d))
	}
	return Listing{Sanctuaries: infos, Analytics: Analyze(infos, s.clock.Now(), s.expiringSoon)}, nil
}

// Dashboard lists the sanctuaries of every live token kept on this device.
func (s *Service) Dashboard(ctx context.Context) (Listing, error) {
	stored, err := s.tokens.List(ctx)
	if err != nil {
		return Listing{}, err
	}
	tokens := make([]string, 0, len(stored))
	for _, ht := range stored {
		tokens = append(tokens, ht.Token)
	}
	return s.ListSanctuaries(ctx, tokens)
}

// Forget removes a sanctuary from the dashboard: its host token and cached messages.
func (s *Service) Forget(ctx context.Context, sessionID string) error {
	if err := s.tokens.Remove(ctx, sessionID); err != nil {
		return err
	}
	if s.clearer != nil {
		return s.clearer.Clear(ctx, sessionID)
	}
	return nil
}

// Watch calls fn with a fresh dashboard now and then every interval until ctx is done.
// Failures are passed to fn; the next tick retries.
func (s *Service) Watch(ctx context.Context, interval time.Duration, fn func(Listing, error)) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	fn(s.Dashboard(ctx))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			listing, err := s.Dashboard(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("dashboard refresh failed")
			}
			fn(listing, err)
		}
	}
}

// Analyze computes dashboard analytics at now.
func Analyze(infos []SanctuaryInfo, now time.Time, expiringSoon time.Duration) Analytics {
	var a Analytics
	var best *SanctuaryInfo
	for i := range infos {
		info := &infos[i]
		if info.Active(now) {
			a.Active++
			if info.ExpiresAt.Sub(now) <= expiringSoon {
				a.ExpiringSoon++
			}
		} else {
			a.Expired++
		}
		a.TotalMessages += info.MessageCount
		a.TotalParticipants += info.ParticipantCount

		if best == nil || info.MessageCount > best.MessageCount ||
			(info.MessageCount == best.MessageCount && info.CreatedAt.Before(best.CreatedAt)) {
			best = info
		}
	}
	if a.TotalParticipants > 0 {
		a.AverageEngagement = float64(a.TotalMessages) / float64(a.TotalParticipants)
	}
	if best != nil {
		a.MostActiveSession = best.ID
	}
	return a
}

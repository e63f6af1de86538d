package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/vovakirdan/sanctuary/internal/store"
	"github.com/vovakirdan/sanctuary/internal/utils"
)

const (
	// DefaultDuration is the lifetime of a sanctuary created without one.
	DefaultDuration = time.Hour
	// MaxDuration caps the lifetime of a sanctuary.
	MaxDuration = 24 * time.Hour
	// DefaultTokenTTL is how long a host token can be used for recovery.
	DefaultTokenTTL = 48 * time.Hour

	maxTopicLength = 120
	nonceBytes     = 16
)

var (
	// ErrInvalidToken is returned when a host token cannot be verified.
	ErrInvalidToken = errors.New("invalid host token")
	// ErrInvalidTopic is returned when a topic doesn't meet constraints.
	ErrInvalidTopic = errors.New("invalid topic")
	// ErrInvalidMode is returned for an unknown sanctuary mode.
	ErrInvalidMode = errors.New("invalid mode")
)

// Service issues and verifies opaque host tokens. It is the only place that creates sanctuaries.
type Service struct {
	store     store.SanctuaryStore
	jwtConfig *JWTConfig
	clock     clock.Clock
}

// NewService creates a new host authentication service.
func NewService(sanctuaries store.SanctuaryStore, jwtConfig *JWTConfig, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if jwtConfig.TTL <= 0 {
		jwtConfig.TTL = DefaultTokenTTL
	}
	return &Service{
		store:     sanctuaries,
		jwtConfig: jwtConfig,
		clock:     clk,
	}
}

// CreateSanctuary creates a sanctuary and returns it with its host token.
// The token is not stored anywhere in plain form.
func (s *Service) CreateSanctuary(ctx context.Context, topic string, mode store.Mode, duration time.Duration) (*store.Sanctuary, string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || utf8.RuneCountInString(topic) > maxTopicLength {
		return nil, "", ErrInvalidTopic
	}
	if mode == "" {
		mode = store.ModeText
	}
	if !mode.Valid() {
		return nil, "", ErrInvalidMode
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if duration > MaxDuration {
		duration = MaxDuration
	}

	nonce := utils.NewSecret(nonceBytes)
	hash, err := HashSecret(nonce)
	if err != nil {
		return nil, "", err
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	sanc := &store.Sanctuary{
		ID:             utils.NewID(),
		Topic:          topic,
		Mode:           mode,
		HostSecretHash: hash,
		CreatedAt:      now,
		ExpiresAt:      now.Add(duration),
	}
	if err := s.store.CreateSanctuary(ctx, sanc); err != nil {
		return nil, "", fmt.Errorf("create sanctuary: %w", err)
	}

	token, err := GenerateHostToken(s.jwtConfig, sanc.ID, nonce, now)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return sanc, token, nil
}

// Verify resolves a host token to its sanctuary. Expired or ended sanctuaries are returned
// as well; callers decide what an inactive sanctuary means for them.
func (s *Service) Verify(ctx context.Context, token string) (*store.Sanctuary, error) {
	claims, err := ValidateHostToken(s.jwtConfig, token, s.clock.Now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sanc, err := s.store.GetSanctuary(ctx, claims.SanctuaryID)
	if err != nil {
		return nil, err
	}
	if err := CompareSecret(sanc.HostSecretHash, claims.ID); err != nil {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidToken)
	}
	return sanc, nil
}

// VerifyFor checks that token is the host token of sanctuaryID.
func (s *Service) VerifyFor(ctx context.Context, sanctuaryID, token string) (*store.Sanctuary, error) {
	sanc, err := s.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if sanc.ID != sanctuaryID {
		return nil, fmt.Errorf("%w: token belongs to another sanctuary", ErrInvalidToken)
	}
	return sanc, nil
}

// ListOwned resolves every token that still verifies, skipping the rest. Duplicates are listed once.
func (s *Service) ListOwned(ctx context.Context, tokens []string) ([]*store.Sanctuary, error) {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]*store.Sanctuary, 0, len(tokens))
	for _, token := range tokens {
		sanc, err := s.Verify(ctx, token)
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, dup := seen[sanc.ID]; dup {
			continue
		}
		seen[sanc.ID] = struct{}{}
		out = append(out, sanc)
	}
	return out, nil
}

// Now is the service clock, shared with callers that judge sanctuary activity.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

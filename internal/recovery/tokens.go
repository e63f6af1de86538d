package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/sanctuary/internal/kv"
)

// DefaultTokenTTL is the local lifetime of a host token.
const DefaultTokenTTL = 48 * time.Hour

const tokenSection = "host"

// HostToken is an opaque host secret for one sanctuary, kept on this device.
type HostToken struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t HostToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenStore keeps host tokens in local storage. Expired tokens are purged when read.
type TokenStore struct {
	kv    kv.Store
	clock clock.Clock
	ttl   time.Duration
	log   *zerolog.Logger
}

// NewTokenStore builds a token store. A non-positive ttl means DefaultTokenTTL.
func NewTokenStore(store kv.Store, clk clock.Clock, ttl time.Duration, logger *zerolog.Logger) *TokenStore {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TokenStore{kv: store, clock: clk, ttl: ttl, log: logger}
}

func tokenKey(sessionID string) string {
	return kv.Key(tokenSection, sessionID)
}

// Put stores token for sessionID with createdAt = now and expiresAt = now + ttl.
func (s *TokenStore) Put(ctx context.Context, sessionID, token string) (HostToken, error) {
	if sessionID == "" || token == "" {
		return HostToken{}, errors.New("session id and token required")
	}
	now := s.clock.Now().UTC()
	ht := HostToken{Token: token, SessionID: sessionID, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	raw, err := json.Marshal(ht)
	if err != nil {
		return HostToken{}, fmt.Errorf("encode host token: %w", err)
	}
	if err := s.kv.Set(ctx, tokenKey(sessionID), raw); err != nil {
		return HostToken{}, fmt.Errorf("store host token: %w", err)
	}
	return ht, nil
}

// Get returns the token for sessionID: ErrNotFound if absent or unreadable, ErrExpired (after
// purging it) if past expiry.
func (s *TokenStore) Get(ctx context.Context, sessionID string) (HostToken, error) {
	raw, err := s.kv.Get(ctx, tokenKey(sessionID))
	if errors.Is(err, kv.ErrMiss) {
		return HostToken{}, fmt.Errorf("%w: no host token for %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return HostToken{}, err
	}

	var ht HostToken
	if err := json.Unmarshal(raw, &ht); err != nil || ht.Token == "" {
		s.log.Warn().Str("session_id", sessionID).Msg("dropping unreadable host token")
		_ = s.kv.Del(ctx, tokenKey(sessionID))
		return HostToken{}, fmt.Errorf("%w: unreadable host token for %s", ErrNotFound, sessionID)
	}
	if ht.Expired(s.clock.Now()) {
		s.log.Info().Str("session_id", sessionID).Time("expired_at", ht.ExpiresAt).Msg("purging expired host token")
		if err := s.kv.Del(ctx, tokenKey(sessionID)); err != nil {
			return HostToken{}, err
		}
		return HostToken{}, fmt.Errorf("%w: host token for %s", ErrExpired, sessionID)
	}
	return ht, nil
}

// List returns the live tokens, oldest first, and purges the expired ones it meets.
func (s *TokenStore) List(ctx context.Context) ([]HostToken, error) {
	prefix := kv.Key(tokenSection, "")
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var out []HostToken
	for _, k := range keys {
		ht, err := s.Get(ctx, strings.TrimPrefix(k, prefix))
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ht)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Remove forgets the token for sessionID.
func (s *TokenStore) Remove(ctx context.Context, sessionID string) error {
	return s.kv.Del(ctx, tokenKey(sessionID))
}

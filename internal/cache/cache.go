package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/kv"
)

const (
	// DefaultTTL is how long a message snapshot survives without a save.
	DefaultTTL = 24 * time.Hour

	schemaVersion = 1
	section       = "cache"
)

// Entry is the stored snapshot of one session's ledger.
type Entry struct {
	Version     int                `json:"version"`
	SessionID   string             `json:"session_id"`
	Messages    []core.ChatMessage `json:"messages"`
	LastUpdated time.Time          `json:"last_updated"`
}

// Store persists message snapshots per session. It implements core.MessageCache.
type Store struct {
	kv    kv.Store
	clock clock.Clock
	ttl   time.Duration
	log   *zerolog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects the clock used for lastUpdated and staleness.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

// New builds a cache on top of a key-value store.
func New(store kv.Store, opts ...Option) *Store {
	nop := zerolog.Nop()
	s := &Store{kv: store, clock: clock.New(), ttl: DefaultTTL, log: &nop}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ core.MessageCache = (*Store)(nil)

func entryKey(sessionID string) string {
	return kv.Key(section, sessionID)
}

// Save overwrites the stored snapshot with a fresh lastUpdated.
func (s *Store) Save(ctx context.Context, sessionID string, msgs []core.ChatMessage) error {
	if msgs == nil {
		msgs = []core.ChatMessage{}
	}
	raw, err := json.Marshal(Entry{
		Version:     schemaVersion,
		SessionID:   sessionID,
		Messages:    msgs,
		LastUpdated: s.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.kv.Set(ctx, entryKey(sessionID), raw); err != nil {
		return fmt.Errorf("save cache %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the stored messages. Stale and corrupt entries are evicted and read as empty.
func (s *Store) Load(ctx context.Context, sessionID string) ([]core.ChatMessage, error) {
	entry, err := s.Entry(ctx, sessionID)
	switch {
	case errors.Is(err, kv.ErrMiss):
		return nil, nil
	case errors.Is(err, core.ErrCacheCorrupt):
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("evicting corrupt cache entry")
		return nil, s.evict(ctx, sessionID)
	case err != nil:
		return nil, err
	}

	if age := s.clock.Now().Sub(entry.LastUpdated); age > s.ttl {
		s.log.Debug().Str("session_id", sessionID).Dur("age", age).Msg("evicting stale cache entry")
		return nil, s.evict(ctx, sessionID)
	}
	return entry.Messages, nil
}

// Entry reads the raw entry without TTL checks. A missing entry is kv.ErrMiss,
// an unparsable or schema-mismatched one core.ErrCacheCorrupt.
func (s *Store) Entry(ctx context.Context, sessionID string) (Entry, error) {
	raw, err := s.kv.Get(ctx, entryKey(sessionID))
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", core.ErrCacheCorrupt, sessionID, err)
	}
	if entry.Version != schemaVersion || entry.SessionID != sessionID {
		return Entry{}, fmt.Errorf("%w: %s: version %d for session %q", core.ErrCacheCorrupt, sessionID, entry.Version, entry.SessionID)
	}
	return entry, nil
}

// evict drops only the snapshot; the session's preferences outlive it.
func (s *Store) evict(ctx context.Context, sessionID string) error {
	return s.kv.Del(ctx, entryKey(sessionID))
}

// Clear removes the snapshot and preferences of one session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	keys, err := s.kv.Keys(ctx, kv.Key(prefsSection, sessionID, ""))
	if err != nil {
		return err
	}
	return s.kv.Del(ctx, append(keys, entryKey(sessionID))...)
}

// ClearAll removes every snapshot and preference. Host tokens are kept.
func (s *Store) ClearAll(ctx context.Context) error {
	var all []string
	for _, prefix := range []string{kv.Key(section, ""), kv.Key(prefsSection, "")} {
		keys, err := s.kv.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		all = append(all, keys...)
	}
	return s.kv.Del(ctx, all...)
}

// Sessions lists session ids that have a stored snapshot.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	prefix := kv.Key(section, "")
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, prefix))
	}
	return ids, nil
}

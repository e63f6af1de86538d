package cache

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/sanctuary/internal/kv"
)

const prefsSection = "prefs"

func prefKey(sessionID, name string) string {
	return kv.Key(prefsSection, sessionID, name)
}

// Touch records now as the last time the session was opened.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	return s.kv.Set(ctx, prefKey(sessionID, "last_accessed"), []byte(s.clock.Now().UTC().Format(time.RFC3339Nano)))
}

// LastAccessed returns the last Touch time; ok is false if never touched.
func (s *Store) LastAccessed(ctx context.Context, sessionID string) (t time.Time, ok bool, err error) {
	raw, err := s.kv.Get(ctx, prefKey(sessionID, "last_accessed"))
	if errors.Is(err, kv.ErrMiss) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		// unreadable timestamp counts as never accessed
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// MarkWelcomeShown sets the one-time welcome flag. It returns true the first time only.
func (s *Store) MarkWelcomeShown(ctx context.Context, sessionID string) (bool, error) {
	key := prefKey(sessionID, "welcome_shown")
	_, err := s.kv.Get(ctx, key)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, kv.ErrMiss) {
		return false, err
	}
	return true, s.kv.Set(ctx, key, []byte("true"))
}

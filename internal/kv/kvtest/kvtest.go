// Package kvtest holds the behavior every kv.Store backend must share.
package kvtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vovakirdan/sanctuary/internal/kv"
)

// Run exercises s. The store must start empty under the sanctuary namespace.
func Run(t *testing.T, s kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		_, err := s.Get(ctx, kv.Key("missing"))
		assert.True(t, errors.Is(err, kv.ErrMiss), "expected ErrMiss, got %v", err)
	})

	t.Run("set overwrites", func(t *testing.T) {
		key := kv.Key("cache", "S")
		require.NoError(t, s.Set(ctx, key, []byte("one")))
		require.NoError(t, s.Set(ctx, key, []byte("two")))

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("keys by prefix", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, kv.Key("cache", "A"), []byte("a")))
		require.NoError(t, s.Set(ctx, kv.Key("cache", "B"), []byte("b")))
		require.NoError(t, s.Set(ctx, kv.Key("host", "A"), []byte("token")))

		keys, err := s.Keys(ctx, kv.Key("cache", ""))
		require.NoError(t, err)
		assert.Equal(t, []string{kv.Key("cache", "A"), kv.Key("cache", "B"), kv.Key("cache", "S")}, keys)
	})

	t.Run("del", func(t *testing.T) {
		require.NoError(t, s.Del(ctx, kv.Key("cache", "A"), kv.Key("cache", "nope")))
		require.NoError(t, s.Del(ctx))

		_, err := s.Get(ctx, kv.Key("cache", "A"))
		assert.ErrorIs(t, err, kv.ErrMiss)
		got, err := s.Get(ctx, kv.Key("host", "A"))
		require.NoError(t, err)
		assert.Equal(t, "token", string(got))
	})
}

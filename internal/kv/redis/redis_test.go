package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vovakirdan/sanctuary/internal/kv"
	"github.com/vovakirdan/sanctuary/internal/kv/kvtest"
)

func TestStore(t *testing.T) {
	url := os.Getenv("SANCTUARY_TEST_REDIS_URL")
	if url == "" || testing.Short() {
		t.Skip("SANCTUARY_TEST_REDIS_URL not set")
	}

	s, err := New(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	reset := func() {
		keys, err := s.Keys(ctx, kv.Namespace)
		require.NoError(t, err)
		require.NoError(t, s.Del(ctx, keys...))
	}
	reset()
	t.Cleanup(reset)

	kvtest.Run(t, s)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	_, err = New("not a url")
	require.Error(t, err)
}

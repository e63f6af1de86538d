package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vovakirdan/sanctuary/internal/core"
	"github.com/vovakirdan/sanctuary/internal/proto"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestVerifyHostStatuses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			writeJSON(w, http.StatusOK, proto.SanctuaryData{ID: "S", Topic: "grief"})
		case "Bearer old":
			writeJSON(w, http.StatusGone, proto.ErrorResponse{Error: "sanctuary expired"})
		case "Bearer broken":
			writeJSON(w, http.StatusInternalServerError, proto.ErrorResponse{Error: "db down"})
		default:
			writeJSON(w, http.StatusNotFound, proto.ErrorResponse{Error: "unknown token"})
		}
	}))
	defer ts.Close()

	c := New(ts.URL, time.Second, nil)
	ctx := context.Background()

	info, err := c.VerifyHost(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "S", info.ID)

	_, err = c.VerifyHost(ctx, "old")
	assert.ErrorIs(t, err, ErrExpired)

	_, err = c.VerifyHost(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.VerifyHost(ctx, "broken")
	assert.ErrorIs(t, err, core.ErrTransport)
}

func TestNetworkFailureIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	_, err := New(base, time.Second, nil).ListHost(context.Background(), []string{"t"})
	assert.ErrorIs(t, err, core.ErrTransport)
}

func TestFallbackPostsModeration(t *testing.T) {
	var got proto.ModerationRequest
	var auth, path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	fb := New(ts.URL, time.Second, nil).Fallback("host-token")
	require.NoError(t, fb.Moderate(context.Background(), "S", core.ActionKick, "bob"))

	assert.Equal(t, "Bearer host-token", auth)
	assert.Equal(t, "/api/sanctuaries/S/moderation", path)
	assert.Equal(t, proto.ModerationRequest{Action: "kick", ParticipantID: "bob"}, got)
}

func TestForbiddenMapsToNotAuthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, proto.ErrorResponse{Error: "not the host"})
	}))
	defer ts.Close()

	err := New(ts.URL, time.Second, nil).Fallback("x").Moderate(context.Background(), "S", core.ActionMute, "bob")
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, core.ErrNotAuthorized)
}

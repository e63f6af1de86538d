package livekit

import (
	"context"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/vovakirdan/sanctuary/internal/callengine"
)

// DefaultTokenTTL bounds how long a join token is accepted by the media server.
const DefaultTokenTTL = time.Hour

// LiveKitEngine implements callengine.Engine using LiveKit as the media backend.
type LiveKitEngine struct {
	apiKey    string
	apiSecret string
	wsURL     string
	ttl       time.Duration
}

// New creates a new LiveKitEngine.
func New(apiKey, apiSecret, wsURL string) *LiveKitEngine {
	return &LiveKitEngine{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
		ttl:       DefaultTokenTTL,
	}
}

// RoomName returns the LiveKit room of a sanctuary.
// LiveKit creates rooms on-demand when the first participant joins.
func (e *LiveKitEngine) RoomName(sanctuaryID string) string {
	return "sanctuary-" + sanctuaryID
}

// GenerateJoinInfo creates join credentials. Listeners get a subscribe-only grant.
func (e *LiveKitEngine) GenerateJoinInfo(_ context.Context, sanctuaryID, participantID, alias string, canPublish bool) (*callengine.JoinInfo, error) {
	if sanctuaryID == "" || participantID == "" {
		return nil, fmt.Errorf("sanctuary and participant id required")
	}

	room := e.RoomName(sanctuaryID)
	canSubscribe := true
	publishData := true

	at := auth.NewAccessToken(e.apiKey, e.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           room,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &publishData,
	}
	at.SetVideoGrant(grant).
		SetIdentity(participantID).
		SetName(alias).
		SetValidFor(e.ttl)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &callengine.JoinInfo{
		URL:        e.wsURL,
		Token:      token,
		RoomName:   room,
		Identity:   participantID,
		CanPublish: canPublish,
	}, nil
}

// Ensure LiveKitEngine implements callengine.Engine
var _ callengine.Engine = (*LiveKitEngine)(nil)

package callengine

import "context"

// JoinInfo contains information needed to join a live-audio sanctuary.
type JoinInfo struct {
	URL        string // WebSocket URL (e.g., ws://localhost:7880)
	Token      string // access token for the media server
	RoomName   string
	Identity   string // participant identity in the room
	CanPublish bool   // speakers publish, listeners only subscribe
}

// Engine abstracts the media backend for live-audio sanctuaries.
type Engine interface {
	// RoomName maps a sanctuary to its media room.
	RoomName(sanctuaryID string) string

	// GenerateJoinInfo creates join credentials for a participant.
	GenerateJoinInfo(ctx context.Context, sanctuaryID, participantID, alias string, canPublish bool) (*JoinInfo, error)
}

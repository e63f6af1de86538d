package proto

// REST payloads of the relay's HTTP collaborator endpoints. Times are unix milliseconds.

// SanctuaryData describes a sanctuary as reported to its host.
type SanctuaryData struct {
	ID               string `json:"id"`
	Topic            string `json:"topic"`
	Mode             string `json:"mode"`
	CreatedAt        int64  `json:"created_at"`
	ExpiresAt        int64  `json:"expires_at"`
	Ended            bool   `json:"ended,omitempty"`
	MessageCount     int    `json:"message_count"`
	ParticipantCount int    `json:"participant_count"`
}

// CreateSanctuaryRequest creates a sanctuary.
type CreateSanctuaryRequest struct {
	Topic           string `json:"topic" binding:"required"`
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes"`
}

// CreateSanctuaryResponse carries the opaque host token. It is shown once.
type CreateSanctuaryResponse struct {
	Sanctuary SanctuaryData `json:"sanctuary"`
	HostToken string        `json:"host_token"`
}

// HostListRequest lists the sanctuaries owned by a set of host tokens.
type HostListRequest struct {
	Tokens []string `json:"tokens"`
}

// HostListResponse omits tokens that no longer resolve.
type HostListResponse struct {
	Sanctuaries []SanctuaryData `json:"sanctuaries"`
}

// ModerationRequest is the HTTP fallback for a moderation command.
type ModerationRequest struct {
	Action        string `json:"action" binding:"required"`
	ParticipantID string `json:"participant_id"`
}

// AudioTokenRequest asks for a live-audio room token.
type AudioTokenRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	Alias         string `json:"alias"`
}

// AudioTokenResponse is what the audio collaborator needs to connect.
type AudioTokenResponse struct {
	URL        string `json:"url"`
	Token      string `json:"token"`
	Room       string `json:"room"`
	CanPublish bool   `json:"can_publish"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

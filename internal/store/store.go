package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a sanctuary does not exist.
var ErrNotFound = errors.New("not found")

// Mode defines the kind of sanctuary.
type Mode string

const (
	ModeText  Mode = "text"
	ModeAudio Mode = "audio"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeText || m == ModeAudio
}

// Sanctuary is an ephemeral, topic-scoped session.
type Sanctuary struct {
	ID    string
	Topic string
	Mode  Mode
	// HostSecretHash is the bcrypt hash of the nonce embedded in the host token.
	HostSecretHash string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	EndedAt        *time.Time

	// Counters are derived when the sanctuary is read.
	MessageCount     int
	ParticipantCount int
}

// Active reports whether the sanctuary still accepts participants at now.
func (s *Sanctuary) Active(now time.Time) bool {
	return s.EndedAt == nil && now.Before(s.ExpiresAt)
}

// Message is a persisted chat message. Body is the encoded message as broadcast.
type Message struct {
	ID          string
	SanctuaryID string
	SenderID    string
	Body        []byte
	CreatedAt   time.Time
}

// SanctuaryStore handles sanctuary persistence.
type SanctuaryStore interface {
	// CreateSanctuary persists a new sanctuary.
	CreateSanctuary(ctx context.Context, s *Sanctuary) error

	// GetSanctuary retrieves a sanctuary with its counters. Returns ErrNotFound if absent.
	GetSanctuary(ctx context.Context, id string) (*Sanctuary, error)

	// EndSanctuary marks a sanctuary ended. Ending twice keeps the first time.
	EndSanctuary(ctx context.Context, id string, at time.Time) error

	// ListExpired lists sanctuaries past their expiry that are not ended yet.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
}

// ParticipantStore records who has been in a sanctuary.
type ParticipantStore interface {
	// RecordParticipant remembers a participant. Repeated calls are no-ops.
	RecordParticipant(ctx context.Context, sanctuaryID, participantID, alias string) error

	// MarkKicked bans participantID from the sanctuary for its remaining lifetime.
	MarkKicked(ctx context.Context, sanctuaryID, participantID string) error

	// IsKicked checks whether participantID was kicked.
	IsKicked(ctx context.Context, sanctuaryID, participantID string) (bool, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message. A message id already stored is ignored.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns up to limit most recent messages, oldest first.
	ListMessages(ctx context.Context, sanctuaryID string, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	SanctuaryStore
	ParticipantStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/sanctuary/internal/store"
)

// Schema is applied on open. Times are unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS sanctuaries (
	id               TEXT PRIMARY KEY,
	topic            TEXT NOT NULL,
	mode             TEXT NOT NULL DEFAULT 'text',
	host_secret_hash TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	expires_at       INTEGER NOT NULL,
	ended_at         INTEGER
);

CREATE TABLE IF NOT EXISTS sanctuary_participants (
	sanctuary_id   TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	alias          TEXT NOT NULL DEFAULT '',
	kicked         BOOLEAN NOT NULL DEFAULT 0,
	joined_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (sanctuary_id, participant_id),
	FOREIGN KEY (sanctuary_id) REFERENCES sanctuaries(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT NOT NULL,
	sanctuary_id TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	body         BLOB NOT NULL,
	created_at   INTEGER NOT NULL,
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	UNIQUE (sanctuary_id, id),
	FOREIGN KEY (sanctuary_id) REFERENCES sanctuaries(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_sanctuary ON messages(sanctuary_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_sanctuaries_expiry ON sanctuaries(expires_at) WHERE ended_at IS NULL;
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies Schema.
// dbPath is the path to the SQLite database file, or ":memory:".
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function instead of the default schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ==== SanctuaryStore implementation ====

// CreateSanctuary persists a new sanctuary.
func (s *SQLiteStore) CreateSanctuary(ctx context.Context, sanc *store.Sanctuary) error {
	query := `
		INSERT INTO sanctuaries (id, topic, mode, host_secret_hash, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		sanc.ID,
		sanc.Topic,
		string(sanc.Mode),
		sanc.HostSecretHash,
		millis(sanc.CreatedAt),
		millis(sanc.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert sanctuary: %w", err)
	}
	return nil
}

// GetSanctuary retrieves a sanctuary with its message and participant counters.
func (s *SQLiteStore) GetSanctuary(ctx context.Context, id string) (*store.Sanctuary, error) {
	query := `
		SELECT s.id, s.topic, s.mode, s.host_secret_hash, s.created_at, s.expires_at, s.ended_at,
			(SELECT COUNT(*) FROM messages m WHERE m.sanctuary_id = s.id),
			(SELECT COUNT(*) FROM sanctuary_participants p WHERE p.sanctuary_id = s.id)
		FROM sanctuaries s
		WHERE s.id = ?
	`
	var (
		sanc                store.Sanctuary
		mode                string
		createdAt, expireAt int64
		endedAt             sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sanc.ID,
		&sanc.Topic,
		&mode,
		&sanc.HostSecretHash,
		&createdAt,
		&expireAt,
		&endedAt,
		&sanc.MessageCount,
		&sanc.ParticipantCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sanctuary %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query sanctuary: %w", err)
	}

	sanc.Mode = store.Mode(mode)
	sanc.CreatedAt = fromMillis(createdAt)
	sanc.ExpiresAt = fromMillis(expireAt)
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		sanc.EndedAt = &t
	}
	return &sanc, nil
}

// EndSanctuary marks a sanctuary ended.
func (s *SQLiteStore) EndSanctuary(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sanctuaries SET ended_at = COALESCE(ended_at, ?) WHERE id = ?`, millis(at), id)
	if err != nil {
		return fmt.Errorf("end sanctuary: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("sanctuary %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// ListExpired lists the ids of sanctuaries past expiry that were never ended.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT id FROM sanctuaries
		WHERE ended_at IS NULL AND expires_at <= ?
		ORDER BY expires_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, millis(now))
	if err != nil {
		return nil, fmt.Errorf("query expired: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sanctuary id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ==== ParticipantStore implementation ====

// RecordParticipant remembers a participant of a sanctuary.
func (s *SQLiteStore) RecordParticipant(ctx context.Context, sanctuaryID, participantID, alias string) error {
	query := `
		INSERT OR IGNORE INTO sanctuary_participants (sanctuary_id, participant_id, alias)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, sanctuaryID, participantID, alias); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// MarkKicked bans a participant from the sanctuary.
func (s *SQLiteStore) MarkKicked(ctx context.Context, sanctuaryID, participantID string) error {
	query := `
		INSERT INTO sanctuary_participants (sanctuary_id, participant_id, kicked)
		VALUES (?, ?, 1)
		ON CONFLICT(sanctuary_id, participant_id) DO UPDATE SET kicked = 1
	`
	if _, err := s.db.ExecContext(ctx, query, sanctuaryID, participantID); err != nil {
		return fmt.Errorf("mark kicked: %w", err)
	}
	return nil
}

// IsKicked checks whether a participant was kicked from the sanctuary.
func (s *SQLiteStore) IsKicked(ctx context.Context, sanctuaryID, participantID string) (bool, error) {
	query := `
		SELECT 1 FROM sanctuary_participants
		WHERE sanctuary_id = ? AND participant_id = ? AND kicked = 1
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, sanctuaryID, participantID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query kicked: %w", err)
	}
	return true, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT OR IGNORE INTO messages (id, sanctuary_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, msg.ID, msg.SanctuaryID, msg.SenderID, msg.Body, millis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages retrieves the most recent messages of a sanctuary in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sanctuaryID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, sanctuary_id, sender_id, body, created_at
		FROM messages
		WHERE sanctuary_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, sanctuaryID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var (
			msg       store.Message
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.SanctuaryID, &msg.SenderID, &msg.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, &msg)
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)

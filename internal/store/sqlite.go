package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/parley/internal/ident"
	"github.com/eldtechnologies/parley/internal/models"
)

// SQLiteStore handles SQLite database operations. Timestamps are stored as
// unix microseconds so cursor row comparisons order correctly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/parley.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/parley.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (unixepoch() * 1000000)
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		participant_one_id TEXT NOT NULL,
		participant_two_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (participant_one_id, participant_two_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL,
		read_at INTEGER,
		idempotency_key TEXT NOT NULL UNIQUE,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
		ON messages(conversation_id, sent_at DESC, id DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// micros converts a time to the stored unix-microsecond representation.
func micros(t time.Time) int64 {
	return t.UnixMicro()
}

// ListMessages retrieves messages newest-first with an exclusive
// (sent_at, id) cursor bound.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID, before *models.Cursor, limit int) ([]models.Message, error) {
	defer observeLatency("list_messages", time.Now())

	var rows *sql.Rows
	var err error

	if before == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, sender_id, content, sent_at, read_at, metadata
			FROM messages
			WHERE conversation_id = ?
			ORDER BY sent_at DESC, id DESC
			LIMIT ?
		`, conversationID.String(), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, sender_id, content, sent_at, read_at, metadata
			FROM messages
			WHERE conversation_id = ?
			  AND (sent_at, id) < (?, ?)
			ORDER BY sent_at DESC, id DESC
			LIMIT ?
		`, conversationID.String(), micros(before.SentAt), before.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// rowScanner lets one scan helper serve both QueryRow and Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSQLiteMessage scans one message row, converting stored microseconds
// back to time.Time.
func scanSQLiteMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var convIDStr, senderIDStr string
	var sentAt int64
	var readAt *int64
	var metadata *string

	err := row.Scan(&msg.ID, &convIDStr, &senderIDStr, &msg.Content, &sentAt, &readAt, &metadata)
	if err != nil {
		return msg, err
	}

	msg.ConversationID = uuid.MustParse(convIDStr)
	msg.SenderID = uuid.MustParse(senderIDStr)
	msg.SentAt = time.UnixMicro(sentAt).UTC()
	msg.DeliveryStatus = models.StatusDelivered
	if readAt != nil {
		t := time.UnixMicro(*readAt).UTC()
		msg.ReadAt = &t
	}
	if metadata != nil && *metadata != "" {
		if err := json.Unmarshal([]byte(*metadata), &msg.Metadata); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// InsertMessage durably stores a message, rejecting reused idempotency keys.
func (s *SQLiteStore) InsertMessage(ctx context.Context, params InsertMessageParams) (*models.Message, error) {
	defer observeLatency("insert_message", time.Now())

	var metadata *string
	if len(params.Metadata) > 0 {
		data, err := json.Marshal(params.Metadata)
		if err != nil {
			return nil, err
		}
		str := string(data)
		metadata = &str
	}

	id := ident.NewUUIDv7().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, sent_at, idempotency_key, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, params.ConversationID.String(), params.SenderID.String(), params.Content, micros(now), params.IdempotencyKey, metadata)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, content, sent_at, read_at, metadata
		FROM messages WHERE id = ?
	`, id)
	msg, err := scanSQLiteMessage(row)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FindConversation retrieves the conversation for a participant pair, or
// (nil, nil) if none exists.
func (s *SQLiteStore) FindConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	one, two := models.PairKey(a, b)

	conv := &models.Conversation{}
	var idStr, oneStr, twoStr string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, participant_one_id, participant_two_id, created_at
		FROM conversations
		WHERE participant_one_id = ? AND participant_two_id = ?
	`, one.String(), two.String()).Scan(&idStr, &oneStr, &twoStr, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	id := uuid.MustParse(idStr)
	conv.ID = &id
	conv.ParticipantOneID = uuid.MustParse(oneStr)
	conv.ParticipantTwoID = uuid.MustParse(twoStr)
	conv.CreatedAt = time.UnixMicro(createdAt).UTC()
	return conv, nil
}

// CreateConversation creates the durable conversation record for a pair,
// returning ErrConversationExists on a lost creation race.
func (s *SQLiteStore) CreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	one, two := models.PairKey(a, b)
	id := ident.NewUUIDv7()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_one_id, participant_two_id, created_at)
		VALUES (?, ?, ?, ?)
	`, id.String(), one.String(), two.String(), micros(now))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrConversationExists
		}
		return nil, err
	}

	return &models.Conversation{
		ID:               &id,
		ParticipantOneID: one,
		ParticipantTwoID: two,
		CreatedAt:        now,
	}, nil
}

// DeleteConversation removes a conversation record (best-effort rollback).
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id.String())
	return err
}

// MarkReadBefore stamps every unread peer message at or before the watermark
// and returns the number of rows affected.
func (s *SQLiteStore) MarkReadBefore(ctx context.Context, conversationID, reader uuid.UUID, watermark time.Time) (int64, error) {
	defer observeLatency("mark_read_before", time.Now())

	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET read_at = ?
		WHERE conversation_id = ?
		  AND sender_id <> ?
		  AND read_at IS NULL
		  AND sent_at <= ?
	`, micros(time.Now().UTC()), conversationID.String(), reader.String(), micros(watermark))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountUnread returns the reader's unread message count across all
// conversations.
func (s *SQLiteStore) CountUnread(ctx context.Context, reader uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.participant_one_id = ? OR c.participant_two_id = ?)
		  AND m.sender_id <> ?
		  AND m.read_at IS NULL
	`, reader.String(), reader.String(), reader.String()).Scan(&count)
	return count, err
}

// GetProfile retrieves a profile summary by user ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	profile := &models.Profile{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, avatar_url FROM profiles WHERE id = ?
	`, id.String()).Scan(&idStr, &profile.Name, &profile.AvatarURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	profile.ID = uuid.MustParse(idStr)
	return profile, nil
}

// isSQLiteUniqueViolation reports whether err is a unique constraint
// violation.
func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/parley/internal/ident"
	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
)

// observeLatency records one backend operation's duration.
func observeLatency(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist. Participant pairs are
// stored in normalized order with a unique constraint, so at most one
// durable conversation can exist per pair.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		participant_one_id UUID NOT NULL,
		participant_two_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT conversations_pair_unique UNIQUE (participant_one_id, participant_two_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id UUID NOT NULL,
		content TEXT NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		read_at TIMESTAMPTZ,
		idempotency_key TEXT NOT NULL,
		metadata JSONB,
		CONSTRAINT messages_idempotency_key_unique UNIQUE (idempotency_key)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
		ON messages(conversation_id, sent_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_unread
		ON messages(conversation_id, sender_id) WHERE read_at IS NULL;
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ListMessages retrieves messages newest-first. A non-nil cursor is an
// exclusive (sent_at, id) upper bound; the tie-break on id is required
// because multiple messages can share a timestamp.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID, before *models.Cursor, limit int) ([]models.Message, error) {
	defer observeLatency("list_messages", time.Now())

	var rows pgx.Rows
	var err error

	if before == nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, conversation_id, sender_id, content, sent_at, read_at, metadata
			FROM messages
			WHERE conversation_id = $1
			ORDER BY sent_at DESC, id DESC
			LIMIT $2
		`, conversationID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, conversation_id, sender_id, content, sent_at, read_at, metadata
			FROM messages
			WHERE conversation_id = $1
			  AND (sent_at, id::text) < ($2, $3)
			ORDER BY sent_at DESC, id DESC
			LIMIT $4
		`, conversationID, before.SentAt, before.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// scanPgMessage scans one message row, decoding metadata from JSON.
func scanPgMessage(row pgx.Row) (models.Message, error) {
	var msg models.Message
	var id uuid.UUID
	var metadata []byte

	err := row.Scan(&id, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.SentAt, &msg.ReadAt, &metadata)
	if err != nil {
		return msg, err
	}

	msg.ID = id.String()
	msg.DeliveryStatus = models.StatusDelivered
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// InsertMessage durably stores a message. A reused idempotency key returns
// ErrDuplicateIdempotencyKey instead of double-inserting.
func (s *PostgresStore) InsertMessage(ctx context.Context, params InsertMessageParams) (*models.Message, error) {
	defer observeLatency("insert_message", time.Now())

	var metadata []byte
	if len(params.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(params.Metadata)
		if err != nil {
			return nil, err
		}
	}

	id := ident.NewUUIDv7()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, conversation_id, sender_id, content, sent_at, read_at, metadata
	`, id, params.ConversationID, params.SenderID, params.Content, params.IdempotencyKey, metadata)

	msg, err := scanPgMessage(row)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, err
	}
	return &msg, nil
}

// FindConversation retrieves the conversation for a participant pair in
// either order, or (nil, nil) if none exists.
func (s *PostgresStore) FindConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	one, two := models.PairKey(a, b)

	var id uuid.UUID
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, participant_one_id, participant_two_id, created_at
		FROM conversations
		WHERE participant_one_id = $1 AND participant_two_id = $2
	`, one, two).Scan(&id, &conv.ParticipantOneID, &conv.ParticipantTwoID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	conv.ID = &id
	return conv, nil
}

// CreateConversation creates the durable conversation record for a pair.
// Participants are stored in normalized order so the unique constraint holds
// regardless of who sends first; a lost race returns ErrConversationExists.
func (s *PostgresStore) CreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	one, two := models.PairKey(a, b)

	var id uuid.UUID
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, participant_one_id, participant_two_id)
		VALUES ($1, $2, $3)
		RETURNING id, participant_one_id, participant_two_id, created_at
	`, ident.NewUUIDv7(), one, two).Scan(&id, &conv.ParticipantOneID, &conv.ParticipantTwoID, &conv.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrConversationExists
		}
		return nil, err
	}
	conv.ID = &id
	return conv, nil
}

// DeleteConversation removes a conversation record. Used only for
// best-effort rollback of an empty conversation whose first insert failed.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

// MarkReadBefore stamps every unread peer message at or before the watermark
// and returns the number of rows affected.
func (s *PostgresStore) MarkReadBefore(ctx context.Context, conversationID, reader uuid.UUID, watermark time.Time) (int64, error) {
	defer observeLatency("mark_read_before", time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET read_at = NOW()
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND read_at IS NULL
		  AND sent_at <= $3
	`, conversationID, reader, watermark)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountUnread returns the reader's unread message count across all
// conversations.
func (s *PostgresStore) CountUnread(ctx context.Context, reader uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.participant_one_id = $1 OR c.participant_two_id = $1)
		  AND m.sender_id <> $1
		  AND m.read_at IS NULL
	`, reader).Scan(&count)
	return count, err
}

// GetProfile retrieves a profile summary by user ID.
func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	profile := &models.Profile{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, avatar_url FROM profiles WHERE id = $1
	`, id).Scan(&profile.ID, &profile.Name, &profile.AvatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return profile, nil
}

// isPgUniqueViolation reports whether err is a unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

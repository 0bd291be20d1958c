package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/models"
)

// Sentinel errors the engine recovers from by name.
var (
	// ErrConversationExists is returned by CreateConversation when a durable
	// conversation already exists for the participant pair. A concurrent
	// sender won the race; the caller re-fetches instead of failing.
	ErrConversationExists = errors.New("conversation already exists for participant pair")

	// ErrDuplicateIdempotencyKey is returned by InsertMessage when the
	// idempotency key was already used, meaning this logical send already
	// reached durable storage.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// InsertMessageParams carries everything needed to durably store a message.
type InsertMessageParams struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        string
	IdempotencyKey string
	Metadata       map[string]string
}

// DataStore is the durable backend the sync engine calls. Both PostgresStore
// and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Message operations. ListMessages returns messages newest-first; a
	// non-nil cursor is an exclusive (sent_at, id) upper bound.
	ListMessages(ctx context.Context, conversationID uuid.UUID, before *models.Cursor, limit int) ([]models.Message, error)
	InsertMessage(ctx context.Context, params InsertMessageParams) (*models.Message, error)

	// Conversation operations. FindConversation matches the pair in either
	// order and returns (nil, nil) when no record exists.
	FindConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)
	CreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id uuid.UUID) error

	// MarkReadBefore stamps every unread message in the conversation that was
	// not sent by reader and is at or before the watermark, returning how
	// many rows were affected.
	MarkReadBefore(ctx context.Context, conversationID, reader uuid.UUID, watermark time.Time) (int64, error)

	// CountUnread returns the reader's unread message count across all
	// conversations, for seeding the global counter.
	CountUnread(ctx context.Context, reader uuid.UUID) (int64, error)

	// GetProfile returns the denormalized profile summary for a user, or
	// (nil, nil) if unknown.
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// PushEvent is one event on a conversation's push channel.
type PushEvent struct {
	Type    PushEventType  `json:"type"`
	Message models.Message `json:"message"`
}

// PushEventType discriminates push channel events.
type PushEventType string

const (
	// PushInsert signals a message newly inserted by either participant.
	PushInsert PushEventType = "insert"
	// PushUpdate signals an existing message changed, e.g. a read receipt.
	PushUpdate PushEventType = "update"
)

// PushHandler receives push channel traffic. OnHealth is called with a
// non-nil error when the transport degrades; the subscriber is expected to
// resynchronize rather than trust partial catch-up.
type PushHandler struct {
	OnInsert func(models.Message)
	OnUpdate func(models.Message)
	OnHealth func(error)
}

// PushChannel is the realtime transport scoped to a single conversation.
type PushChannel interface {
	// Subscribe starts delivery for the conversation and returns a teardown
	// function. Teardown is idempotent.
	Subscribe(ctx context.Context, conversationID uuid.UUID, handler PushHandler) (func(), error)
	// Publish broadcasts an event to the conversation's subscribers.
	Publish(ctx context.Context, conversationID uuid.UUID, event PushEvent) error
}

// DraftStore persists in-progress compose text. Synchronous and best-effort:
// implementations log failures and never propagate them, since losing a
// draft must never break the engine.
type DraftStore interface {
	GetDraft(key string) string
	SetDraft(key, text string)
	ClearDraft(key string)
}

// Decision is the rate limiter's answer for one send attempt.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // hint for the user-facing message, zero if unknown
}

// RateLimiter gates sends per user before any state mutation occurs.
type RateLimiter interface {
	CheckSendAllowed(ctx context.Context, userID uuid.UUID) Decision
}

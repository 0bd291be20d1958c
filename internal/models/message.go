package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus tracks a message's progress toward durable storage.
type DeliveryStatus string

const (
	// StatusSending marks an optimistic message awaiting backend confirmation.
	StatusSending DeliveryStatus = "sending"
	// StatusDelivered marks a message confirmed durable by the backend.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusFailed marks a message whose submission failed. It stays visible
	// so the user can retry or discard it.
	StatusFailed DeliveryStatus = "failed"
)

// CanTransitionTo reports whether a status change is legal. Delivery only
// moves forward: sending -> delivered|failed. failed -> sending is the
// explicit retry path; delivered is terminal.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	switch s {
	case StatusSending:
		return next == StatusDelivered || next == StatusFailed
	case StatusFailed:
		return next == StatusSending
	default:
		return false
	}
}

// LocalIDPrefix marks message IDs generated client-side before the backend
// has assigned a durable one.
const LocalIDPrefix = "local-"

// Message is a single message in a two-party conversation. Immutable once
// delivered, except for the read receipt.
type Message struct {
	ID             string            `json:"id"` // server UUID, or "local-<ULID>" while optimistic
	ConversationID uuid.UUID         `json:"conversation_id"`
	SenderID       uuid.UUID         `json:"sender_id"`
	Content        string            `json:"content"`
	SentAt         time.Time         `json:"sent_at"`
	ReadAt         *time.Time        `json:"read_at,omitempty"`
	DeliveryStatus DeliveryStatus    `json:"delivery_status"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// IsLocal reports whether the message still has a client-generated
// placeholder ID.
func (m *Message) IsLocal() bool {
	return strings.HasPrefix(m.ID, LocalIDPrefix)
}

// Less orders messages ascending by (SentAt, ID), the canonical list order.
// The ID tie-break matters because multiple messages can share a timestamp.
func Less(a, b Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.Before(b.SentAt)
	}
	return a.ID < b.ID
}

// Cursor identifies the oldest loaded message and serves as the exclusive
// lower bound for "load older" queries.
type Cursor struct {
	SentAt time.Time `json:"sent_at"`
	ID     string    `json:"id"`
}

// CursorOf returns the pagination cursor for a message.
func CursorOf(m Message) Cursor {
	return Cursor{SentAt: m.SentAt, ID: m.ID}
}

// Package ident generates the identifiers the engine mints locally:
// durable UUIDs, optimistic placeholder IDs, and idempotency keys.
package ident

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/parley/internal/models"
)

// NewUUIDv7 generates a time-ordered UUID v7, used for durable message and
// conversation IDs so primary keys stay roughly insertion-ordered.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewLocalID generates a placeholder message ID for an optimistic row. The
// prefix marks it as not-yet-durable; the ULID keeps placeholders sortable
// and collision-free across tabs.
func NewLocalID() string {
	return models.LocalIDPrefix + ulid.Make().String()
}

// NewIdempotencyKey generates a key unique per send attempt. It includes the
// sender, a timestamp, and a random component so the backend can reject a
// duplicate submission of the same attempt without ever colliding across
// attempts.
func NewIdempotencyKey(sender uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", sender, at.UnixMilli(), ulid.Make())
}

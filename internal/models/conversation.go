package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the denormalized summary of the peer shown alongside a
// conversation. Full profiles live with the platform, not here.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

// Conversation is a two-party conversation. ID is nil while the conversation
// is pending, i.e. no message has ever been exchanged and no durable record
// exists yet. Pendingness is exactly the nil-ID state; there is no separate
// flag to fall out of sync.
type Conversation struct {
	ID               *uuid.UUID `json:"id,omitempty"`
	ParticipantOneID uuid.UUID  `json:"participant_one_id"`
	ParticipantTwoID uuid.UUID  `json:"participant_two_id"`
	OtherParticipant Profile    `json:"other_participant"`
	CreatedAt        time.Time  `json:"created_at,omitempty"`
}

// Pending reports whether the conversation has no durable record yet.
func (c *Conversation) Pending() bool {
	return c.ID == nil
}

// Recipient returns the participant that is not the viewer, and whether one
// could be determined.
func (c *Conversation) Recipient(viewer uuid.UUID) (uuid.UUID, bool) {
	switch viewer {
	case c.ParticipantOneID:
		return c.ParticipantTwoID, true
	case c.ParticipantTwoID:
		return c.ParticipantOneID, true
	}
	return uuid.Nil, false
}

// PairKey returns the participant pair in a stable order, so that (a, b) and
// (b, a) name the same conversation. The backend's uniqueness constraint is
// built on the same ordering.
func PairKey(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

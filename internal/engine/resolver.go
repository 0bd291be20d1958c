package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

// ensureConversation obtains a durable conversation id before a send can
// proceed. A uniqueness violation during creation means a concurrent sender
// (the peer, or a duplicate tab) won the race; that is expected and
// recovered by the order-independent pair lookup. Returns the id and
// whether this call created the record, so the caller can roll back an
// empty conversation if the first insert fails.
func (s *Session) ensureConversation(ctx context.Context) (uuid.UUID, bool, error) {
	s.mu.Lock()
	if !s.haveConv {
		s.mu.Unlock()
		return uuid.Nil, false, ErrNoConversation
	}
	if s.conv.ID != nil {
		id := *s.conv.ID
		s.mu.Unlock()
		return id, false, nil
	}
	peer, ok := s.conv.Recipient(s.viewerID)
	epoch := s.epoch
	s.mu.Unlock()
	if !ok {
		return uuid.Nil, false, ErrNoRecipient
	}

	conv, err := s.data.CreateConversation(ctx, s.viewerID, peer)
	created := true
	if err != nil {
		if !errors.Is(err, store.ErrConversationExists) {
			return uuid.Nil, false, err
		}
		// Lost the creation race; converge on the existing record.
		conv, err = s.data.FindConversation(ctx, s.viewerID, peer)
		if err != nil {
			return uuid.Nil, false, err
		}
		if conv == nil {
			// Creation conflicted but the lookup found nothing, which only
			// happens under extreme concurrent deletion. Unrecoverable.
			return uuid.Nil, false, ErrConversationGone
		}
		created = false
	}

	s.adoptConversation(epoch, conv, created)
	return *conv.ID, created, nil
}

// adoptConversation records the durable id on the active conversation if it
// is still the same identity, subscribes the realtime reconciler (there was
// nothing to subscribe to while pending), and signals the resolution so a
// hosting list view can register the conversation.
func (s *Session) adoptConversation(epoch int, conv *models.Conversation, created bool) {
	s.mu.Lock()
	if s.epoch != epoch || s.conv.ID != nil {
		s.mu.Unlock()
		return
	}
	id := *conv.ID
	s.conv.ID = &id
	s.conv.CreatedAt = conv.CreatedAt
	resolved := s.conv
	s.mu.Unlock()

	s.subscribeCurrent()
	s.emit(Event{Type: EventConversationResolved, Conversation: &resolved, Created: created})
}

// rollbackConversation deletes a conversation this session just created
// whose first message insert failed, so an empty conversation row does not
// leak. Best-effort: a deletion failure is logged, never retried, and never
// blocks the user-visible failure path.
func (s *Session) rollbackConversation(ctx context.Context, epoch int, id uuid.UUID) {
	if err := s.data.DeleteConversation(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", id.String()).Msg("rollback of empty conversation failed")
	}

	s.mu.Lock()
	if s.epoch == epoch && s.conv.ID != nil && *s.conv.ID == id {
		s.conv.ID = nil
		s.conv.CreatedAt = time.Time{}
		if s.teardown != nil {
			s.teardown()
			s.teardown = nil
		}
	}
	s.mu.Unlock()
}

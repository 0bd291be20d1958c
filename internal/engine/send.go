package engine

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/ident"
	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

// Send composes, locally renders, and durably submits an outgoing message.
// The optimistic row appears immediately with status sending; on success it
// is replaced in place by the durable row, on failure it is marked failed
// and left visible for retry. Send never panics out of the pipeline: every
// failure is captured into message or error state.
func (s *Session) Send(ctx context.Context, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrContentTooLong
	}
	return s.submit(ctx, content, "")
}

// Retry resubmits a previously failed message. The original local
// identifier is preserved so the UI keeps object identity across the retry
// and no duplicate row appears.
func (s *Session) Retry(ctx context.Context, localID string) (*models.Message, error) {
	msg, ok := s.messages.Get(localID)
	if !ok || !msg.DeliveryStatus.CanTransitionTo(models.StatusSending) {
		return nil, ErrNotRetryable
	}
	return s.submit(ctx, msg.Content, localID)
}

// submit runs the send pipeline. retryID is empty for a first attempt, or
// the local id of a failed row being retried.
func (s *Session) submit(ctx context.Context, content, retryID string) (*models.Message, error) {
	// Serialize sends per conversation view.
	s.mu.Lock()
	if !s.haveConv {
		s.mu.Unlock()
		return nil, ErrNoConversation
	}
	if s.sendBusy {
		s.mu.Unlock()
		return nil, ErrSendInProgress
	}
	if _, ok := s.conv.Recipient(s.viewerID); !ok {
		s.mu.Unlock()
		s.log.Error().Msg("send aborted: conversation participants do not include a recipient")
		return nil, ErrNoRecipient
	}
	s.sendBusy = true
	epoch := s.epoch
	s.mu.Unlock()

	// Rate limit gate, before any state mutation.
	if decision := s.limiter.CheckSendAllowed(ctx, s.viewerID); !decision.Allowed {
		metrics.SendRateLimited.Inc()
		s.clearSendBusy(epoch)
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	// Obtain a durable conversation id. On total failure the send aborts
	// without touching local message state.
	convID, created, err := s.ensureConversation(ctx)
	if err != nil {
		metrics.MessagesSent.WithLabelValues("rejected").Inc()
		s.clearSendBusy(epoch)
		s.log.Warn().Err(err).Msg("send aborted: conversation resolution failed")
		return nil, err
	}

	now := s.clock()
	idempotencyKey := ident.NewIdempotencyKey(s.viewerID, now)

	// Optimistic row, or flip a failed row back to sending on retry.
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		if created {
			// This attempt created the conversation and no message will
			// follow; do not leak the empty row.
			metrics.ConversationRollbacks.Inc()
			s.rollbackConversation(ctx, epoch, convID)
		}
		return nil, ErrNoConversation
	}
	localID := retryID
	if localID == "" {
		localID = ident.NewLocalID()
		optimistic := models.Message{
			ID:             localID,
			ConversationID: convID,
			SenderID:       s.viewerID,
			Content:        content,
			SentAt:         now,
			DeliveryStatus: models.StatusSending,
		}
		s.messages.Update(func(list []models.Message) []models.Message {
			return append(list, optimistic)
		})
	} else {
		s.messages.Update(func(list []models.Message) []models.Message {
			for i := range list {
				if list[i].ID == localID {
					list[i].DeliveryStatus = models.StatusSending
					list[i].Error = ""
				}
			}
			return list
		})
	}

	// Clear the compose field and any persisted draft immediately; delivery
	// is still pending but the UI should feel responsive.
	s.composeText = ""
	s.draftTimer.Cancel()
	durableKey := s.draftKeyLocked()
	pendingKey := s.pendingDraftKeyLocked()
	s.mu.Unlock()

	s.drafts.ClearDraft(durableKey)
	if pendingKey != durableKey {
		// The draft may have been typed while the conversation was pending.
		s.drafts.ClearDraft(pendingKey)
	}

	durable, err := s.data.InsertMessage(ctx, store.InsertMessageParams{
		ConversationID: convID,
		SenderID:       s.viewerID,
		Content:        content,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, s.finishFailedSend(ctx, epoch, localID, convID, created, err)
	}

	durable.DeliveryStatus = models.StatusDelivered

	s.mu.Lock()
	if s.epoch == epoch {
		s.sendBusy = false
		// Replace the optimistic row in place, matched by local id. The
		// (sentAt, id) sort keeps list order; dedup collapses the durable id
		// if the push channel delivered it first.
		s.messages.Update(func(list []models.Message) []models.Message {
			for i := range list {
				if list[i].ID == localID {
					list[i] = *durable
				}
			}
			return list
		})
	}
	s.mu.Unlock()

	metrics.MessagesSent.WithLabelValues("delivered").Inc()

	// Broadcast so the peer's reconciler observes the insert. Best-effort:
	// the peer resynchronizes on channel degradation anyway.
	if err := s.push.Publish(ctx, convID, store.PushEvent{Type: store.PushInsert, Message: *durable}); err != nil {
		s.log.Warn().Err(err).Str("message_id", durable.ID).Msg("publish of delivered message failed")
	}

	s.emit(Event{Type: EventMessageSent, Message: durable})
	return durable, nil
}

// finishFailedSend marks the optimistic row failed with a human-readable
// reason and, when this attempt created a brand-new conversation, rolls the
// empty conversation back.
func (s *Session) finishFailedSend(ctx context.Context, epoch int, localID string, convID uuid.UUID, created bool, cause error) error {
	metrics.MessagesSent.WithLabelValues("failed").Inc()
	s.log.Warn().Err(cause).
		Str("conversation_id", convID.String()).
		Str("message_id", localID).
		Msg("message send failed")

	var failed *models.Message
	s.mu.Lock()
	if s.epoch == epoch {
		s.sendBusy = false
		s.messages.Update(func(list []models.Message) []models.Message {
			for i := range list {
				if list[i].ID == localID && list[i].DeliveryStatus.CanTransitionTo(models.StatusFailed) {
					list[i].DeliveryStatus = models.StatusFailed
					list[i].Error = failureReason(cause)
					m := list[i]
					failed = &m
				}
			}
			return list
		})
	}
	s.mu.Unlock()

	if created {
		metrics.ConversationRollbacks.Inc()
		s.rollbackConversation(ctx, epoch, convID)
	}

	if failed != nil {
		s.emit(Event{Type: EventMessageFailed, Message: failed})
	}
	return cause
}

// clearSendBusy releases the per-view send serialization if the
// conversation identity has not changed underneath.
func (s *Session) clearSendBusy(epoch int) {
	s.mu.Lock()
	if s.epoch == epoch {
		s.sendBusy = false
	}
	s.mu.Unlock()
}

// failureReason converts a backend error into the human-readable reason
// stored on the failed row. Raw backend errors stay in the logs.
func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrDuplicateIdempotencyKey):
		return "This message was already submitted."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "Sending timed out. Tap to retry."
	default:
		return "Could not send. Tap to retry."
	}
}

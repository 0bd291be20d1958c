package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

// subscribeCurrent attaches the realtime reconciler to the active
// conversation's push channel. No subscription exists while the
// conversation is pending; there is nothing to subscribe to yet. The
// subscription is torn down whenever the conversation identity changes or
// the session closes.
func (s *Session) subscribeCurrent() {
	s.mu.Lock()
	if s.closed || !s.haveConv || s.conv.ID == nil || s.teardown != nil {
		s.mu.Unlock()
		return
	}
	convID := *s.conv.ID
	epoch := s.epoch
	s.mu.Unlock()

	handler := store.PushHandler{
		OnInsert: func(m models.Message) { s.handleRemoteInsert(epoch, m) },
		OnUpdate: func(m models.Message) { s.handleRemoteUpdate(epoch, m) },
		OnHealth: func(err error) { s.handleChannelHealth(epoch, convID, err) },
	}

	teardown, err := s.push.Subscribe(context.Background(), convID, handler)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", convID.String()).Msg("push subscription failed")
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || s.teardown != nil {
		s.mu.Unlock()
		teardown()
		return
	}
	s.teardown = teardown
	s.mu.Unlock()
}

// handleRemoteInsert merges a remote insert into local state. De-duplicated
// by id before appending; peer-authored inserts feed the read receipt
// batcher and raise a received notification.
func (s *Session) handleRemoteInsert(epoch int, m models.Message) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if s.messages.Contains(m.ID) {
		metrics.RealtimeEvents.WithLabelValues("duplicate").Inc()
		s.mu.Unlock()
		return
	}
	metrics.RealtimeEvents.WithLabelValues("insert").Inc()

	m.DeliveryStatus = models.StatusDelivered
	s.messages.Update(func(list []models.Message) []models.Message {
		return append(list, m)
	})

	fromPeer := m.SenderID != s.viewerID
	if fromPeer {
		s.unread++
		s.observeReadsLocked([]models.Message{m})
	}
	s.mu.Unlock()

	if fromPeer {
		s.emit(Event{Type: EventMessageReceived, Message: &m})
	}
}

// handleRemoteUpdate replaces the matching row by id, e.g. when the peer
// applies a read receipt. Unknown ids are a no-op.
func (s *Session) handleRemoteUpdate(epoch int, m models.Message) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if !s.messages.Contains(m.ID) {
		metrics.RealtimeEvents.WithLabelValues("unknown").Inc()
		s.mu.Unlock()
		return
	}
	metrics.RealtimeEvents.WithLabelValues("update").Inc()

	m.DeliveryStatus = models.StatusDelivered
	s.messages.Update(func(list []models.Message) []models.Message {
		for i := range list {
			if list[i].ID == m.ID {
				list[i] = m
			}
		}
		return list
	})
	s.mu.Unlock()

	s.emit(Event{Type: EventMessageUpdated, Message: &m})
}

// handleChannelHealth reacts to transport degradation with a full re-fetch
// of the newest page, closing any gap a dropped connection created, rather
// than attempting partial catch-up.
func (s *Session) handleChannelHealth(epoch int, convID uuid.UUID, cause error) {
	s.log.Warn().Err(cause).Str("conversation_id", convID.String()).Msg("push channel degraded, resynchronizing")
	metrics.Resyncs.Inc()
	s.resync(context.Background(), epoch, convID)
}

// resync replaces the visible list with a fresh newest page and reseeds the
// pagination cursor.
func (s *Session) resync(ctx context.Context, epoch int, convID uuid.UUID) {
	metrics.PaginationFetches.WithLabelValues("resync").Inc()

	rows, err := s.data.ListMessages(ctx, convID, nil, s.pageSize)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", convID.String()).Msg("resynchronization fetch failed")
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	asc := reversed(rows)
	s.messages.Replace(asc)
	if len(asc) > 0 {
		c := models.CursorOf(asc[0])
		s.cursor = &c
	} else {
		s.cursor = nil
	}
	s.hasMore = len(rows) == s.pageSize
	s.observeReadsLocked(asc)
	s.mu.Unlock()

	s.emit(Event{Type: EventResync})
}

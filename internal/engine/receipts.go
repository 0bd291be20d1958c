package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

// observeReadsLocked adds peer-authored unread messages to the pending read
// set and arms the flush window. A message enters the set only if it was
// sent by the peer and is currently unread. Caller holds the session lock.
func (s *Session) observeReadsLocked(msgs []models.Message) {
	added := false
	for _, m := range msgs {
		if m.SenderID == s.viewerID || m.ReadAt != nil || m.IsLocal() {
			continue
		}
		if _, ok := s.pendingReads[m.ID]; ok {
			continue
		}
		s.pendingReads[m.ID] = m.SentAt
		added = true
	}
	if added {
		s.readTimer.Arm()
	}
}

// FlushReads delivers pending read acknowledgments immediately, e.g. when
// the conversation is opened or closed, instead of waiting for the debounce
// window.
func (s *Session) FlushReads(ctx context.Context) {
	s.readTimer.Cancel()
	s.flushReads(ctx)
}

// flushReads snapshots and clears the pending set, optimistically marks the
// messages read, and issues one mark-read-before-watermark request covering
// all of them. Only one flush is in flight at a time; ids accumulated
// meanwhile are batched into the next cycle. On failure the optimistic
// marks are reverted and the ids re-queued, invisible to the user unless
// persistent.
func (s *Session) flushReads(ctx context.Context) {
	s.mu.Lock()
	if s.flushBusy || len(s.pendingReads) == 0 || s.conv.ID == nil {
		s.mu.Unlock()
		return
	}
	s.flushBusy = true
	snapshot := s.pendingReads
	s.pendingReads = make(map[string]time.Time)
	epoch := s.epoch
	convID := *s.conv.ID
	now := s.clock()

	// Optimistic read marks; reverted if the watermark request fails.
	s.messages.Update(func(list []models.Message) []models.Message {
		for i := range list {
			if _, ok := snapshot[list[i].ID]; ok && list[i].ReadAt == nil {
				t := now
				list[i].ReadAt = &t
			}
		}
		return list
	})

	// The watermark is the latest sentAt among the pending ids, so the
	// backend reasons about a single timestamp rather than discrete ids.
	var watermark time.Time
	for _, sentAt := range snapshot {
		if sentAt.After(watermark) {
			watermark = sentAt
		}
	}
	s.mu.Unlock()

	affected, err := s.data.MarkReadBefore(ctx, convID, s.viewerID, watermark)

	s.mu.Lock()
	s.flushBusy = false
	if err != nil {
		metrics.ReadFlushes.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).
			Str("conversation_id", convID.String()).
			Int("batch", len(snapshot)).
			Msg("read receipt flush failed")

		if s.epoch == epoch {
			// Revert the optimistic marks and retry the whole batch on the
			// next debounce cycle.
			s.messages.Update(func(list []models.Message) []models.Message {
				for i := range list {
					if _, ok := snapshot[list[i].ID]; ok {
						list[i].ReadAt = nil
					}
				}
				return list
			})
			for id, sentAt := range snapshot {
				s.pendingReads[id] = sentAt
			}
			s.readTimer.Arm()
		} else {
			// The conversation identity changed while the flush was in
			// flight, so the batch cannot ride a next cycle here. Retry it
			// on the leftover path; acknowledged reads must not be lost.
			go s.deliverLeftoverReads(convID, snapshot)
		}
		s.mu.Unlock()
		return
	}

	metrics.ReadFlushes.WithLabelValues("ok").Inc()
	metrics.ReadMarked.Add(float64(affected))

	s.unread -= affected
	if s.unread < 0 {
		s.unread = 0
	}
	unread := s.unread

	// Ids that arrived while this flush was outstanding go to the next
	// timer cycle, never merged into the in-flight request.
	if len(s.pendingReads) > 0 {
		s.readTimer.Arm()
	}
	snapshotMsgs := s.readSnapshotLocked(snapshot)
	s.mu.Unlock()

	// Let the peer's reconciler see the receipts.
	for _, m := range snapshotMsgs {
		if err := s.push.Publish(ctx, convID, store.PushEvent{Type: store.PushUpdate, Message: m}); err != nil {
			s.log.Debug().Err(err).Str("message_id", m.ID).Msg("publish of read receipt failed")
			break
		}
	}

	s.emit(Event{Type: EventReadStateChanged, Unread: unread})
}

// deliverLeftoverReads issues the watermark for pending ids that could not
// ride an in-flight flush when the conversation identity changed. The local
// list for that conversation is gone, so only the durable acknowledgment
// matters.
func (s *Session) deliverLeftoverReads(convID uuid.UUID, snapshot map[string]time.Time) {
	var watermark time.Time
	for _, sentAt := range snapshot {
		if sentAt.After(watermark) {
			watermark = sentAt
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	affected, err := s.data.MarkReadBefore(ctx, convID, s.viewerID, watermark)
	if err != nil {
		metrics.ReadFlushes.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).
			Str("conversation_id", convID.String()).
			Msg("leftover read receipt delivery failed")
		return
	}

	metrics.ReadFlushes.WithLabelValues("ok").Inc()
	metrics.ReadMarked.Add(float64(affected))

	s.mu.Lock()
	s.unread -= affected
	if s.unread < 0 {
		s.unread = 0
	}
	unread := s.unread
	s.mu.Unlock()

	s.emit(Event{Type: EventReadStateChanged, Unread: unread})
}

// readSnapshotLocked returns the current rows for the flushed ids, for
// broadcasting their read state. Caller holds the session lock.
func (s *Session) readSnapshotLocked(snapshot map[string]time.Time) []models.Message {
	out := make([]models.Message, 0, len(snapshot))
	for _, m := range s.messages.Snapshot() {
		if _, ok := snapshot[m.ID]; ok {
			out = append(out, m)
		}
	}
	return out
}

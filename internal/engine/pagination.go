package engine

import (
	"context"

	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
)

// initialFetch is the shared result of an in-flight initial load. Concurrent
// callers wait on done and observe the same outcome instead of issuing a
// second fetch.
type initialFetch struct {
	done chan struct{}
	err  error
}

// LoadInitial fetches the newest page, seeds the pagination cursor from the
// oldest row, and records whether more history may exist. Single-flight: a
// caller arriving while a fetch is outstanding receives the in-flight
// result. A pending conversation has nothing to load and returns nil.
func (s *Session) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	if !s.haveConv || s.conv.ID == nil {
		s.mu.Unlock()
		return nil
	}
	if f := s.initial; f != nil {
		s.mu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &initialFetch{done: make(chan struct{})}
	s.initial = f
	epoch := s.epoch
	convID := *s.conv.ID
	s.mu.Unlock()

	metrics.PaginationFetches.WithLabelValues("initial").Inc()

	// Newest page, descending; reversed to the canonical ascending order.
	rows, err := s.data.ListMessages(ctx, convID, nil, s.pageSize)

	s.mu.Lock()
	if s.epoch == epoch {
		s.initial = nil
		if err != nil {
			s.log.Warn().Err(err).Str("conversation_id", convID.String()).Msg("initial message load failed")
		} else {
			asc := reversed(rows)
			s.messages.Replace(asc)
			if len(asc) > 0 {
				c := models.CursorOf(asc[0])
				s.cursor = &c
			} else {
				s.cursor = nil
			}
			// A full page means more history may exist.
			s.hasMore = len(rows) == s.pageSize
			s.observeReadsLocked(asc)
		}
	}
	s.mu.Unlock()

	f.err = err
	close(f.done)
	return err
}

// LoadOlder fetches the page strictly older than the current cursor and
// prepends it. No-ops when there is no cursor, a fetch is already in
// progress, or a prior fetch signaled exhaustion. Returns whether any rows
// were loaded, so an infinite-scroll caller knows whether to keep
// requesting. Errors leave the more-history flag unchanged; retry is by a
// later caller action.
func (s *Session) LoadOlder(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.cursor == nil || s.loadingOlder || !s.hasMore || s.conv.ID == nil {
		s.mu.Unlock()
		return false, nil
	}
	s.loadingOlder = true
	cursor := *s.cursor
	epoch := s.epoch
	convID := *s.conv.ID
	s.mu.Unlock()

	metrics.PaginationFetches.WithLabelValues("older").Inc()

	rows, err := s.data.ListMessages(ctx, convID, &cursor, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false, nil
	}
	s.loadingOlder = false

	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", convID.String()).Msg("older message load failed")
		return false, err
	}

	if len(rows) < s.pageSize {
		s.hasMore = false
	}
	if len(rows) == 0 {
		return false, nil
	}

	asc := reversed(rows)
	before := s.messages.Len()
	s.messages.Update(func(list []models.Message) []models.Message {
		return append(asc, list...)
	})
	c := models.CursorOf(asc[0])
	s.cursor = &c
	s.observeReadsLocked(asc)

	return s.messages.Len() > before, nil
}

// reversed returns the rows in opposite order without mutating the input.
func reversed(rows []models.Message) []models.Message {
	out := make([]models.Message, len(rows))
	for i, m := range rows {
		out[len(rows)-1-i] = m
	}
	return out
}

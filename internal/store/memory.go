package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// In-memory fallbacks for the Redis-backed collaborators, used in
// development deployments without Redis and in tests. All are safe for
// concurrent use.

// MemoryPushChannel is an in-process push transport.
type MemoryPushChannel struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[int]PushHandler
	next int
}

// NewMemoryPushChannel creates an in-process push channel.
func NewMemoryPushChannel() *MemoryPushChannel {
	return &MemoryPushChannel{subs: make(map[uuid.UUID]map[int]PushHandler)}
}

// Subscribe registers a handler for a conversation and returns an
// idempotent teardown function.
func (c *MemoryPushChannel) Subscribe(ctx context.Context, conversationID uuid.UUID, handler PushHandler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[conversationID] == nil {
		c.subs[conversationID] = make(map[int]PushHandler)
	}
	id := c.next
	c.next++
	c.subs[conversationID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[conversationID], id)
		})
	}, nil
}

// Publish delivers an event to every subscriber of the conversation.
// Handlers run outside the channel lock so they may resubscribe.
func (c *MemoryPushChannel) Publish(ctx context.Context, conversationID uuid.UUID, event PushEvent) error {
	c.mu.Lock()
	handlers := make([]PushHandler, 0, len(c.subs[conversationID]))
	for _, h := range c.subs[conversationID] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		switch event.Type {
		case PushInsert:
			if h.OnInsert != nil {
				h.OnInsert(event.Message)
			}
		case PushUpdate:
			if h.OnUpdate != nil {
				h.OnUpdate(event.Message)
			}
		}
	}
	return nil
}

// MemoryDraftStore keeps drafts in process memory.
type MemoryDraftStore struct {
	mu     sync.Mutex
	drafts map[string]string
}

// NewMemoryDraftStore creates an in-memory draft store.
func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{drafts: make(map[string]string)}
}

// GetDraft retrieves persisted compose text, or "" if none exists.
func (s *MemoryDraftStore) GetDraft(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[key]
}

// SetDraft persists compose text.
func (s *MemoryDraftStore) SetDraft(key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[key] = text
}

// ClearDraft removes persisted compose text.
func (s *MemoryDraftStore) ClearDraft(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, key)
}

// MemoryRateLimiter gates sends with a token bucket per user.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewMemoryRateLimiter creates an in-memory send limiter allowing limit
// sends per window on average, with bursts up to the same count.
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

// CheckSendAllowed consumes one token from the user's bucket.
func (l *MemoryRateLimiter) CheckSendAllowed(ctx context.Context, userID uuid.UUID) Decision {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()

	res := lim.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

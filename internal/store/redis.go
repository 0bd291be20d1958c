package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	draftTTL       = 30 * 24 * time.Hour
	draftOpTimeout = 2 * time.Second
)

// RedisStore carries the non-database collaborators: the realtime push
// channel (pub/sub), the send rate limiter, and the draft store.
type RedisStore struct {
	client *redis.Client

	sendLimit  int
	sendWindow time.Duration
}

// NewRedisStore creates a new Redis store. sendLimit/sendWindow configure
// the per-user send gate.
func NewRedisStore(ctx context.Context, redisURL string, sendLimit int, sendWindow time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client, sendLimit: sendLimit, sendWindow: sendWindow}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for collaborators that run their own
// commands, such as the HTTP rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// conversationChannel returns the pub/sub channel name for a conversation.
func conversationChannel(conversationID uuid.UUID) string {
	return fmt.Sprintf("conv:%s:events", conversationID)
}

// Publish broadcasts a push event to the conversation's subscribers.
func (s *RedisStore) Publish(ctx context.Context, conversationID uuid.UUID, event PushEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, conversationChannel(conversationID), data).Err()
}

// Subscribe starts push delivery for a conversation and returns an
// idempotent teardown function. Receive errors are surfaced through
// OnHealth so the subscriber can resynchronize; the loop then resumes.
func (s *RedisStore) Subscribe(ctx context.Context, conversationID uuid.UUID, handler PushHandler) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(subCtx, conversationChannel(conversationID))

	// Confirm the subscription before returning so no events are missed.
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		pubsub.Close()
		return nil, err
	}

	go func() {
		for {
			msg, err := pubsub.ReceiveMessage(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				if handler.OnHealth != nil {
					handler.OnHealth(err)
				}
				// Brief pause before the client re-establishes the
				// subscription; resync has already been requested.
				time.Sleep(time.Second)
				continue
			}

			var event PushEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}

			switch event.Type {
			case PushInsert:
				if handler.OnInsert != nil {
					handler.OnInsert(event.Message)
				}
			case PushUpdate:
				if handler.OnUpdate != nil {
					handler.OnUpdate(event.Message)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			pubsub.Close()
		})
	}, nil
}

// draftsKey returns the key for a viewer's draft hash. Drafts are keyed per
// viewer so they do not leak across accounts sharing a device.
func draftsKey(key string) string {
	return "drafts:" + key
}

// GetDraft retrieves persisted compose text, or "" if none exists.
// Best-effort: a Redis failure reads as no draft.
func (s *RedisStore) GetDraft(key string) string {
	ctx, cancel := context.WithTimeout(context.Background(), draftOpTimeout)
	defer cancel()

	text, err := s.client.Get(ctx, draftsKey(key)).Result()
	if err != nil {
		return ""
	}
	return text
}

// SetDraft persists compose text. Best-effort: failures are dropped.
func (s *RedisStore) SetDraft(key, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), draftOpTimeout)
	defer cancel()

	s.client.Set(ctx, draftsKey(key), text, draftTTL)
}

// ClearDraft removes persisted compose text. Best-effort.
func (s *RedisStore) ClearDraft(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), draftOpTimeout)
	defer cancel()

	s.client.Del(ctx, draftsKey(key))
}

// sendRateKey returns the key for a user's send rate window.
func sendRateKey(userID uuid.UUID) string {
	return "ratelimit:send:" + userID.String()
}

// CheckSendAllowed checks the per-user sliding send window and counts this
// attempt against it. A denial carries a retry hint for the user-facing
// message.
func (s *RedisStore) CheckSendAllowed(ctx context.Context, userID uuid.UUID) Decision {
	now := time.Now()
	windowStart := now.Add(-s.sendWindow)
	key := sendRateKey(userID)

	pipe := s.client.Pipeline()

	// Remove old entries outside window
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))

	// Count current entries
	countCmd := pipe.ZCard(ctx, key)

	// Add current attempt with unique member
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})

	// Set TTL on key
	pipe.Expire(ctx, key, s.sendWindow*2)

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: a degraded limiter must not block messaging.
		return Decision{Allowed: true}
	}

	if countCmd.Val() >= int64(s.sendLimit) {
		return Decision{Allowed: false, RetryAfter: s.sendWindow}
	}
	return Decision{Allowed: true}
}

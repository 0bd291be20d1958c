package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/models"
)

func TestMemoryPushChannelDeliversToSubscribers(t *testing.T) {
	ch := NewMemoryPushChannel()
	convID := uuid.New()

	var gotInsert, gotUpdate models.Message
	teardown, err := ch.Subscribe(context.Background(), convID, PushHandler{
		OnInsert: func(m models.Message) { gotInsert = m },
		OnUpdate: func(m models.Message) { gotUpdate = m },
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer teardown()

	ch.Publish(context.Background(), convID, PushEvent{Type: PushInsert, Message: models.Message{ID: "i1"}})
	ch.Publish(context.Background(), convID, PushEvent{Type: PushUpdate, Message: models.Message{ID: "u1"}})

	if gotInsert.ID != "i1" || gotUpdate.ID != "u1" {
		t.Fatalf("delivery mismatch: insert=%q update=%q", gotInsert.ID, gotUpdate.ID)
	}
}

func TestMemoryPushChannelScopesByConversation(t *testing.T) {
	ch := NewMemoryPushChannel()
	var calls int
	teardown, _ := ch.Subscribe(context.Background(), uuid.New(), PushHandler{
		OnInsert: func(models.Message) { calls++ },
	})
	defer teardown()

	ch.Publish(context.Background(), uuid.New(), PushEvent{Type: PushInsert})
	if calls != 0 {
		t.Error("event leaked across conversations")
	}
}

func TestMemoryPushChannelTeardownIsIdempotent(t *testing.T) {
	ch := NewMemoryPushChannel()
	convID := uuid.New()

	var calls int
	teardown, _ := ch.Subscribe(context.Background(), convID, PushHandler{
		OnInsert: func(models.Message) { calls++ },
	})

	teardown()
	teardown() // second call must not panic or affect other subscribers

	ch.Publish(context.Background(), convID, PushEvent{Type: PushInsert})
	if calls != 0 {
		t.Error("torn-down subscriber still receiving")
	}
}

func TestMemoryDraftStoreRoundTrip(t *testing.T) {
	s := NewMemoryDraftStore()

	s.SetDraft("k", "text")
	if got := s.GetDraft("k"); got != "text" {
		t.Fatalf("GetDraft = %q", got)
	}
	s.ClearDraft("k")
	if got := s.GetDraft("k"); got != "" {
		t.Fatalf("draft survived clear: %q", got)
	}
}

func TestMemoryRateLimiterDeniesAfterBurst(t *testing.T) {
	l := NewMemoryRateLimiter(3, time.Minute)
	user := uuid.New()

	for i := 0; i < 3; i++ {
		if d := l.CheckSendAllowed(context.Background(), user); !d.Allowed {
			t.Fatalf("send %d denied inside burst", i)
		}
	}
	d := l.CheckSendAllowed(context.Background(), user)
	if d.Allowed {
		t.Fatal("burst exceeded but send allowed")
	}
	if d.RetryAfter <= 0 {
		t.Error("denial missing a retry hint")
	}

	// Other users have their own bucket.
	if d := l.CheckSendAllowed(context.Background(), uuid.New()); !d.Allowed {
		t.Error("fresh user denied")
	}
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

func TestRemoteInsertFromPeer(t *testing.T) {
	h := newHarness(t, Options{})
	conv := h.openDurable(t)

	incoming := models.Message{
		ID:             "m1",
		ConversationID: *conv.ID,
		SenderID:       h.peer,
		Content:        "hey",
		SentAt:         time.Now(),
	}
	h.push.Publish(context.Background(), *conv.ID, store.PushEvent{Type: store.PushInsert, Message: incoming})

	got := h.session.Messages()
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("peer insert not merged: %v", got)
	}
	if got[0].DeliveryStatus != models.StatusDelivered {
		t.Errorf("status = %q, want delivered", got[0].DeliveryStatus)
	}
	if h.session.Unread() != 1 {
		t.Errorf("unread = %d, want 1", h.session.Unread())
	}
	if !h.events.has(EventMessageReceived) {
		t.Error("message_received event not emitted")
	}
}

func TestRemoteInsertDeduplicatesByID(t *testing.T) {
	h := newHarness(t, Options{})
	conv := h.openDurable(t)

	m := models.Message{ID: "m1", ConversationID: *conv.ID, SenderID: h.peer, SentAt: time.Now()}
	h.push.Publish(context.Background(), *conv.ID, store.PushEvent{Type: store.PushInsert, Message: m})
	h.push.Publish(context.Background(), *conv.ID, store.PushEvent{Type: store.PushInsert, Message: m})

	if h.session.Messages()[0].ID != "m1" || len(h.session.Messages()) != 1 {
		t.Fatal("duplicate insert not collapsed")
	}
	if h.session.Unread() != 1 {
		t.Errorf("duplicate insert double-counted unread: %d", h.session.Unread())
	}
}

func TestOwnInsertLoopbackDoesNotCountUnread(t *testing.T) {
	h := newHarness(t, Options{})
	conv := h.openDurable(t)

	// The sender's own publish loops back over the channel.
	own := models.Message{ID: "m1", ConversationID: *conv.ID, SenderID: h.viewer, SentAt: time.Now()}
	h.push.Publish(context.Background(), *conv.ID, store.PushEvent{Type: store.PushInsert, Message: own})

	if h.session.Unread() != 0 {
		t.Errorf("own message counted as unread: %d", h.session.Unread())
	}
	if h.events.has(EventMessageReceived) {
		t.Error("own message raised a received notification")
	}
}

func TestRemoteUpdateAppliesReadReceipt(t *testing.T) {
	h := newHarness(t, Options{})
	conv := h.openDurable(t)

	sent, err := h.session.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	read := time.Now()
	updated := *sent
	updated.ReadAt = &read
	h.push.Publish(context.Background(), *conv.ID, store.PushEvent{Type: store.PushUpdate, Message: updated})

	got, ok := h.session.messages.Get(sent.ID)
	if !ok || got.ReadAt == nil {
		t.Fatal("read receipt update not applied")
	}
	if !h.events.has(EventMessageUpdated) {
		t.Error("message_updated event not emitted")
	}
}

func TestRemoteUpdateUnknownIDIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	conv := h.openDurable(t)

	unknown := models.Message{ID: "never-seen", ConversationID: *conv.ID, SenderID: h.peer, SentAt: time.Now()}
	h.push.Publish(context.Background(), *conv.ID, store.PushEvent{Type: store.PushUpdate, Message: unknown})

	if len(h.session.Messages()) != 0 {
		t.Error("unknown update materialized a row")
	}
	if h.events.has(EventMessageUpdated) {
		t.Error("unknown update emitted an event")
	}
}

func TestChannelDegradationTriggersResync(t *testing.T) {
	h := newHarness(t, Options{PageSize: 50})
	conv := h.openDurable(t)
	h.seedHistory(*conv.ID, 3)

	if err := h.session.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	// A message the push channel dropped while degraded.
	missed := h.store.seedMessage(*conv.ID, h.peer, "missed", time.Now())

	h.session.handleChannelHealth(currentEpoch(h.session), *conv.ID, errors.New("connection reset"))

	got := h.session.Messages()
	found := false
	for _, m := range got {
		if m.ID == missed.ID {
			found = true
		}
	}
	if !found {
		t.Error("resync did not close the gap left by the degraded channel")
	}
	if !h.events.has(EventResync) {
		t.Error("resync event not emitted")
	}
}

func TestStaleEpochEventsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	conv := h.openDurable(t)
	stale := currentEpoch(h.session)

	// Switch away; completions for the old conversation must be discarded.
	next := h.store.seedConversation(h.viewer, uuid.New())
	h.session.SetConversation(context.Background(), next)

	h.session.handleRemoteInsert(stale, models.Message{ID: "old", ConversationID: *conv.ID, SenderID: h.peer, SentAt: time.Now()})

	if len(h.session.Messages()) != 0 {
		t.Error("stale insert mutated the new conversation's list")
	}
	if h.session.Unread() != 0 {
		t.Error("stale insert adjusted unread")
	}
}

func TestSubscriptionTornDownOnSwitch(t *testing.T) {
	h := newHarness(t, Options{})
	conv := h.openDurable(t)

	next := h.store.seedConversation(h.viewer, uuid.New())
	h.session.SetConversation(context.Background(), next)

	// Traffic on the old channel no longer reaches the session.
	h.push.Publish(context.Background(), *conv.ID, store.PushEvent{
		Type:    store.PushInsert,
		Message: models.Message{ID: "orphan", ConversationID: *conv.ID, SenderID: h.peer, SentAt: time.Now()},
	})

	if len(h.session.Messages()) != 0 {
		t.Error("old subscription still delivering after switch")
	}
}

package engine

import (
	"context"
	"testing"

	"github.com/eldtechnologies/parley/internal/store"
)

func TestEnsureConversationFastPathForDurable(t *testing.T) {
	h := newHarness(t, Options{})
	conv := h.openDurable(t)

	id, created, err := h.session.ensureConversation(context.Background())
	if err != nil {
		t.Fatalf("ensureConversation: %v", err)
	}
	if created {
		t.Error("durable conversation reported as created")
	}
	if id != *conv.ID {
		t.Errorf("id = %v, want %v", id, *conv.ID)
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.conversations) != 1 {
		t.Error("fast path touched the store")
	}
}

func TestEnsureConversationConvergesOnCreationRace(t *testing.T) {
	h := newHarness(t, Options{})
	h.openPending(t)

	// The peer created the conversation between our pending open and our
	// first send. Creation conflicts; the pair lookup converges.
	winner := h.store.seedConversation(h.peer, h.viewer)

	id, created, err := h.session.ensureConversation(context.Background())
	if err != nil {
		t.Fatalf("ensureConversation: %v", err)
	}
	if created {
		t.Error("lost race reported as created")
	}
	if id != *winner.ID {
		t.Errorf("converged on %v, want the existing record %v", id, *winner.ID)
	}

	conv, ok := h.session.Conversation()
	if !ok || conv.ID == nil || *conv.ID != *winner.ID {
		t.Error("session did not adopt the existing conversation")
	}
}

func TestEnsureConversationGoneIsUnrecoverable(t *testing.T) {
	h := newHarness(t, Options{})
	h.openPending(t)

	// Creation conflicts but the lookup also finds nothing.
	h.store.mu.Lock()
	h.store.createErr = store.ErrConversationExists
	h.store.mu.Unlock()

	if _, _, err := h.session.ensureConversation(context.Background()); err != ErrConversationGone {
		t.Fatalf("got %v, want ErrConversationGone", err)
	}

	// The session stays pending; no phantom id was adopted.
	conv, ok := h.session.Conversation()
	if !ok || conv.ID != nil {
		t.Error("session adopted an id that does not exist")
	}
}

func TestAdoptSubscribesRealtime(t *testing.T) {
	h := newHarness(t, Options{})
	h.openPending(t)

	if _, err := h.session.Send(context.Background(), "first"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	h.session.mu.Lock()
	subscribed := h.session.teardown != nil
	h.session.mu.Unlock()
	if !subscribed {
		t.Error("resolved conversation has no push subscription")
	}
}

package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLessOrdersBySentAtThenID(t *testing.T) {
	base := time.Now()
	earlier := Message{ID: "z", SentAt: base}
	later := Message{ID: "a", SentAt: base.Add(time.Second)}

	if !Less(earlier, later) {
		t.Error("earlier sentAt should order first regardless of id")
	}

	tieA := Message{ID: "a", SentAt: base}
	tieB := Message{ID: "b", SentAt: base}
	if !Less(tieA, tieB) || Less(tieB, tieA) {
		t.Error("equal sentAt should tie-break by id")
	}
}

func TestIsLocal(t *testing.T) {
	local := Message{ID: "local-01J0000000000000000000000"}
	durable := Message{ID: uuid.NewString()}

	if !local.IsLocal() {
		t.Error("local-prefixed id not recognized")
	}
	if durable.IsLocal() {
		t.Error("server id misclassified as local")
	}
}

func TestRecipient(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	conv := Conversation{ParticipantOneID: a, ParticipantTwoID: b}

	if got, ok := conv.Recipient(a); !ok || got != b {
		t.Errorf("Recipient(a) = %v, %v", got, ok)
	}
	if got, ok := conv.Recipient(b); !ok || got != a {
		t.Errorf("Recipient(b) = %v, %v", got, ok)
	}
	if _, ok := conv.Recipient(uuid.New()); ok {
		t.Error("stranger resolved to a recipient")
	}
}

func TestPendingIsNilID(t *testing.T) {
	conv := Conversation{}
	if !conv.Pending() {
		t.Error("nil id should be pending")
	}
	id := uuid.New()
	conv.ID = &id
	if conv.Pending() {
		t.Error("non-nil id should not be pending")
	}
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/eldtechnologies/parley/internal/models"
)

func TestLoadInitialSeedsWindowAndCursor(t *testing.T) {
	h := newHarness(t, Options{PageSize: 50})
	conv := h.openDurable(t)
	seeded := h.seedHistory(*conv.ID, 120)

	if err := h.session.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	got := h.session.Messages()
	if len(got) != 50 {
		t.Fatalf("got %d messages, want 50", len(got))
	}
	// Window holds the newest 50, ascending.
	if got[len(got)-1].ID != seeded[len(seeded)-1].ID {
		t.Error("newest message missing from initial window")
	}
	if got[0].ID != seeded[70].ID {
		t.Errorf("window starts at %q, want %q", got[0].ID, seeded[70].ID)
	}
	if !h.session.HasMore() {
		t.Error("full page should leave more history available")
	}
}

func TestLoadInitialEmptyConversation(t *testing.T) {
	h := newHarness(t, Options{PageSize: 50})
	h.openDurable(t)

	if err := h.session.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if len(h.session.Messages()) != 0 {
		t.Error("empty conversation should yield no messages")
	}
	if h.session.HasMore() {
		t.Error("short page should signal exhaustion")
	}
}

func TestLoadInitialPendingConversationIsNoop(t *testing.T) {
	h := newHarness(t, Options{PageSize: 50})
	h.openPending(t)

	if err := h.session.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	h.store.mu.Lock()
	calls := h.store.listCalls
	h.store.mu.Unlock()
	if calls != 0 {
		t.Errorf("pending conversation issued %d fetches, want 0", calls)
	}
}

func TestLoadOlderWalksHistoryToExhaustion(t *testing.T) {
	h := newHarness(t, Options{PageSize: 50})
	conv := h.openDurable(t)
	h.seedHistory(*conv.ID, 120)

	if err := h.session.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	changed, err := h.session.LoadOlder(context.Background())
	if err != nil || !changed {
		t.Fatalf("first LoadOlder: changed=%v err=%v", changed, err)
	}
	if len(h.session.Messages()) != 100 {
		t.Fatalf("after first older page: %d messages, want 100", len(h.session.Messages()))
	}

	changed, err = h.session.LoadOlder(context.Background())
	if err != nil || !changed {
		t.Fatalf("second LoadOlder: changed=%v err=%v", changed, err)
	}
	if len(h.session.Messages()) != 120 {
		t.Fatalf("after second older page: %d messages, want 120", len(h.session.Messages()))
	}
	if h.session.HasMore() {
		t.Error("short page should clear the more-history flag")
	}

	// Exhausted: further calls are no-ops that never hit the store.
	h.store.mu.Lock()
	before := h.store.listCalls
	h.store.mu.Unlock()
	changed, err = h.session.LoadOlder(context.Background())
	if err != nil || changed {
		t.Fatalf("exhausted LoadOlder: changed=%v err=%v", changed, err)
	}
	h.store.mu.Lock()
	after := h.store.listCalls
	h.store.mu.Unlock()
	if after != before {
		t.Error("exhausted LoadOlder still issued a fetch")
	}
}

func TestLoadOlderKeepsOrderAndUniqueness(t *testing.T) {
	h := newHarness(t, Options{PageSize: 50})
	conv := h.openDurable(t)
	h.seedHistory(*conv.ID, 120)

	if err := h.session.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	for {
		changed, err := h.session.LoadOlder(context.Background())
		if err != nil {
			t.Fatalf("LoadOlder: %v", err)
		}
		if !changed {
			break
		}
	}

	got := h.session.Messages()
	seen := make(map[string]bool, len(got))
	for i, m := range got {
		if seen[m.ID] {
			t.Fatalf("duplicate message id %q", m.ID)
		}
		seen[m.ID] = true
		if i > 0 && models.Less(m, got[i-1]) {
			t.Fatalf("messages out of order at index %d", i)
		}
	}
}

func TestLoadInitialSingleFlight(t *testing.T) {
	h := newHarness(t, Options{PageSize: 50})
	conv := h.openDurable(t)
	h.seedHistory(*conv.ID, 10)

	release := make(chan struct{})
	h.store.mu.Lock()
	h.store.onList = func() { <-release }
	h.store.mu.Unlock()

	errs := make(chan error, 2)
	go func() { errs <- h.session.LoadInitial(context.Background()) }()

	// Wait until the first fetch is in flight, then pile on a second caller.
	waitFor(t, time.Second, func() bool {
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		return h.store.listCalls == 1
	}, "first fetch to start")
	go func() { errs <- h.session.LoadInitial(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("LoadInitial: %v", err)
		}
	}

	h.store.mu.Lock()
	calls := h.store.listCalls
	h.store.mu.Unlock()
	if calls != 1 {
		t.Fatalf("concurrent initial loads issued %d fetches, want 1", calls)
	}
	if len(h.session.Messages()) != 10 {
		t.Fatalf("got %d messages, want 10", len(h.session.Messages()))
	}
}

func TestLoadOlderErrorLeavesStateRetryable(t *testing.T) {
	h := newHarness(t, Options{PageSize: 5})
	conv := h.openDurable(t)
	h.seedHistory(*conv.ID, 12)

	if err := h.session.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	h.store.mu.Lock()
	h.store.listErr = context.DeadlineExceeded
	h.store.mu.Unlock()

	if _, err := h.session.LoadOlder(context.Background()); err == nil {
		t.Fatal("expected error from failed older fetch")
	}
	if !h.session.HasMore() {
		t.Error("failed fetch must not clear the more-history flag")
	}

	h.store.mu.Lock()
	h.store.listErr = nil
	h.store.mu.Unlock()

	changed, err := h.session.LoadOlder(context.Background())
	if err != nil || !changed {
		t.Fatalf("retry after failure: changed=%v err=%v", changed, err)
	}
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

// fakeStore is an in-memory DataStore with error injection and call
// counters, shared by the engine tests.
type fakeStore struct {
	mu sync.Mutex

	messages      map[uuid.UUID][]models.Message
	conversations map[string]models.Conversation
	profiles      map[uuid.UUID]models.Profile
	usedKeys      map[string]bool

	listErr     error
	insertErr   error
	createErr   error
	markReadErr error

	onList     func()
	onMarkRead func(call int)
	onCreate   func()

	listCalls     int
	markReadCalls int
	watermarks    []time.Time

	clock func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:      make(map[uuid.UUID][]models.Message),
		conversations: make(map[string]models.Conversation),
		profiles:      make(map[uuid.UUID]models.Profile),
		usedKeys:      make(map[string]bool),
		clock:         time.Now,
	}
}

func (f *fakeStore) Close()                         {}
func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) ListMessages(ctx context.Context, conversationID uuid.UUID, before *models.Cursor, limit int) ([]models.Message, error) {
	f.mu.Lock()
	f.listCalls++
	hook := f.onList
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	var rows []models.Message
	for _, m := range f.messages[conversationID] {
		if before != nil {
			if !m.SentAt.Before(before.SentAt) && !(m.SentAt.Equal(before.SentAt) && m.ID < before.ID) {
				continue
			}
		}
		rows = append(rows, m)
	}
	// Newest first
	sort.Slice(rows, func(i, j int) bool { return models.Less(rows[j], rows[i]) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, params store.InsertMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if f.usedKeys[params.IdempotencyKey] {
		return nil, store.ErrDuplicateIdempotencyKey
	}
	f.usedKeys[params.IdempotencyKey] = true

	m := models.Message{
		ID:             uuid.NewString(),
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		Content:        params.Content,
		SentAt:         f.clock(),
		DeliveryStatus: models.StatusDelivered,
		Metadata:       params.Metadata,
	}
	f.messages[params.ConversationID] = append(f.messages[params.ConversationID], m)
	return &m, nil
}

func pairName(a, b uuid.UUID) string {
	one, two := models.PairKey(a, b)
	return one.String() + ":" + two.String()
}

func (f *fakeStore) FindConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.conversations[pairName(a, b)]; ok {
		c := conv
		return &c, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	f.mu.Lock()
	if f.createErr != nil {
		f.mu.Unlock()
		return nil, f.createErr
	}
	key := pairName(a, b)
	if _, ok := f.conversations[key]; ok {
		f.mu.Unlock()
		return nil, store.ErrConversationExists
	}
	id := uuid.New()
	one, two := models.PairKey(a, b)
	conv := models.Conversation{
		ID:               &id,
		ParticipantOneID: one,
		ParticipantTwoID: two,
		CreatedAt:        f.clock(),
	}
	f.conversations[key] = conv
	hook := f.onCreate
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	c := conv
	return &c, nil
}

func (f *fakeStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, conv := range f.conversations {
		if conv.ID != nil && *conv.ID == id {
			delete(f.conversations, key)
		}
	}
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) MarkReadBefore(ctx context.Context, conversationID, reader uuid.UUID, watermark time.Time) (int64, error) {
	f.mu.Lock()
	f.markReadCalls++
	call := f.markReadCalls
	hook := f.onMarkRead
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return 0, f.markReadErr
	}
	f.watermarks = append(f.watermarks, watermark)

	var affected int64
	now := f.clock()
	rows := f.messages[conversationID]
	for i := range rows {
		if rows[i].SenderID == reader || rows[i].ReadAt != nil || rows[i].SentAt.After(watermark) {
			continue
		}
		t := now
		rows[i].ReadAt = &t
		affected++
	}
	return affected, nil
}

func (f *fakeStore) CountUnread(ctx context.Context, reader uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, rows := range f.messages {
		for _, m := range rows {
			if m.SenderID != reader && m.ReadAt == nil {
				count++
			}
		}
	}
	return count, nil
}

func (f *fakeStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[id]; ok {
		return &p, nil
	}
	return nil, nil
}

// seedConversation registers a durable conversation between the two users.
func (f *fakeStore) seedConversation(a, b uuid.UUID) models.Conversation {
	conv, _ := f.CreateConversation(context.Background(), a, b)
	return *conv
}

// seedMessage appends a durable message row.
func (f *fakeStore) seedMessage(convID, sender uuid.UUID, content string, sentAt time.Time) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       sender,
		Content:        content,
		SentAt:         sentAt,
		DeliveryStatus: models.StatusDelivered,
	}
	f.messages[convID] = append(f.messages[convID], m)
	return m
}

// allowAllLimiter always permits sends.
type allowAllLimiter struct{}

func (allowAllLimiter) CheckSendAllowed(ctx context.Context, userID uuid.UUID) store.Decision {
	return store.Decision{Allowed: true}
}

// denyLimiter always rejects sends with a retry hint.
type denyLimiter struct{ retryAfter time.Duration }

func (l denyLimiter) CheckSendAllowed(ctx context.Context, userID uuid.UUID) store.Decision {
	return store.Decision{Allowed: false, RetryAfter: l.retryAfter}
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) has(t EventType) bool {
	for _, got := range r.types() {
		if got == t {
			return true
		}
	}
	return false
}

// harness wires a session to fake collaborators. Debounce intervals are an
// hour so timers never fire during a test; flushes are invoked explicitly.
type harness struct {
	store   *fakeStore
	push    *store.MemoryPushChannel
	drafts  *store.MemoryDraftStore
	events  *eventRecorder
	session *Session
	viewer  uuid.UUID
	peer    uuid.UUID
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		store:  newFakeStore(),
		push:   store.NewMemoryPushChannel(),
		drafts: store.NewMemoryDraftStore(),
		events: &eventRecorder{},
		viewer: uuid.New(),
		peer:   uuid.New(),
	}

	if opts.ReadFlushInterval == 0 {
		opts.ReadFlushInterval = time.Hour
	}
	if opts.DraftDebounce == 0 {
		opts.DraftDebounce = time.Hour
	}
	opts.Logger = zerolog.Nop()
	opts.Events = h.events.record

	h.session = NewSession(h.viewer, h.store, h.push, h.drafts, allowAllLimiter{}, opts)
	t.Cleanup(func() { h.session.Close(context.Background()) })
	return h
}

// openDurable seeds a durable conversation and switches the session to it.
func (h *harness) openDurable(t *testing.T) models.Conversation {
	t.Helper()
	conv := h.store.seedConversation(h.viewer, h.peer)
	h.session.SetConversation(context.Background(), conv)
	return conv
}

// openPending switches the session to a pending conversation with the peer.
func (h *harness) openPending(t *testing.T) {
	t.Helper()
	one, two := models.PairKey(h.viewer, h.peer)
	h.session.SetConversation(context.Background(), models.Conversation{
		ParticipantOneID: one,
		ParticipantTwoID: two,
	})
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// seedHistory inserts n peer-authored messages one second apart and returns
// them oldest first.
func (h *harness) seedHistory(convID uuid.UUID, n int) []models.Message {
	base := time.Now().Add(-time.Duration(n+1) * time.Second)
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		m := h.store.seedMessage(convID, h.peer, fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Second))
		out = append(out, m)
	}
	return out
}

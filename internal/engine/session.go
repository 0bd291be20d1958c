// Package engine implements the real-time conversation synchronization
// engine: one Session per viewer keeps the visible message list of the
// active two-party conversation consistent with the backend while
// supporting optimistic sending, offline drafts, backward pagination, and
// batched read receipts.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

const (
	// MaxContentLength is the maximum message length in characters.
	MaxContentLength = 1000

	// DefaultPageSize is the message page size for initial load and
	// backward pagination.
	DefaultPageSize = 50

	// DefaultReadFlushInterval is the read receipt debounce window.
	DefaultReadFlushInterval = 200 * time.Millisecond

	// DefaultDraftDebounce is the draft persistence debounce window.
	DefaultDraftDebounce = 400 * time.Millisecond
)

// Options configures a Session. Zero values fall back to the defaults
// above; Clock defaults to time.Now.
type Options struct {
	PageSize          int
	ReadFlushInterval time.Duration
	DraftDebounce     time.Duration
	Clock             func() time.Time
	Logger            zerolog.Logger
	// Events receives observable side effects (message sent/received,
	// conversation resolved, read state changes). Never invoked while the
	// session lock is held. May be nil.
	Events func(Event)
}

// Session is the synchronization engine for one viewer's active
// conversation. All shared state is owned by the session and mutated under
// one lock, which is never held across a backend round trip; every async
// completion re-checks the epoch so a conversation switch cancels interest
// in stale results.
type Session struct {
	log     zerolog.Logger
	data    store.DataStore
	push    store.PushChannel
	drafts  store.DraftStore
	limiter store.RateLimiter
	clock   func() time.Time
	events  func(Event)

	viewerID uuid.UUID
	pageSize int

	mu       sync.Mutex
	conv     models.Conversation
	haveConv bool
	epoch    int
	closed   bool

	messages *messageLog

	// pagination
	cursor       *models.Cursor
	hasMore      bool
	loadingOlder bool
	initial      *initialFetch

	// send pipeline
	sendBusy bool

	// read receipts
	pendingReads map[string]time.Time // message id -> sentAt
	readTimer    *debounce
	flushBusy    bool
	unread       int64

	// drafts
	composeText string
	draftTimer  *debounce

	// realtime
	teardown func()

	// dynamically attached event listeners, e.g. one per live event stream
	listenerMu   sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
}

// NewSession creates a session for a viewer. The session owns its debounce
// timers; Close cancels them.
func NewSession(viewerID uuid.UUID, data store.DataStore, push store.PushChannel, drafts store.DraftStore, limiter store.RateLimiter, opts Options) *Session {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.ReadFlushInterval <= 0 {
		opts.ReadFlushInterval = DefaultReadFlushInterval
	}
	if opts.DraftDebounce <= 0 {
		opts.DraftDebounce = DefaultDraftDebounce
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Session{
		log:          opts.Logger.With().Str("viewer_id", viewerID.String()).Logger(),
		data:         data,
		push:         push,
		drafts:       drafts,
		limiter:      limiter,
		clock:        opts.Clock,
		events:       opts.Events,
		viewerID:     viewerID,
		pageSize:     opts.PageSize,
		messages:     newMessageLog(),
		pendingReads: make(map[string]time.Time),
		listeners:    make(map[int]func(Event)),
	}
	s.readTimer = newDebounce(opts.ReadFlushInterval, func() {
		s.flushReads(context.Background())
	})
	s.draftTimer = newDebounce(opts.DraftDebounce, s.persistDraft)
	return s
}

// ViewerID returns the session's viewer.
func (s *Session) ViewerID() uuid.UUID {
	return s.viewerID
}

// Messages returns a snapshot of the visible message list.
func (s *Session) Messages() []models.Message {
	return s.messages.Snapshot()
}

// Conversation returns the active conversation identity.
func (s *Session) Conversation() (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv, s.haveConv
}

// HasMore reports whether older history may still exist.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Unread returns the viewer's unread counter.
func (s *Session) Unread() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// RefreshUnread seeds the unread counter from the backend.
func (s *Session) RefreshUnread(ctx context.Context) error {
	count, err := s.data.CountUnread(ctx, s.viewerID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.unread = count
	s.mu.Unlock()
	return nil
}

// SetConversation switches the active conversation. Pending work for the
// previous conversation is flushed, not dropped: the draft persists under
// the old key and any batched read receipts are delivered before the new
// conversation's state is considered authoritative.
func (s *Session) SetConversation(ctx context.Context, conv models.Conversation) {
	s.draftTimer.Cancel()
	s.persistDraft()
	s.FlushReads(ctx)
	s.readTimer.Cancel()

	s.mu.Lock()
	// If a flush was in flight, ids accumulated behind it would otherwise
	// be dropped by the reset below. Deliver them directly; acknowledged
	// reads must not be lost on transition.
	if len(s.pendingReads) > 0 && s.conv.ID != nil {
		go s.deliverLeftoverReads(*s.conv.ID, s.pendingReads)
	}
	s.epoch++
	if s.teardown != nil {
		s.teardown()
		s.teardown = nil
	}
	s.conv = conv
	s.haveConv = true
	s.messages.Replace(nil)
	s.cursor = nil
	s.hasMore = false
	s.loadingOlder = false
	s.initial = nil
	s.sendBusy = false
	s.pendingReads = make(map[string]time.Time)
	key := s.draftKeyLocked()
	pendingKey := s.pendingDraftKeyLocked()
	s.mu.Unlock()

	// Load any persisted draft for the new identity into the compose field,
	// or clear it if none exists. A draft typed while the pair was still
	// pending lives under the peer-derived key; when the conversation became
	// durable outside this session (the peer sent first), migrate it to the
	// durable key.
	text := s.drafts.GetDraft(key)
	if text == "" && key != pendingKey {
		if text = s.drafts.GetDraft(pendingKey); text != "" {
			s.drafts.SetDraft(key, text)
			s.drafts.ClearDraft(pendingKey)
		}
	}
	s.mu.Lock()
	s.composeText = text
	s.mu.Unlock()

	s.subscribeCurrent()
}

// Close flushes pending work and releases the session's timers and push
// subscription. The session is unusable afterwards.
func (s *Session) Close(ctx context.Context) {
	s.draftTimer.Cancel()
	s.persistDraft()
	s.FlushReads(ctx)
	s.readTimer.Cancel()

	s.mu.Lock()
	if len(s.pendingReads) > 0 && s.conv.ID != nil {
		go s.deliverLeftoverReads(*s.conv.ID, s.pendingReads)
	}
	s.closed = true
	s.epoch++
	if s.teardown != nil {
		s.teardown()
		s.teardown = nil
	}
	s.mu.Unlock()
}

// AddListener attaches an event listener alongside the Options callback
// and returns a removal function. Used by live event streams that come and
// go independently of the session's lifetime.
func (s *Session) AddListener(fn func(Event)) func() {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

// emit delivers an event to the configured callback and any attached
// listeners. Callers must not hold the session lock.
func (s *Session) emit(e Event) {
	if s.events != nil {
		s.events(e)
	}

	s.listenerMu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// draftKeyLocked derives the draft key for the active conversation: the
// durable conversation id once one exists, or a synthetic key from the
// peer's id while pending, so a draft survives the pending -> durable
// transition. Keys include the viewer so drafts never leak across accounts.
func (s *Session) draftKeyLocked() string {
	if s.conv.ID != nil {
		return fmt.Sprintf("%s:%s", s.viewerID, s.conv.ID)
	}
	peer, _ := s.conv.Recipient(s.viewerID)
	return fmt.Sprintf("%s:peer:%s", s.viewerID, peer)
}

// pendingDraftKeyLocked is the synthetic peer-derived key, used to clear a
// draft typed while the conversation was still pending.
func (s *Session) pendingDraftKeyLocked() string {
	peer, _ := s.conv.Recipient(s.viewerID)
	return fmt.Sprintf("%s:peer:%s", s.viewerID, peer)
}

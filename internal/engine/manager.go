package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

// Manager owns one Session per viewer. The HTTP layer resolves a viewer to
// their session; opening a conversation for a different peer switches the
// existing session rather than creating a second one.
type Manager struct {
	log     zerolog.Logger
	data    store.DataStore
	push    store.PushChannel
	drafts  store.DraftStore
	limiter store.RateLimiter
	opts    Options

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a session manager. opts.Events applies to every
// session it creates.
func NewManager(data store.DataStore, push store.PushChannel, drafts store.DraftStore, limiter store.RateLimiter, opts Options) *Manager {
	return &Manager{
		log:      opts.Logger,
		data:     data,
		push:     push,
		drafts:   drafts,
		limiter:  limiter,
		opts:     opts,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Session returns the viewer's session, creating one on first use.
func (m *Manager) Session(viewerID uuid.UUID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[viewerID]; ok {
		return s
	}
	s := NewSession(viewerID, m.data, m.push, m.drafts, m.limiter, m.opts)
	m.sessions[viewerID] = s
	return s
}

// SessionWithEvents returns the viewer's session, creating it with the
// given event callback if it does not exist yet.
func (m *Manager) SessionWithEvents(viewerID uuid.UUID, events func(Event)) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[viewerID]; ok {
		return s
	}
	opts := m.opts
	opts.Events = events
	s := NewSession(viewerID, m.data, m.push, m.drafts, m.limiter, opts)
	m.sessions[viewerID] = s
	return s
}

// OpenConversation switches the viewer's session to the conversation with
// the given peer, resolving the durable record if one already exists and
// denormalizing the peer's profile summary. A pair with no history yields a
// pending conversation; the record is created lazily on first send.
func (m *Manager) OpenConversation(ctx context.Context, viewerID, peerID uuid.UUID) (*Session, error) {
	s := m.Session(viewerID)

	conv, err := m.data.FindConversation(ctx, viewerID, peerID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		one, two := models.PairKey(viewerID, peerID)
		conv = &models.Conversation{ParticipantOneID: one, ParticipantTwoID: two}
	}

	if profile, err := m.data.GetProfile(ctx, peerID); err != nil {
		m.log.Warn().Err(err).Str("peer_id", peerID.String()).Msg("peer profile lookup failed")
	} else if profile != nil {
		conv.OtherParticipant = *profile
	} else {
		conv.OtherParticipant = models.Profile{ID: peerID}
	}

	s.SetConversation(ctx, *conv)
	return s, nil
}

// CloseAll flushes and closes every session, for graceful shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
}

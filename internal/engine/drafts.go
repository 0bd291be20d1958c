package engine

import "github.com/eldtechnologies/parley/internal/metrics"

// SetComposeText records the current compose field contents and restarts
// the persistence debounce; every keystroke pushes the persist out by the
// full window.
func (s *Session) SetComposeText(text string) {
	s.mu.Lock()
	if !s.haveConv {
		s.mu.Unlock()
		return
	}
	s.composeText = text
	s.mu.Unlock()
	s.draftTimer.Reset()
}

// ComposeText returns the current compose field contents.
func (s *Session) ComposeText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composeText
}

// persistDraft writes the compose text under the conversation's draft key,
// or clears the persisted draft when the field is empty. Best-effort by
// contract of the draft store; a full device store loses the draft, not the
// message flow.
func (s *Session) persistDraft() {
	s.mu.Lock()
	if !s.haveConv {
		s.mu.Unlock()
		return
	}
	key := s.draftKeyLocked()
	text := s.composeText
	s.mu.Unlock()

	if text == "" {
		s.drafts.ClearDraft(key)
		return
	}
	s.drafts.SetDraft(key, text)
	metrics.DraftsPersisted.Inc()
}

package engine

import (
	"sort"
	"sync"

	"github.com/eldtechnologies/parley/internal/models"
)

// messageLog is the single source of truth for the ordered, de-duplicated
// message list of the active conversation. It keeps its own lock so async
// callbacks and outside readers always see the latest state synchronously,
// without waiting on the session lock or a render pass. The session is the
// only writer.
//
// Every mutation re-establishes ascending (sentAt, id) order and collapses
// duplicate ids, so interleaved completions can never corrupt visible order
// or produce duplicate rows.
type messageLog struct {
	mu   sync.RWMutex
	list []models.Message
}

func newMessageLog() *messageLog {
	return &messageLog{}
}

// Replace swaps the entire list.
func (l *messageLog) Replace(msgs []models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = normalize(append([]models.Message(nil), msgs...))
}

// Update applies fn to a copy of the current list and installs the
// normalized result. fn may append, prepend, or rewrite rows in place.
func (l *messageLog) Update(fn func([]models.Message) []models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = normalize(fn(append([]models.Message(nil), l.list...)))
}

// Snapshot returns a copy of the current list.
func (l *messageLog) Snapshot() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Message(nil), l.list...)
}

// Get returns the message with the given id, if present.
func (l *messageLog) Get(id string) (models.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.list {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// Contains reports whether a message with the given id is present.
func (l *messageLog) Contains(id string) bool {
	_, ok := l.Get(id)
	return ok
}

// Len returns the current list length.
func (l *messageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.list)
}

// normalize sorts ascending by (sentAt, id) and drops duplicate ids,
// keeping the first occurrence in sort order.
func normalize(msgs []models.Message) []models.Message {
	sort.SliceStable(msgs, func(i, j int) bool {
		return models.Less(msgs[i], msgs[j])
	})

	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

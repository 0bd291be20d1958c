package engine

import "github.com/eldtechnologies/parley/internal/models"

// EventType discriminates session events.
type EventType string

const (
	// EventMessageSent fires when an outgoing message reaches durable
	// storage, so a hosting list view can reorder its conversation entries.
	EventMessageSent EventType = "message_sent"
	// EventMessageFailed fires when a send attempt fails; the message stays
	// visible in the failed state.
	EventMessageFailed EventType = "message_failed"
	// EventMessageReceived fires when a peer-authored message arrives over
	// the push channel.
	EventMessageReceived EventType = "message_received"
	// EventMessageUpdated fires when a known message is replaced by a remote
	// update, e.g. a read receipt applied by the peer.
	EventMessageUpdated EventType = "message_updated"
	// EventConversationResolved fires when a pending conversation obtains a
	// durable record, so the hosting UI can register it in any list it keeps.
	EventConversationResolved EventType = "conversation_resolved"
	// EventReadStateChanged fires after a read receipt flush confirms, with
	// the new unread total.
	EventReadStateChanged EventType = "read_state_changed"
	// EventResync fires after a full resynchronization replaced the visible
	// list, e.g. following push channel degradation.
	EventResync EventType = "resync"
)

// Event is one observable side effect of the engine. The engine never calls
// the event callback while holding its own lock.
type Event struct {
	Type         EventType            `json:"type"`
	Message      *models.Message      `json:"message,omitempty"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
	Unread       int64                `json:"unread,omitempty"`
	Created      bool                 `json:"created,omitempty"` // conversation newly created by this session
}

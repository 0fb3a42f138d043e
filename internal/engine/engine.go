// Package engine owns the delivery semantics: message statuses and their
// one-way advancement, per-viewer visibility, conversation summaries and the
// decision of who hears about which change. It talks down to the store and
// out through the fan-out and push interfaces; it never touches a socket or
// an HTTP request itself.
package engine

import (
	"errors"
	"time"

	"github.com/4xmen/goftar/internal/models"
	"github.com/4xmen/goftar/internal/store"
)

// ErrForbidden is returned when the caller is a participant but the operation
// belongs to someone else, e.g. deleting another sender's message for
// everyone.
var ErrForbidden = errors.New("forbidden")

// ErrNotParticipant is returned when the caller is not a member of the
// conversation they addressed.
var ErrNotParticipant = errors.New("not a participant")

// Event types pushed to clients.
const (
	EventPresenceOnlineSet     = "presence-online-set"
	EventPresenceStatusChanged = "presence-status-changed"
	EventMessageCreated        = "message-created"
	EventMessageUpdated        = "message-updated"
	EventMessageDeleted        = "message-deleted"
	EventMessageStatusChanged  = "message-status-changed"
	EventSummaryChanged        = "summary-changed"
)

// Scopes carried by summary-changed events so clients know whether the change
// is personal or shared.
const (
	ScopeForMe       = "for-me"
	ScopeForEveryone = "for-everyone"
	ScopeReadUpdate  = "read-update"
)

// Event is the single wire shape for everything pushed over the socket.
// Fields are populated per type; the rest stay empty.
type Event struct {
	Type           string                      `json:"type"`
	UserID         int                         `json:"user_id,omitempty"`
	Online         bool                        `json:"online,omitempty"`
	LastSeen       *time.Time                  `json:"last_seen,omitempty"`
	OnlineUserIDs  []int                       `json:"online_user_ids,omitempty"`
	ConversationID int                         `json:"conversation_id,omitempty"`
	MessageID      int                         `json:"message_id,omitempty"`
	Message        *models.Message             `json:"message,omitempty"`
	Status         string                      `json:"status,omitempty"`
	Scope          string                      `json:"scope,omitempty"`
	Summary        *models.ConversationSummary `json:"summary,omitempty"`
}

// Fanout delivers events to connected clients. The hub implements it.
type Fanout interface {
	ToRoom(conversationID int, event *Event)
	ToUser(userID int, event *Event)
	ToUsers(userIDs []int, event *Event)
}

// Presence answers liveness questions. The registry implements it.
type Presence interface {
	IsOnline(userID int) bool
	IsViewing(userID, conversationID int) bool
}

// Pusher sends out-of-band notifications to users with no live connection.
type Pusher interface {
	SendNewMessageNotification(receiverID int, senderName, preview string)
}

type Engine struct {
	store    *store.Store
	presence Presence
	fanout   Fanout
	pusher   Pusher
}

// New wires the engine. pusher may be nil when web push is not configured.
func New(s *store.Store, presence Presence, fanout Fanout, pusher Pusher) *Engine {
	return &Engine{store: s, presence: presence, fanout: fanout, pusher: pusher}
}

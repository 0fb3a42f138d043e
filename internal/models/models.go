package models

import "time"

// Conversation kinds.
const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
)

// Message content variants.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
	TypeFile  = "file"
)

// Delivery statuses in advancement order. A message never moves backwards.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// StatusRank maps a status to its position in the sent → delivered → read walk.
// Unknown statuses rank below "sent" so they can never win a comparison.
func StatusRank(status string) int {
	switch status {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

type User struct {
	ID          int        `json:"id"`
	Username    string     `json:"username"`
	DisplayName *string    `json:"display_name,omitempty"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	IsOnline    bool       `json:"is_online"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Conversation struct {
	ID            int       `json:"id"`
	Kind          string    `json:"kind"` // private, group
	Name          *string   `json:"name,omitempty"`
	AvatarURL     *string   `json:"avatar_url,omitempty"`
	LastMessageID *int      `json:"last_message_id,omitempty"`
	MemberIDs     []int     `json:"member_ids"`
	AdminIDs      []int     `json:"admin_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (c *Conversation) IsGroup() bool {
	return c.Kind == ConversationGroup
}

func (c *Conversation) HasMember(userID int) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// RecipientIDs returns the member set excluding the given sender.
func (c *Conversation) RecipientIDs(senderID int) []int {
	recipients := make([]int, 0, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}
	return recipients
}

type Message struct {
	ID             int        `json:"id"`
	ConversationID int        `json:"conversation_id"`
	SenderID       int        `json:"sender_id"`
	Type           string     `json:"type"` // text, image, video, file
	Content        string     `json:"content"`
	MediaURL       *string    `json:"media_url,omitempty"`
	FileName       *string    `json:"file_name,omitempty"`
	FileSize       *int64     `json:"file_size,omitempty"`
	Status         string     `json:"status"` // sent, delivered, read
	DeletedForAll  bool       `json:"deleted_for_all"`
	DeletedBy      []int      `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

func (m *Message) DeletedByUser(userID int) bool {
	for _, id := range m.DeletedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationSummary is the derived per-participant sidebar entry. It is
// never persisted; the projector recomputes it whenever it is invalidated.
type ConversationSummary struct {
	ConversationID int       `json:"conversation_id"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	UnreadCount    int       `json:"unread_count"`
}

// StatusChange describes one committed status transition, carried from the
// store to the fan-out layer.
type StatusChange struct {
	MessageID      int
	ConversationID int
	SenderID       int
	Status         string
}

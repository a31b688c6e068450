package entity

import "time"

const (
	MessageStatusPending = "pending" // optimistic, not yet confirmed by the backend
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed" // persist request failed, kept visible for retry
)

type Message struct {
	ID         string    `json:"id"`
	TempID     string    `json:"temp_id,omitempty"` // client-generated id until the backend assigns one
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	Status     string    `json:"status"`
	ReadBy     []string  `json:"read_by"` // grow-only
	CreatedAt  time.Time `json:"created_at"`
}

// Before reports whether m sorts ahead of other in a chat's display
// order: CreatedAt first, ID as the tie-break.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

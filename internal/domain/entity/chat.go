package entity

import "time"

// Chat is a 1:1 conversation between a renter and a trailer owner.
// Participants never changes after creation; the backend returns the
// existing chat when the same pair starts a second one.
type Chat struct {
	ID              string            `json:"id"`
	Participants    []string          `json:"participants"`
	ParticipantInfo map[string]string `json:"participant_info,omitempty"` // userID -> display name
	TrailerID       string            `json:"trailer_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	LastMessage     string            `json:"last_message,omitempty"`
	LastMessageAt   time.Time         `json:"last_message_at"`
	UnreadCount     map[string]int    `json:"unread_count"` // userID -> unread messages for that user

	// Ephemeral presence flag, never persisted.
	IsOnline bool `json:"-"`
}

// OtherParticipant returns the participant that is not userID, or ""
// for a malformed chat.
func (c *Chat) OtherParticipant(userID string) string {
	for _, id := range c.Participants {
		if id != userID {
			return id
		}
	}
	return ""
}

func (c *Chat) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Chat) UnreadFor(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}

func (c *Chat) DisplayNameOf(userID string) string {
	if name, ok := c.ParticipantInfo[userID]; ok {
		return name
	}
	return userID
}

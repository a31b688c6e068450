package websocket

import (
	"encoding/json"
	"time"
)

// Event types spoken over the push channel.
const (
	EventTypeJoinChat    = "join_chat_room"
	EventTypeLeaveChat   = "leave_chat_room"
	EventTypeSendMessage = "send_message"
	EventTypeMessage     = "message"

	EventTypeTypingStart     = "typing_start"
	EventTypeTypingStop      = "typing_stop"
	EventTypeTypingIndicator = "typing_indicator"

	EventTypeMarkMessageRead = "mark_message_read"
	EventTypeMarkChatRead    = "mark_chat_read"
	EventTypeReadReceipt     = "message_read_receipt"
	EventTypeChatRead        = "chat_read_receipt"

	EventTypeUserPresence = "user_presence"
	EventTypeError        = "error"

	// Synthetic events injected by the client itself, never on the wire.
	EventTypeConnected    = "connected"
	EventTypeDisconnected = "disconnected"
)

// Event is the wire envelope for every push message, both directions.
type Event struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewEvent marshals payload into an envelope. A nil payload produces an
// envelope with no data, used for join/leave/typing signals.
func NewEvent(eventType, chatID string, payload interface{}) (Event, error) {
	ev := Event{
		Type:      eventType,
		ChatID:    chatID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Data = data
	}
	return ev, nil
}

func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

type SendMessagePayload struct {
	TempID  string `json:"temp_id"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

type MarkReadPayload struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`
}

type ReadReceiptPayload struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
}

type ChatReadPayload struct {
	ChatID   string `json:"chat_id"`
	ReaderID string `json:"reader_id"`
}

type PresencePayload struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

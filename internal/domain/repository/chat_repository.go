package repository

import (
	"context"

	"lorepa/internal/domain/entity"
)

// ChatRepository is the pull API this engine consumes. The backend owns
// persistence; every call here is a network round trip.
type ChatRepository interface {
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Chat, int64, error)
	GetMessagesByChat(ctx context.Context, chatID string, limit, offset int) ([]*entity.Message, int64, error)

	// CreateChat is idempotent: the backend returns the existing chat
	// for an already-connected participant pair.
	CreateChat(ctx context.Context, recipientID, trailerID string) (*entity.Chat, error)

	// CreateMessage persists an optimistic message and returns the
	// server-confirmed copy (server-assigned ID, echoed TempID).
	CreateMessage(ctx context.Context, message *entity.Message) (*entity.Message, error)

	UpdateMessageReadStatus(ctx context.Context, chatID, messageID string) error
	MarkChatAsRead(ctx context.Context, chatID string) error
}

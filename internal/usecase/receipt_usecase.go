package usecase

import (
	"context"

	"lorepa/internal/domain/repository"
	"lorepa/internal/infrastructure/auth"
	ws "lorepa/internal/infrastructure/websocket"
	"lorepa/pkg/logger"
)

// ReceiptUseCase propagates read receipts in both directions: our own
// reads go to the backend (and are announced on the push channel), the
// other participant's reads come back as events and are folded into
// the channel's messages. ReadBy sets only ever grow, so replays and
// reordering are harmless.
type ReceiptUseCase struct {
	chatRepo  repository.ChatRepository
	channel   *ChannelUseCase
	directory *DirectoryUseCase
	session   *auth.Session
	emit      func(ws.Event) error
}

func NewReceiptUseCase(
	chatRepo repository.ChatRepository,
	channel *ChannelUseCase,
	directory *DirectoryUseCase,
	session *auth.Session,
	emit func(ws.Event) error,
) *ReceiptUseCase {
	return &ReceiptUseCase{
		chatRepo:  chatRepo,
		channel:   channel,
		directory: directory,
		session:   session,
		emit:      emit,
	}
}

// MarkMessageAsRead records that the user has seen one inbound message
// while its chat was open. The local union happens only after the
// backend confirms, mirroring the server-authoritative read state.
func (uc *ReceiptUseCase) MarkMessageAsRead(ctx context.Context, chatID, messageID string) error {
	if ev, err := ws.NewEvent(ws.EventTypeMarkMessageRead, chatID, ws.MarkReadPayload{
		ChatID:    chatID,
		MessageID: messageID,
	}); err == nil {
		if err := uc.emit(ev); err != nil {
			logger.Debug("receipts: mark_message_read not announced for %s: %v", messageID, err)
		}
	}

	if err := uc.chatRepo.UpdateMessageReadStatus(ctx, chatID, messageID); err != nil {
		logger.Warn("receipts: failed to confirm read for %s in %s: %v", messageID, chatID, err)
		return err
	}

	uc.channel.MarkReadBy(chatID, messageID, uc.session.UserID)
	return nil
}

// MarkChatAsRead is the bulk form fired when a chat is opened: every
// message not sent by the user gains the user in its read set once the
// backend confirms, and the directory's unread count settles at zero.
func (uc *ReceiptUseCase) MarkChatAsRead(ctx context.Context, chatID string) error {
	if ev, err := ws.NewEvent(ws.EventTypeMarkChatRead, chatID, ws.MarkReadPayload{
		ChatID: chatID,
	}); err == nil {
		if err := uc.emit(ev); err != nil {
			logger.Debug("receipts: mark_chat_read not announced for %s: %v", chatID, err)
		}
	}

	if err := uc.chatRepo.MarkChatAsRead(ctx, chatID); err != nil {
		logger.Warn("receipts: failed to confirm chat read for %s: %v", chatID, err)
		return err
	}

	uc.channel.MarkAllReadBy(chatID, uc.session.UserID)
	uc.directory.ClearUnread(chatID)
	return nil
}

// ApplyRemoteReceipt folds the other participant's single-message read
// confirmation into local state, so "seen" shows without a re-query.
func (uc *ReceiptUseCase) ApplyRemoteReceipt(chatID, messageID, readerID string) {
	uc.channel.MarkReadBy(chatID, messageID, readerID)
}

// ApplyRemoteChatRead is the bulk counterpart of ApplyRemoteReceipt.
func (uc *ReceiptUseCase) ApplyRemoteChatRead(chatID, readerID string) {
	uc.channel.MarkAllReadBy(chatID, readerID)
}

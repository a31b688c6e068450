package usecase

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	"lorepa/internal/domain/entity"
	"lorepa/internal/domain/repository"
	"lorepa/internal/infrastructure/auth"
	"lorepa/pkg/logger"
)

const chatPageSize = 100

// DirectoryUseCase owns the conversation list for the signed-in user:
// pulled in full from the backend, patched in place by push events.
type DirectoryUseCase struct {
	chatRepo repository.ChatRepository
	session  *auth.Session

	mu    sync.Mutex
	chats []*entity.Chat
	index map[string]*entity.Chat
}

func NewDirectoryUseCase(chatRepo repository.ChatRepository, session *auth.Session) *DirectoryUseCase {
	return &DirectoryUseCase{
		chatRepo: chatRepo,
		session:  session,
		index:    make(map[string]*entity.Chat),
	}
}

// LoadAll replaces the directory with the backend's current list. On
// failure the previous snapshot is kept so the UI can show stale data
// next to the error.
func (uc *DirectoryUseCase) LoadAll(ctx context.Context) ([]*entity.Chat, error) {
	chats, _, err := uc.chatRepo.ListByUserID(ctx, uc.session.UserID, chatPageSize, 0)
	if err != nil {
		logger.Error("directory: failed to load chats for %s: %v", uc.session.UserID, err)
		return nil, err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	// Keep ephemeral presence flags across reloads.
	for _, chat := range chats {
		if prev, ok := uc.index[chat.ID]; ok {
			chat.IsOnline = prev.IsOnline
		}
	}

	uc.chats = chats
	uc.index = lo.KeyBy(chats, func(c *entity.Chat) string { return c.ID })
	uc.sortLocked()
	return uc.snapshotLocked(), nil
}

// ApplyIncomingMessage patches the owning chat's preview and ordering.
// The unread count only grows when the chat is not the active one; the
// active chat's messages are being read as they arrive. Returns false
// when the chat is unknown locally, which tells the coordinator to
// reload the directory.
func (uc *DirectoryUseCase) ApplyIncomingMessage(msg *entity.Message, active bool) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	chat, ok := uc.index[msg.ChatID]
	if !ok {
		logger.Debug("directory: message for unknown chat %s", msg.ChatID)
		return false
	}

	chat.LastMessage = msg.Content
	if msg.CreatedAt.After(chat.LastMessageAt) {
		chat.LastMessageAt = msg.CreatedAt
	}
	if chat.LastMessageAt.After(chat.UpdatedAt) {
		chat.UpdatedAt = chat.LastMessageAt
	}

	if !active && msg.SenderID != uc.session.UserID {
		if chat.UnreadCount == nil {
			chat.UnreadCount = make(map[string]int)
		}
		chat.UnreadCount[uc.session.UserID]++
	}

	uc.sortLocked()
	return true
}

// ClearUnread zeroes the local unread count when a chat is opened. This
// is optimistic; the server-confirmed receipt is the authoritative
// reconciliation.
func (uc *DirectoryUseCase) ClearUnread(chatID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if chat, ok := uc.index[chatID]; ok {
		if chat.UnreadCount == nil {
			chat.UnreadCount = make(map[string]int)
		}
		chat.UnreadCount[uc.session.UserID] = 0
	}
}

func (uc *DirectoryUseCase) SetOnline(chatID string, online bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if chat, ok := uc.index[chatID]; ok {
		chat.IsOnline = online
	}
}

// Upsert installs or refreshes a single chat, used after creating one.
func (uc *DirectoryUseCase) Upsert(chat *entity.Chat) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if _, ok := uc.index[chat.ID]; ok {
		uc.chats = lo.Map(uc.chats, func(c *entity.Chat, _ int) *entity.Chat {
			if c.ID == chat.ID {
				return chat
			}
			return c
		})
	} else {
		uc.chats = append(uc.chats, chat)
	}
	uc.index[chat.ID] = chat
	uc.sortLocked()
}

func (uc *DirectoryUseCase) Get(chatID string) (*entity.Chat, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	chat, ok := uc.index[chatID]
	return chat, ok
}

func (uc *DirectoryUseCase) Snapshot() []*entity.Chat {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.snapshotLocked()
}

// List order: most recent activity first, chat ID as a stable tie-break
// so equal timestamps never flicker.
func (uc *DirectoryUseCase) sortLocked() {
	sort.SliceStable(uc.chats, func(i, j int) bool {
		a, b := uc.chats[i], uc.chats[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID < b.ID
	})
}

func (uc *DirectoryUseCase) snapshotLocked() []*entity.Chat {
	out := make([]*entity.Chat, len(uc.chats))
	copy(out, uc.chats)
	return out
}

package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"lorepa/internal/domain/entity"
	"lorepa/internal/domain/repository"
	"lorepa/internal/infrastructure/auth"
	"lorepa/pkg/errors"
	"lorepa/pkg/logger"
)

const historyPageSize = 500

type sendInput struct {
	Content string `validate:"required,max=2000"`
}

// ChannelUseCase owns the message log of the currently active chat.
// Messages are kept in display order (CreatedAt, then ID) with an id
// set alongside so any delivery path can check for duplicates in O(1).
// At most one chat is active; opening another evicts the previous log.
type ChannelUseCase struct {
	chatRepo repository.ChatRepository
	session  *auth.Session
	validate *validator.Validate

	mu           sync.Mutex
	activeChatID string
	epoch        int // bumped on every Open so stale pulls can be discarded
	messages     []*entity.Message
	known        map[string]struct{}
	byTemp       map[string]*entity.Message
}

func NewChannelUseCase(chatRepo repository.ChatRepository, session *auth.Session) *ChannelUseCase {
	return &ChannelUseCase{
		chatRepo: chatRepo,
		session:  session,
		validate: validator.New(),
		known:    make(map[string]struct{}),
		byTemp:   make(map[string]*entity.Message),
	}
}

// Open switches the active pointer to chatID and pulls its history. If
// the user navigates on while the pull is in flight, the late response
// is discarded rather than installed over the newer chat.
func (uc *ChannelUseCase) Open(ctx context.Context, chatID string) ([]*entity.Message, error) {
	uc.mu.Lock()
	uc.activeChatID = chatID
	uc.epoch++
	epoch := uc.epoch
	uc.messages = nil
	uc.known = make(map[string]struct{})
	uc.byTemp = make(map[string]*entity.Message)
	uc.mu.Unlock()

	history, _, err := uc.chatRepo.GetMessagesByChat(ctx, chatID, historyPageSize, 0)

	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.epoch != epoch || uc.activeChatID != chatID {
		logger.Debug("channel: discarding stale history response for %s", chatID)
		return nil, nil
	}
	if err != nil {
		logger.Error("channel: failed to load history for %s: %v", chatID, err)
		return nil, err
	}

	for _, msg := range history {
		if _, dup := uc.known[msg.ID]; dup {
			continue
		}
		if msg.Status == "" {
			msg.Status = entity.MessageStatusSent
		}
		uc.insertLocked(msg)
		uc.registerLocked(msg)
	}
	return uc.snapshotLocked(), nil
}

// Send appends an optimistic message under a provisional id and issues
// the persist request. Confirmation swaps the identity in place; the
// message is never appended a second time. On failure it stays in the
// log marked failed so the user can retry.
func (uc *ChannelUseCase) Send(ctx context.Context, content string) (*entity.Message, error) {
	if err := uc.validate.Struct(sendInput{Content: content}); err != nil {
		return nil, errors.BadRequest("message content is invalid", err)
	}

	uc.mu.Lock()
	chatID := uc.activeChatID
	if chatID == "" {
		uc.mu.Unlock()
		return nil, errors.BadRequest("no active chat to send to", nil)
	}

	msg := &entity.Message{
		TempID:     "tmp-" + uuid.NewString(),
		ChatID:     chatID,
		SenderID:   uc.session.UserID,
		SenderName: uc.session.DisplayName,
		Content:    content,
		Status:     entity.MessageStatusPending,
		ReadBy:     []string{uc.session.UserID},
		CreatedAt:  time.Now().UTC(),
	}
	uc.insertLocked(msg)
	uc.registerLocked(msg)
	epoch := uc.epoch
	uc.mu.Unlock()

	return uc.persist(ctx, msg, epoch)
}

// Retry re-issues the persist request for a failed optimistic message.
func (uc *ChannelUseCase) Retry(ctx context.Context, tempID string) (*entity.Message, error) {
	uc.mu.Lock()
	msg, ok := uc.byTemp[tempID]
	if !ok || msg.Status != entity.MessageStatusFailed {
		uc.mu.Unlock()
		return nil, errors.NotFound("failed message", nil)
	}
	msg.Status = entity.MessageStatusPending
	epoch := uc.epoch
	uc.mu.Unlock()

	return uc.persist(ctx, msg, epoch)
}

func (uc *ChannelUseCase) persist(ctx context.Context, msg *entity.Message, epoch int) (*entity.Message, error) {
	confirmed, err := uc.chatRepo.CreateMessage(ctx, msg)

	uc.mu.Lock()
	defer uc.mu.Unlock()

	if err != nil {
		msg.Status = entity.MessageStatusFailed
		logger.Warn("channel: send failed for %s in %s: %v", msg.TempID, msg.ChatID, err)
		return msg, errors.SendFailed("message could not be delivered", err)
	}

	if confirmed.TempID == "" {
		confirmed.TempID = msg.TempID
	}
	if confirmed.ChatID == "" {
		confirmed.ChatID = msg.ChatID
	}
	if confirmed.Status == "" || confirmed.Status == entity.MessageStatusPending {
		confirmed.Status = entity.MessageStatusSent
	}

	// The log was rebuilt while the request was in flight and the
	// optimistic entry went with it. Fold the confirmed copy into the
	// current log instead of confirming an evicted pointer; the id set
	// absorbs the case where the rebuilt history already carries it.
	if uc.epoch != epoch {
		if confirmed.ChatID != uc.activeChatID {
			return confirmed, nil
		}
		if _, dup := uc.known[confirmed.ID]; !dup {
			uc.insertLocked(confirmed)
			uc.registerLocked(confirmed)
		}
		return confirmed, nil
	}

	uc.confirmLocked(msg, confirmed)
	return msg, nil
}

// Receive merges a pushed message into the active log. Idempotent: a
// message already known under its final id, or as the echo of a local
// optimistic send, never produces a second entry. Returns true when
// the log changed.
func (uc *ChannelUseCase) Receive(msg *entity.Message) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if msg.ChatID != uc.activeChatID {
		return false
	}
	if _, dup := uc.known[msg.ID]; dup {
		return false
	}

	// Echo of our own send arriving ahead of the persist response:
	// treat it as the confirmation instead of inserting a twin.
	if msg.TempID != "" {
		if local, ok := uc.byTemp[msg.TempID]; ok {
			uc.confirmLocked(local, msg)
			return true
		}
	}

	if msg.Status == "" {
		msg.Status = entity.MessageStatusSent
	}
	uc.insertLocked(msg)
	uc.registerLocked(msg)
	return true
}

// MarkReadBy unions readerID into a message's read set. Grow-only, so
// duplicate or out-of-order confirmations cannot regress state.
func (uc *ChannelUseCase) MarkReadBy(chatID, messageID, readerID string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if chatID != uc.activeChatID {
		return false
	}
	for _, msg := range uc.messages {
		if msg.ID == messageID {
			if !lo.Contains(msg.ReadBy, readerID) {
				msg.ReadBy = append(msg.ReadBy, readerID)
			}
			return true
		}
	}
	return false
}

// MarkAllReadBy unions readerID into every message the reader did not
// send, the bulk form used when a whole chat is marked read.
func (uc *ChannelUseCase) MarkAllReadBy(chatID, readerID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if chatID != uc.activeChatID {
		return
	}
	for _, msg := range uc.messages {
		if msg.SenderID == readerID {
			continue
		}
		if !lo.Contains(msg.ReadBy, readerID) {
			msg.ReadBy = append(msg.ReadBy, readerID)
		}
	}
}

func (uc *ChannelUseCase) ActiveChatID() string {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.activeChatID
}

func (uc *ChannelUseCase) Messages() []*entity.Message {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.snapshotLocked()
}

// Close drops the active log, used on explicit leave.
func (uc *ChannelUseCase) Close() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.activeChatID = ""
	uc.epoch++
	uc.messages = nil
	uc.known = make(map[string]struct{})
	uc.byTemp = make(map[string]*entity.Message)
}

func (uc *ChannelUseCase) confirmLocked(local, confirmed *entity.Message) {
	local.ID = confirmed.ID
	local.Status = entity.MessageStatusSent
	if !confirmed.CreatedAt.IsZero() {
		local.CreatedAt = confirmed.CreatedAt
	}
	if confirmed.SenderName != "" {
		local.SenderName = confirmed.SenderName
	}
	for _, reader := range confirmed.ReadBy {
		if !lo.Contains(local.ReadBy, reader) {
			local.ReadBy = append(local.ReadBy, reader)
		}
	}
	uc.known[local.ID] = struct{}{}

	// The server timestamp can differ from the optimistic one.
	sort.SliceStable(uc.messages, func(i, j int) bool {
		return uc.messages[i].Before(uc.messages[j])
	})
}

// insertLocked places msg at the position dictated by (CreatedAt, ID),
// regardless of arrival order.
func (uc *ChannelUseCase) insertLocked(msg *entity.Message) {
	i := sort.Search(len(uc.messages), func(i int) bool {
		return msg.Before(uc.messages[i])
	})
	uc.messages = append(uc.messages, nil)
	copy(uc.messages[i+1:], uc.messages[i:])
	uc.messages[i] = msg
}

func (uc *ChannelUseCase) registerLocked(msg *entity.Message) {
	if msg.ID != "" {
		uc.known[msg.ID] = struct{}{}
	}
	if msg.TempID != "" {
		uc.known[msg.TempID] = struct{}{}
		uc.byTemp[msg.TempID] = msg
	}
}

func (uc *ChannelUseCase) snapshotLocked() []*entity.Message {
	out := make([]*entity.Message, len(uc.messages))
	copy(out, uc.messages)
	return out
}

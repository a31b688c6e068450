package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lorepa/internal/domain/entity"
	"lorepa/internal/infrastructure/auth"
	ws "lorepa/internal/infrastructure/websocket"
	"lorepa/pkg/errors"
)

func testSession() *auth.Session {
	return &auth.Session{UserID: "u-1", DisplayName: "Alice", Token: "tok"}
}

func testMessage(id, chatID, senderID, content string, at time.Time) *entity.Message {
	return &entity.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Status:    entity.MessageStatusSent,
		ReadBy:    []string{senderID},
		CreatedAt: at,
	}
}

func testChat(id string, participants []string, lastAt time.Time) *entity.Chat {
	return &entity.Chat{
		ID:            id,
		Participants:  participants,
		CreatedAt:     lastAt,
		UpdatedAt:     lastAt,
		LastMessageAt: lastAt,
		UnreadCount:   map[string]int{},
	}
}

// fakeChatRepo is an in-memory stand-in for the backend's pull API.
type fakeChatRepo struct {
	mu           sync.Mutex
	chats        []*entity.Chat
	messages     map[string][]*entity.Message
	nextID       int
	failSends    bool
	failReads    bool
	listCalls    int
	historyCalls map[string]int
	marked       []string
	markedChats  []string

	// re-entry hooks, invoked outside the lock
	onGetMessages   func(chatID string)
	onCreateMessage func(msg *entity.Message)
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		messages:     make(map[string][]*entity.Message),
		historyCalls: make(map[string]int),
	}
}

func (f *fakeChatRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Chat, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]*entity.Chat, len(f.chats))
	for i, chat := range f.chats {
		copied := *chat
		out[i] = &copied
	}
	return out, int64(len(out)), nil
}

func (f *fakeChatRepo) GetMessagesByChat(ctx context.Context, chatID string, limit, offset int) ([]*entity.Message, int64, error) {
	f.mu.Lock()
	f.historyCalls[chatID]++
	hook := f.onGetMessages
	history := f.messages[chatID]
	out := make([]*entity.Message, len(history))
	for i, msg := range history {
		copied := *msg
		out[i] = &copied
	}
	f.mu.Unlock()

	if hook != nil {
		hook(chatID)
	}
	return out, int64(len(out)), nil
}

func (f *fakeChatRepo) CreateChat(ctx context.Context, recipientID, trailerID string) (*entity.Chat, error) {
	chat := testChat("c-"+recipientID, []string{"u-1", recipientID}, time.Now())
	chat.TrailerID = trailerID
	f.mu.Lock()
	f.chats = append(f.chats, chat)
	f.mu.Unlock()
	return chat, nil
}

func (f *fakeChatRepo) CreateMessage(ctx context.Context, message *entity.Message) (*entity.Message, error) {
	f.mu.Lock()
	hook := f.onCreateMessage
	f.mu.Unlock()
	if hook != nil {
		hook(message)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends {
		return nil, errors.Network("lorepa backend unreachable", nil)
	}
	f.nextID++
	confirmed := *message
	confirmed.ID = fmt.Sprintf("m-%d", f.nextID)
	confirmed.Status = entity.MessageStatusSent
	stored := confirmed
	f.messages[message.ChatID] = append(f.messages[message.ChatID], &stored)
	return &confirmed, nil
}

func (f *fakeChatRepo) UpdateMessageReadStatus(ctx context.Context, chatID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return errors.Network("lorepa backend unreachable", nil)
	}
	f.marked = append(f.marked, messageID)
	return nil
}

func (f *fakeChatRepo) MarkChatAsRead(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return errors.Network("lorepa backend unreachable", nil)
	}
	f.markedChats = append(f.markedChats, chatID)
	return nil
}

func (f *fakeChatRepo) addMessage(msg *entity.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ChatID] = append(f.messages[msg.ChatID], msg)
}

func (f *fakeChatRepo) markedMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.marked))
	copy(out, f.marked)
	return out
}

// fakeTransport scripts the push channel: tests feed events in with
// push and inspect what the engine emitted.
type fakeTransport struct {
	mu      sync.Mutex
	events  chan ws.Event
	emitted []ws.Event
	emitErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan ws.Event, 64)}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }

func (f *fakeTransport) Events() <-chan ws.Event { return f.events }

func (f *fakeTransport) Emit(ev ws.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, ev)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) push(eventType, chatID string, payload interface{}) {
	ev, err := ws.NewEvent(eventType, chatID, payload)
	if err != nil {
		panic(err)
	}
	f.events <- ev
}

func (f *fakeTransport) emittedTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.emitted))
	for i, ev := range f.emitted {
		out[i] = ev.Type
	}
	return out
}

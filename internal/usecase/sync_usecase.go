package usecase

import (
	"context"
	"sync"
	"time"

	"lorepa/internal/domain/entity"
	"lorepa/internal/domain/repository"
	"lorepa/internal/infrastructure/auth"
	ws "lorepa/internal/infrastructure/websocket"
	"lorepa/pkg/errors"
	"lorepa/pkg/logger"
)

// ChannelState tracks the active chat's subscription lifecycle.
type ChannelState int

const (
	ChannelClosed ChannelState = iota
	ChannelJoining
	ChannelActive
)

func (s ChannelState) String() string {
	switch s {
	case ChannelJoining:
		return "joining"
	case ChannelActive:
		return "active"
	default:
		return "closed"
	}
}

// Transport is the push channel the coordinator consumes. Injected so
// tests can script event sequences; the production implementation is
// websocket.Client.
type Transport interface {
	Connect(ctx context.Context) error
	Events() <-chan ws.Event
	Emit(ev ws.Event) error
	Close() error
}

// SyncUseCase is the top-level controller. It owns the stores, drains
// the transport's event stream on a single goroutine (all push-driven
// mutations are serialized through it), and carries the resync policy:
// the push channel has no replay, so after any reconnect state is
// rebuilt from the pull API and dedup absorbs the overlap.
type SyncUseCase struct {
	session   *auth.Session
	transport Transport
	chatRepo  repository.ChatRepository

	directory *DirectoryUseCase
	channel   *ChannelUseCase
	presence  *PresenceUseCase
	receipts  *ReceiptUseCase

	mu            sync.Mutex
	state         ChannelState
	connected     bool
	everConnected bool
	onChange      func()

	done      chan struct{}
	closeOnce sync.Once
}

func NewSyncUseCase(
	session *auth.Session,
	transport Transport,
	chatRepo repository.ChatRepository,
	typingIdle, typingExpiry time.Duration,
) *SyncUseCase {
	s := &SyncUseCase{
		session:   session,
		transport: transport,
		chatRepo:  chatRepo,
		done:      make(chan struct{}),
	}
	s.directory = NewDirectoryUseCase(chatRepo, session)
	s.channel = NewChannelUseCase(chatRepo, session)
	s.presence = NewPresenceUseCase(session, transport.Emit, typingIdle, typingExpiry)
	s.receipts = NewReceiptUseCase(chatRepo, s.channel, s.directory, session, transport.Emit)
	return s
}

func (s *SyncUseCase) Directory() *DirectoryUseCase { return s.directory }
func (s *SyncUseCase) Channel() *ChannelUseCase     { return s.channel }
func (s *SyncUseCase) Presence() *PresenceUseCase   { return s.presence }

// OnChange registers a hook invoked after every state mutation, for
// the UI layer to re-render. Must be set before Start.
func (s *SyncUseCase) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Start connects the transport, pulls the initial directory, and
// launches the event loop.
func (s *SyncUseCase) Start(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	if _, err := s.directory.LoadAll(ctx); err != nil {
		logger.Warn("sync: initial directory load failed: %v", err)
	}
	go s.run(ctx)
	return nil
}

func (s *SyncUseCase) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev, ok := <-s.transport.Events():
			if !ok {
				return
			}
			s.dispatch(ctx, ev)
		}
	}
}

func (s *SyncUseCase) dispatch(ctx context.Context, ev ws.Event) {
	switch ev.Type {
	case ws.EventTypeConnected:
		s.handleConnected(ctx)

	case ws.EventTypeDisconnected:
		s.handleDisconnected()

	case ws.EventTypeMessage:
		s.handleMessage(ctx, ev)

	case ws.EventTypeTypingIndicator:
		var payload ws.TypingPayload
		if err := ev.Decode(&payload); err != nil {
			logger.Warn("sync: malformed typing indicator: %v", err)
			return
		}
		if payload.UserID == s.session.UserID {
			return
		}
		if payload.Typing {
			s.presence.OnRemoteTyping(payload.ChatID, payload.UserID)
		} else {
			s.presence.OnRemoteStopTyping(payload.ChatID, payload.UserID)
		}

	case ws.EventTypeReadReceipt:
		var payload ws.ReadReceiptPayload
		if err := ev.Decode(&payload); err != nil {
			logger.Warn("sync: malformed read receipt: %v", err)
			return
		}
		s.receipts.ApplyRemoteReceipt(payload.ChatID, payload.MessageID, payload.ReaderID)

	case ws.EventTypeChatRead:
		var payload ws.ChatReadPayload
		if err := ev.Decode(&payload); err != nil {
			logger.Warn("sync: malformed chat read receipt: %v", err)
			return
		}
		s.receipts.ApplyRemoteChatRead(payload.ChatID, payload.ReaderID)

	case ws.EventTypeUserPresence:
		var payload ws.PresencePayload
		if err := ev.Decode(&payload); err != nil {
			logger.Warn("sync: malformed presence event: %v", err)
			return
		}
		if payload.UserID != s.session.UserID {
			s.directory.SetOnline(payload.ChatID, payload.IsOnline)
		}

	case ws.EventTypeError:
		logger.Warn("sync: server error event: %s", string(ev.Data))
		return

	default:
		logger.Debug("sync: ignoring event type %q", ev.Type)
		return
	}
	s.notify()
}

func (s *SyncUseCase) handleConnected(ctx context.Context) {
	s.mu.Lock()
	s.connected = true
	resync := s.everConnected
	s.everConnected = true
	s.mu.Unlock()

	if resync {
		s.resync(ctx)
	}
}

// On disconnect the channel subscription is gone; its log and pointer
// stay so resync can rebuild in place.
func (s *SyncUseCase) handleDisconnected() {
	s.mu.Lock()
	s.connected = false
	if s.state != ChannelClosed {
		s.state = ChannelClosed
	}
	s.mu.Unlock()
	logger.Warn("sync: push transport disconnected")
}

func (s *SyncUseCase) handleMessage(ctx context.Context, ev ws.Event) {
	var msg entity.Message
	if err := ev.Decode(&msg); err != nil {
		logger.Warn("sync: malformed message event: %v", err)
		return
	}
	if msg.ChatID == "" {
		msg.ChatID = ev.ChatID
	}

	active := s.State() == ChannelActive && s.channel.ActiveChatID() == msg.ChatID
	if active {
		inserted := s.channel.Receive(&msg)
		if inserted && msg.SenderID != s.session.UserID {
			// The chat is on screen, so the message is seen on arrival.
			if err := s.receipts.MarkMessageAsRead(ctx, msg.ChatID, msg.ID); err != nil {
				logger.Debug("sync: read confirmation deferred for %s: %v", msg.ID, err)
			}
		}
	}

	if !s.directory.ApplyIncomingMessage(&msg, active) {
		// A chat created since the last pull; fetch the list again.
		if _, err := s.directory.LoadAll(ctx); err != nil {
			logger.Warn("sync: directory reload after unknown chat %s failed: %v", msg.ChatID, err)
		}
	}
}

// resync rebuilds everything from the pull API after a reconnect.
func (s *SyncUseCase) resync(ctx context.Context) {
	logger.Info("sync: reconnected, rebuilding state from pull API")

	if _, err := s.directory.LoadAll(ctx); err != nil {
		logger.Warn("sync: directory resync failed: %v", err)
	}

	if chatID := s.channel.ActiveChatID(); chatID != "" {
		if err := s.openChat(ctx, chatID); err != nil {
			logger.Warn("sync: channel resync for %s failed: %v", chatID, err)
		}
	}
	s.notify()
}

// SelectChat is the UI's "open this conversation" intent: leave the
// previous room, join and pull the new one, clear the unread badge and
// request the bulk read confirmation.
func (s *SyncUseCase) SelectChat(ctx context.Context, chatID string) error {
	prev := s.channel.ActiveChatID()
	if prev == chatID && s.State() == ChannelActive {
		return nil
	}
	if prev != "" && prev != chatID {
		s.presence.StopLocal(prev)
		if ev, err := ws.NewEvent(ws.EventTypeLeaveChat, prev, nil); err == nil {
			s.transport.Emit(ev)
		}
	}

	if err := s.openChat(ctx, chatID); err != nil {
		s.notify()
		return err
	}

	s.directory.ClearUnread(chatID)
	if err := s.receipts.MarkChatAsRead(ctx, chatID); err != nil {
		logger.Warn("sync: bulk read confirmation for %s failed: %v", chatID, err)
	}
	s.notify()
	return nil
}

func (s *SyncUseCase) openChat(ctx context.Context, chatID string) error {
	s.setState(ChannelJoining)

	if ev, err := ws.NewEvent(ws.EventTypeJoinChat, chatID, nil); err == nil {
		if err := s.transport.Emit(ev); err != nil {
			logger.Warn("sync: join not announced for %s: %v", chatID, err)
		}
	}

	if _, err := s.channel.Open(ctx, chatID); err != nil {
		s.setState(ChannelClosed)
		return err
	}
	s.setState(ChannelActive)
	return nil
}

// SendMessage is the UI's send intent. The returned message is already
// in the channel's log, either confirmed or marked failed.
func (s *SyncUseCase) SendMessage(ctx context.Context, content string) (*entity.Message, error) {
	chatID := s.channel.ActiveChatID()
	if chatID == "" {
		return nil, errors.BadRequest("no chat selected", nil)
	}
	s.presence.StopLocal(chatID)

	msg, err := s.channel.Send(ctx, content)
	if err != nil {
		s.notify()
		return msg, err
	}

	s.broadcast(chatID, msg)
	s.directory.ApplyIncomingMessage(msg, true)
	s.notify()
	return msg, nil
}

// Retry re-sends a failed optimistic message.
func (s *SyncUseCase) Retry(ctx context.Context, tempID string) (*entity.Message, error) {
	msg, err := s.channel.Retry(ctx, tempID)
	if err != nil {
		s.notify()
		return msg, err
	}

	s.broadcast(msg.ChatID, msg)
	s.directory.ApplyIncomingMessage(msg, true)
	s.notify()
	return msg, nil
}

// broadcast asks the server to fan the confirmed message out to the
// other participant. Delivery failure is fine: theirs arrives via the
// backend's own fan-out or the next pull.
func (s *SyncUseCase) broadcast(chatID string, msg *entity.Message) {
	payload := ws.SendMessagePayload{
		TempID:  msg.TempID,
		ChatID:  chatID,
		Content: msg.Content,
	}
	if ev, err := ws.NewEvent(ws.EventTypeSendMessage, chatID, payload); err == nil {
		if err := s.transport.Emit(ev); err != nil {
			logger.Debug("sync: broadcast not sent for %s: %v", msg.ID, err)
		}
	}
}

// Typing is the UI's keystroke intent.
func (s *SyncUseCase) Typing(chatID string) {
	s.presence.OnLocalKeystroke(chatID)
}

// StartChat creates (or finds) the conversation with recipientID about
// a trailer and makes it active.
func (s *SyncUseCase) StartChat(ctx context.Context, recipientID, trailerID string) (*entity.Chat, error) {
	chat, err := s.chatRepo.CreateChat(ctx, recipientID, trailerID)
	if err != nil {
		return nil, err
	}
	s.directory.Upsert(chat)
	if err := s.SelectChat(ctx, chat.ID); err != nil {
		return chat, err
	}
	return chat, nil
}

func (s *SyncUseCase) State() ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SyncUseCase) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SyncUseCase) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if chatID := s.channel.ActiveChatID(); chatID != "" {
			if ev, evErr := ws.NewEvent(ws.EventTypeLeaveChat, chatID, nil); evErr == nil {
				s.transport.Emit(ev)
			}
		}
		s.presence.Stop()
		close(s.done)
		err = s.transport.Close()
	})
	return err
}

func (s *SyncUseCase) setState(state ChannelState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *SyncUseCase) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

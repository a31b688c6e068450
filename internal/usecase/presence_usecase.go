package usecase

import (
	"sync"
	"time"

	"lorepa/internal/infrastructure/auth"
	ws "lorepa/internal/infrastructure/websocket"
	"lorepa/pkg/logger"
)

const (
	// DefaultTypingIdle is how long after the last keystroke the local
	// typing signal is withdrawn.
	DefaultTypingIdle = 1500 * time.Millisecond
	// DefaultTypingExpiry is the hard ceiling on a remote typing
	// indicator. A dropped stop event must not leave "typing" stuck.
	DefaultTypingExpiry = 5 * time.Second
)

// PresenceUseCase tracks who is typing where. All of its state is
// ephemeral; nothing here survives a restart or reaches the backend.
type PresenceUseCase struct {
	session *auth.Session
	emit    func(ws.Event) error
	idle    time.Duration
	expiry  time.Duration

	mu           sync.Mutex
	localTyping  map[string]bool        // chats we have announced typing in
	localTimers  map[string]*time.Timer // debounced stop timer per chat
	remote       map[string]string      // chatID -> currently typing user
	remoteTimers map[string]*time.Timer
}

func NewPresenceUseCase(session *auth.Session, emit func(ws.Event) error, idle, expiry time.Duration) *PresenceUseCase {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &PresenceUseCase{
		session:      session,
		emit:         emit,
		idle:         idle,
		expiry:       expiry,
		localTyping:  make(map[string]bool),
		localTimers:  make(map[string]*time.Timer),
		remote:       make(map[string]string),
		remoteTimers: make(map[string]*time.Timer),
	}
}

// OnLocalKeystroke emits a typing signal at most once per idle period
// and (re)arms the single stop timer for the chat. Every keystroke
// pushes the stop back; only an uninterrupted idle period emits it.
func (uc *PresenceUseCase) OnLocalKeystroke(chatID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if !uc.localTyping[chatID] {
		uc.localTyping[chatID] = true
		uc.emitTyping(chatID, ws.EventTypeTypingStart)
	}

	if timer, ok := uc.localTimers[chatID]; ok {
		timer.Stop()
	}
	// A fire that lost the race to a newer arm still runs its callback;
	// timer identity tells it apart from the one currently installed.
	var timer *time.Timer
	timer = time.AfterFunc(uc.idle, func() {
		uc.mu.Lock()
		defer uc.mu.Unlock()
		if uc.localTimers[chatID] != timer {
			return
		}
		delete(uc.localTyping, chatID)
		delete(uc.localTimers, chatID)
		uc.emitTyping(chatID, ws.EventTypeTypingStop)
	})
	uc.localTimers[chatID] = timer
}

// StopLocal withdraws the typing signal immediately, used when a
// message is sent or the chat is left.
func (uc *PresenceUseCase) StopLocal(chatID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if !uc.localTyping[chatID] {
		return
	}
	if timer, ok := uc.localTimers[chatID]; ok {
		timer.Stop()
		delete(uc.localTimers, chatID)
	}
	delete(uc.localTyping, chatID)
	uc.emitTyping(chatID, ws.EventTypeTypingStop)
}

// OnRemoteTyping records userID as typing in chatID and (re)arms the
// hard-ceiling expiry for the entry.
func (uc *PresenceUseCase) OnRemoteTyping(chatID, userID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.remote[chatID] = userID
	if timer, ok := uc.remoteTimers[chatID]; ok {
		timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(uc.expiry, func() {
		uc.mu.Lock()
		defer uc.mu.Unlock()
		if uc.remoteTimers[chatID] != timer {
			return
		}
		delete(uc.remote, chatID)
		delete(uc.remoteTimers, chatID)
	})
	uc.remoteTimers[chatID] = timer
}

func (uc *PresenceUseCase) OnRemoteStopTyping(chatID, userID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.remote[chatID] != userID {
		return
	}
	delete(uc.remote, chatID)
	if timer, ok := uc.remoteTimers[chatID]; ok {
		timer.Stop()
		delete(uc.remoteTimers, chatID)
	}
}

// TypingUser returns who is typing in chatID, or "" when nobody is.
func (uc *PresenceUseCase) TypingUser(chatID string) string {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.remote[chatID]
}

// Stop cancels every pending timer.
func (uc *PresenceUseCase) Stop() {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	for chatID, timer := range uc.localTimers {
		timer.Stop()
		delete(uc.localTimers, chatID)
	}
	for chatID, timer := range uc.remoteTimers {
		timer.Stop()
		delete(uc.remoteTimers, chatID)
	}
	uc.localTyping = make(map[string]bool)
	uc.remote = make(map[string]string)
}

func (uc *PresenceUseCase) emitTyping(chatID, eventType string) {
	ev, err := ws.NewEvent(eventType, chatID, ws.TypingPayload{
		ChatID: chatID,
		UserID: uc.session.UserID,
		Typing: eventType == ws.EventTypeTypingStart,
	})
	if err != nil {
		return
	}
	if err := uc.emit(ev); err != nil {
		logger.Debug("presence: dropping %s for %s: %v", eventType, chatID, err)
	}
}

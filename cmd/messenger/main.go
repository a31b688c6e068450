package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"lorepa/internal/adapter/repository"
	"lorepa/internal/domain/entity"
	"lorepa/internal/infrastructure/auth"
	"lorepa/internal/infrastructure/websocket"
	"lorepa/internal/usecase"
	"lorepa/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	session, err := auth.SessionFromToken(cfg.AccessToken)
	if err != nil {
		log.Fatalf("Failed to read session from access token: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	chatRepo := repository.NewRESTChatRepository(cfg.APIBaseURL, cfg.AccessToken)
	transport := websocket.NewClient(cfg.WSEndpoint, cfg.AccessToken)

	engine := usecase.NewSyncUseCase(session, transport, chatRepo, cfg.TypingIdle, cfg.TypingExpiry)
	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start messaging engine: %v", err)
	}
	defer engine.Close()

	fmt.Printf("Signed in as %s (%s)\n", session.DisplayName, session.UserID)
	fmt.Println("Commands: /chats, /open <n>, /typing, /retry <temp-id>, /quit")
	printChats(engine, session)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if done := handle(ctx, engine, session, strings.TrimSpace(line)); done {
				return
			}
		}
	}
}

func handle(ctx context.Context, engine *usecase.SyncUseCase, session *auth.Session, line string) bool {
	switch {
	case line == "":
		return false

	case line == "/quit":
		return true

	case line == "/chats":
		printChats(engine, session)

	case strings.HasPrefix(line, "/open "):
		arg := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
		chats := engine.Directory().Snapshot()
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(chats) {
			fmt.Printf("No chat #%s\n", arg)
			return false
		}
		chat := chats[n-1]
		if err := engine.SelectChat(ctx, chat.ID); err != nil {
			fmt.Printf("Could not open chat: %v\n", err)
			return false
		}
		printMessages(engine, session, chat)

	case line == "/typing":
		if chatID := engine.Channel().ActiveChatID(); chatID != "" {
			engine.Typing(chatID)
		}

	case strings.HasPrefix(line, "/retry "):
		tempID := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
		if _, err := engine.Retry(ctx, tempID); err != nil {
			fmt.Printf("Retry failed: %v\n", err)
		}

	default:
		msg, err := engine.SendMessage(ctx, line)
		if err != nil {
			if msg != nil {
				fmt.Printf("Send failed, kept as %s for /retry\n", msg.TempID)
			} else {
				fmt.Printf("Send failed: %v\n", err)
			}
		}
	}
	return false
}

func printChats(engine *usecase.SyncUseCase, session *auth.Session) {
	chats := engine.Directory().Snapshot()
	if len(chats) == 0 {
		fmt.Println("No conversations yet.")
		return
	}
	for i, chat := range chats {
		other := chat.OtherParticipant(session.UserID)
		marker := " "
		if chat.IsOnline {
			marker = "*"
		}
		fmt.Printf("%2d. %s%s", i+1, marker, chat.DisplayNameOf(other))
		if unread := chat.UnreadFor(session.UserID); unread > 0 {
			fmt.Printf(" (%d unread)", unread)
		}
		if chat.LastMessage != "" {
			fmt.Printf(" | %s", chat.LastMessage)
		}
		fmt.Println()
	}
}

func printMessages(engine *usecase.SyncUseCase, session *auth.Session, chat *entity.Chat) {
	for _, msg := range engine.Channel().Messages() {
		name := msg.SenderName
		if name == "" {
			name = chat.DisplayNameOf(msg.SenderID)
		}
		status := ""
		if msg.Status == entity.MessageStatusFailed {
			status = fmt.Sprintf(" [failed, /retry %s]", msg.TempID)
		} else if msg.SenderID == session.UserID && msg.IsReadBy(chat.OtherParticipant(session.UserID)) {
			status = " [seen]"
		}
		fmt.Printf("%s %s: %s%s\n", msg.CreatedAt.Local().Format("15:04"), name, msg.Content, status)
	}
	if typer := engine.Presence().TypingUser(chat.ID); typer != "" {
		fmt.Printf("%s is typing...\n", chat.DisplayNameOf(typer))
	}
}

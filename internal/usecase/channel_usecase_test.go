package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorepa/internal/domain/entity"
	"lorepa/pkg/errors"
)

func TestSendConfirmThenEchoDeduplicates(t *testing.T) {
	repo := newFakeChatRepo()
	repo.nextID = 41
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)

	msg, err := channel.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "m-42", msg.ID)
	assert.Equal(t, entity.MessageStatusSent, msg.Status)

	// The broadcast echo of our own send arrives after confirmation.
	echo := &entity.Message{
		ID:        "m-42",
		TempID:    msg.TempID,
		ChatID:    "c1",
		SenderID:  "u-1",
		Content:   "hello",
		CreatedAt: msg.CreatedAt,
	}
	assert.False(t, channel.Receive(echo))

	messages := channel.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "m-42", messages[0].ID)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestEchoArrivingBeforeConfirmation(t *testing.T) {
	repo := newFakeChatRepo()
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)

	// The server fans the message out before the persist response
	// makes it back to us.
	repo.onCreateMessage = func(pending *entity.Message) {
		channel.Receive(&entity.Message{
			ID:        "m-1",
			TempID:    pending.TempID,
			ChatID:    "c1",
			SenderID:  "u-1",
			Content:   pending.Content,
			CreatedAt: pending.CreatedAt,
		})
	}

	msg, err := channel.Send(context.Background(), "hello")
	require.NoError(t, err)

	messages := channel.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, entity.MessageStatusSent, msg.Status)
}

func TestReceiveOrdersByTimestampThenID(t *testing.T) {
	repo := newFakeChatRepo()
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	channel.Receive(testMessage("m-3", "c1", "u-2", "three", base.Add(30*time.Second)))
	channel.Receive(testMessage("m-1", "c1", "u-2", "one", base.Add(10*time.Second)))
	channel.Receive(testMessage("m-2b", "c1", "u-2", "two-b", base.Add(20*time.Second)))
	channel.Receive(testMessage("m-2a", "c1", "u-2", "two-a", base.Add(20*time.Second)))

	var ids []string
	for _, msg := range channel.Messages() {
		ids = append(ids, msg.ID)
	}
	assert.Equal(t, []string{"m-1", "m-2a", "m-2b", "m-3"}, ids)
}

func TestReceiveIsIdempotent(t *testing.T) {
	repo := newFakeChatRepo()
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)

	msg := testMessage("m-1", "c1", "u-2", "hi", time.Now())
	assert.True(t, channel.Receive(msg))
	assert.False(t, channel.Receive(msg))
	assert.Len(t, channel.Messages(), 1)
}

func TestReceiveIgnoresInactiveChat(t *testing.T) {
	repo := newFakeChatRepo()
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)

	assert.False(t, channel.Receive(testMessage("m-1", "c2", "u-2", "elsewhere", time.Now())))
	assert.Empty(t, channel.Messages())
}

func TestFailedSendKeptForRetry(t *testing.T) {
	repo := newFakeChatRepo()
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)

	repo.failSends = true
	msg, err := channel.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "SEND_FAILED"))
	require.NotNil(t, msg)
	assert.Equal(t, entity.MessageStatusFailed, msg.Status)
	require.Len(t, channel.Messages(), 1)

	repo.failSends = false
	retried, err := channel.Retry(context.Background(), msg.TempID)
	require.NoError(t, err)
	assert.Equal(t, entity.MessageStatusSent, retried.Status)
	assert.NotEmpty(t, retried.ID)
	assert.Len(t, channel.Messages(), 1)
}

func TestRetryUnknownTempID(t *testing.T) {
	repo := newFakeChatRepo()
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Retry(context.Background(), "tmp-nope")
	assert.True(t, errors.Is(err, "NOT_FOUND"))
}

func TestStaleOpenDiscarded(t *testing.T) {
	repo := newFakeChatRepo()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo.addMessage(testMessage("m-1", "c1", "u-2", "old one", base))
	repo.addMessage(testMessage("m-2", "c1", "u-2", "old two", base.Add(time.Second)))
	repo.addMessage(testMessage("m-9", "c2", "u-3", "fresh", base.Add(time.Minute)))

	channel := NewChannelUseCase(repo, testSession())

	// The user navigates to c2 while c1's history is still in flight.
	repo.onGetMessages = func(chatID string) {
		if chatID != "c1" {
			return
		}
		repo.onGetMessages = nil
		_, err := channel.Open(context.Background(), "c2")
		require.NoError(t, err)
	}

	messages, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, messages)

	assert.Equal(t, "c2", channel.ActiveChatID())
	current := channel.Messages()
	require.Len(t, current, 1)
	assert.Equal(t, "m-9", current[0].ID)
}

func TestSendValidation(t *testing.T) {
	repo := newFakeChatRepo()
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)

	_, err = channel.Send(context.Background(), "")
	assert.True(t, errors.Is(err, "BAD_REQUEST"))

	_, err = channel.Send(context.Background(), strings.Repeat("a", 2001))
	assert.True(t, errors.Is(err, "BAD_REQUEST"))

	assert.Empty(t, channel.Messages())
}

func TestSendWithoutActiveChat(t *testing.T) {
	channel := NewChannelUseCase(newFakeChatRepo(), testSession())

	_, err := channel.Send(context.Background(), "hello")
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestOpenLoadsHistoryInOrder(t *testing.T) {
	repo := newFakeChatRepo()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// Backend returns newest-first; display order is oldest-first.
	repo.addMessage(testMessage("m-2", "c1", "u-2", "second", base.Add(time.Second)))
	repo.addMessage(testMessage("m-1", "c1", "u-1", "first", base))

	channel := NewChannelUseCase(repo, testSession())
	messages, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m-1", messages[0].ID)
	assert.Equal(t, "m-2", messages[1].ID)
}

func TestConfirmDuringReopenIsNotLost(t *testing.T) {
	repo := newFakeChatRepo()
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)

	// The user re-selects the chat while the persist request is in
	// flight; the rebuilt history does not carry the message yet.
	repo.onCreateMessage = func(*entity.Message) {
		_, err := channel.Open(context.Background(), "c1")
		require.NoError(t, err)
	}

	msg, err := channel.Send(context.Background(), "hello")
	require.NoError(t, err)

	current := channel.Messages()
	require.Len(t, current, 1)
	assert.Equal(t, msg.ID, current[0].ID)
	assert.Equal(t, "m-1", current[0].ID)
	assert.Equal(t, entity.MessageStatusSent, current[0].Status)
}

func TestConfirmDuringReopenDedupsAgainstHistory(t *testing.T) {
	repo := newFakeChatRepo()
	channel := NewChannelUseCase(repo, testSession())

	_, err := channel.Open(context.Background(), "c1")
	require.NoError(t, err)

	// The backend persisted the message before the rebuilt history was
	// pulled, so the re-opened log already carries it under its final id.
	repo.onCreateMessage = func(m *entity.Message) {
		persisted := testMessage("m-1", "c1", m.SenderID, m.Content, time.Now().UTC())
		persisted.TempID = m.TempID
		repo.addMessage(persisted)
		_, err := channel.Open(context.Background(), "c1")
		require.NoError(t, err)
	}

	msg, err := channel.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)

	current := channel.Messages()
	require.Len(t, current, 1)
	assert.Equal(t, "m-1", current[0].ID)
}

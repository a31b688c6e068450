package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lorepa/internal/domain/entity"
	"lorepa/internal/domain/repository"
	"lorepa/pkg/errors"
)

type restChatRepository struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewRESTChatRepository(baseURL, token string) repository.ChatRepository {
	return &restChatRepository{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Response envelope used by the Lorepa backend on every endpoint.
type apiEnvelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *apiErrorInfo   `json:"error,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type apiErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type paginatedData struct {
	Items json.RawMessage `json:"items"`
	Total int64           `json:"total"`
}

type createChatRequest struct {
	RecipientID string `json:"recipient_id"`
	TrailerID   string `json:"trailer_id,omitempty"`
}

type sendMessageRequest struct {
	TempID  string `json:"temp_id"`
	Content string `json:"content"`
}

func (r *restChatRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Chat, int64, error) {
	query := url.Values{}
	query.Set("user_id", userID)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var page paginatedData
	if err := r.do(ctx, http.MethodGet, "/v1/chats", query, nil, &page); err != nil {
		return nil, 0, err
	}

	var chats []*entity.Chat
	if err := json.Unmarshal(page.Items, &chats); err != nil {
		return nil, 0, errors.Internal("failed to decode chat list", err)
	}
	return chats, page.Total, nil
}

func (r *restChatRepository) GetMessagesByChat(ctx context.Context, chatID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var page paginatedData
	path := fmt.Sprintf("/v1/chats/%s/messages", url.PathEscape(chatID))
	if err := r.do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
		return nil, 0, err
	}

	var messages []*entity.Message
	if err := json.Unmarshal(page.Items, &messages); err != nil {
		return nil, 0, errors.Internal("failed to decode message list", err)
	}
	return messages, page.Total, nil
}

func (r *restChatRepository) CreateChat(ctx context.Context, recipientID, trailerID string) (*entity.Chat, error) {
	var chat entity.Chat
	body := createChatRequest{RecipientID: recipientID, TrailerID: trailerID}
	if err := r.do(ctx, http.MethodPost, "/v1/chats", nil, body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *restChatRepository) CreateMessage(ctx context.Context, message *entity.Message) (*entity.Message, error) {
	var confirmed entity.Message
	body := sendMessageRequest{TempID: message.TempID, Content: message.Content}
	path := fmt.Sprintf("/v1/chats/%s/messages", url.PathEscape(message.ChatID))
	if err := r.do(ctx, http.MethodPost, path, nil, body, &confirmed); err != nil {
		return nil, err
	}
	return &confirmed, nil
}

func (r *restChatRepository) UpdateMessageReadStatus(ctx context.Context, chatID, messageID string) error {
	path := fmt.Sprintf("/v1/chats/%s/messages/%s/read", url.PathEscape(chatID), url.PathEscape(messageID))
	return r.do(ctx, http.MethodPost, path, nil, nil, nil)
}

func (r *restChatRepository) MarkChatAsRead(ctx context.Context, chatID string) error {
	path := fmt.Sprintf("/v1/chats/%s/read", url.PathEscape(chatID))
	return r.do(ctx, http.MethodPost, path, nil, nil, nil)
}

func (r *restChatRepository) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := r.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Internal("failed to encode request body", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Internal("failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Network("lorepa backend unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Network("failed to read backend response", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Network(fmt.Sprintf("backend returned status %d with unreadable body", resp.StatusCode), err)
	}

	if resp.StatusCode >= 400 || !env.Success {
		if env.Error != nil {
			return errors.New(env.Error.Code, env.Error.Message, resp.StatusCode, nil)
		}
		return errors.Network(fmt.Sprintf("backend returned status %d", resp.StatusCode), nil)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Internal("failed to decode response data", err)
		}
	}
	return nil
}

// Package chatclient is the Go client for the chat API. It mirrors what the
// embedding UI needs: conversation listings, optimistic sending with
// reconciliation, a realtime feed and a cached unread badge.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scoutlink/backend/pkg/apperr"
)

// TokenFunc supplies the bearer token for each request. Returning an empty
// token means there is no active session.
type TokenFunc func() (string, error)

// Message is the wire representation of a persisted message.
type Message struct {
	ID             uint       `json:"id"`
	ConversationID uint       `json:"conversation_id"`
	SenderID       uint       `json:"sender_id"`
	Content        string     `json:"content"`
	ClientKey      string     `json:"client_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// User is the public profile attached to conversation summaries.
type User struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Position string `json:"position,omitempty"`
	School   string `json:"school,omitempty"`
}

// Conversation is the wire representation of a thread.
type Conversation struct {
	ID            uint       `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	OtherUser     User       `json:"other_user"`
}

// ConversationSummary is one entry of the conversation list.
type ConversationSummary struct {
	Conversation
	LatestMessage *Message `json:"latest_message,omitempty"`
	Preview       string   `json:"preview"`
	UnreadCount   int64    `json:"unread_count"`
}

// Client performs authenticated calls against the chat API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenFunc
}

// NewClient creates a client for the API at baseURL. A nil httpClient uses a
// default with a 15 second timeout; there is no per-operation timeout beyond it.
func NewClient(baseURL string, token TokenFunc, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.token()
	if err != nil || token == "" {
		return apperr.Unauthenticated("No active session")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "Failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeUnknown, "Request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.Wrap(apperr.CodeInternal, "Failed to decode response", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		body.Error = fmt.Sprintf("Request failed with status %d", resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return apperr.InvalidArg(body.Error)
	case http.StatusUnauthorized:
		return apperr.Unauthenticated(body.Error)
	case http.StatusForbidden:
		return apperr.Forbidden(body.Error)
	case http.StatusNotFound:
		return apperr.NotFound(body.Error)
	default:
		return apperr.Internal(body.Error)
	}
}

// ListConversations fetches the conversation list, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	var out []ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/api/v1/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation opens (or returns) the thread with another user.
func (c *Client) CreateConversation(ctx context.Context, participantID uint) (*Conversation, error) {
	input := map[string]uint{"participant_id": participantID}
	var out Conversation
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat/conversations", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages fetches the full message log of a conversation in
// authoritative (created_at, id) order.
func (c *Client) ListMessages(ctx context.Context, conversationID uint) ([]Message, error) {
	var out []Message
	path := fmt.Sprintf("/api/v1/chat/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage appends a message. The clientKey is echoed back by the server
// so the caller can reconcile an optimistic entry.
func (c *Client) SendMessage(ctx context.Context, conversationID uint, content, clientKey string) (*Message, error) {
	input := map[string]string{"content": content, "client_key": clientKey}
	var out Message
	path := fmt.Sprintf("/api/v1/chat/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodPost, path, input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead marks every unread message in the conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID uint) error {
	path := fmt.Sprintf("/api/v1/chat/conversations/%d/read", conversationID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// DeleteConversation removes the conversation for both participants.
func (c *Client) DeleteConversation(ctx context.Context, conversationID uint) error {
	path := fmt.Sprintf("/api/v1/chat/conversations/%d", conversationID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// UnreadCount returns the total unread count. Without a session, or when the
// server rejects the token, it degrades to zero instead of failing so the
// badge never breaks the page.
func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	token, err := c.token()
	if err != nil || token == "" {
		return 0, nil
	}

	var out struct {
		UnreadCount int64 `json:"unread_count"`
	}
	err = c.do(ctx, http.MethodGet, "/api/v1/chat/unread-count", nil, &out)
	if err != nil {
		code := apperr.CodeOf(err)
		if code == apperr.CodeUnauthenticated || code == apperr.CodePermissionDenied {
			return 0, nil
		}
		return 0, err
	}
	return out.UnreadCount, nil
}

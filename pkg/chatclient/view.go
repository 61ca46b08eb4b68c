package chatclient

import (
	"context"
	"sync"
	"time"

	"scoutlink/backend/pkg/apperr"
)

// ChatView is the whole chat screen: the conversation list, the optionally
// open thread, the realtime subscription and the unread badge. It wires the
// control flow the UI needs: every pushed event updates the open thread when
// it belongs there and refreshes the list and badge regardless, and teardown
// stops both the subscription and the poll timer before returning.
type ChatView struct {
	client *Client
	selfID uint

	mu            sync.Mutex
	conversations []ConversationSummary
	thread        *ThreadView
	closed        bool

	unread *UnreadCounter
	sub    *Subscription

	// OnUpdate, when set, is called after any state change so the embedding
	// UI can re-render. Set it before Start.
	OnUpdate func()
}

// NewChatView creates the screen model for the given user.
func NewChatView(client *Client, selfID uint) *ChatView {
	return &ChatView{client: client, selfID: selfID}
}

// Start loads the conversation list and brings up the realtime subscription
// and the unread counter. unreadTTL bounds badge staleness (the original
// screen polled every 30 seconds).
func (cv *ChatView) Start(ctx context.Context, unreadTTL time.Duration) error {
	if err := cv.RefreshConversations(ctx); err != nil {
		return err
	}

	cv.unread = NewUnreadCounter(cv.client, unreadTTL, func(int64) { cv.update() })

	sub, err := cv.client.Subscribe(ctx, SubscriptionHandlers{
		OnInsert:    cv.handleInsert,
		OnReconnect: cv.handleReconnect,
	})
	if err != nil {
		// The poll loop is already running; stop it so a discarded view does
		// not keep a goroutine alive.
		cv.unread.Close()
		cv.unread = nil
		return err
	}
	cv.sub = sub
	return nil
}

// Conversations returns the current list snapshot, most recent first.
func (cv *ChatView) Conversations() []ConversationSummary {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	out := make([]ConversationSummary, len(cv.conversations))
	copy(out, cv.conversations)
	return out
}

// Thread returns the open thread view, or nil when none is selected.
func (cv *ChatView) Thread() *ThreadView {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.thread
}

// UnreadCount returns the cached total unread badge value.
func (cv *ChatView) UnreadCount(ctx context.Context) int64 {
	if cv.unread == nil {
		return 0
	}
	return cv.unread.Count(ctx)
}

// RefreshConversations refetches the list. Failures keep the last-known list.
func (cv *ChatView) RefreshConversations(ctx context.Context) error {
	summaries, err := cv.client.ListConversations(ctx)
	if err != nil {
		return err
	}
	cv.mu.Lock()
	cv.conversations = summaries
	cv.mu.Unlock()
	cv.update()
	return nil
}

// OpenConversation selects a thread, loads its backlog and marks it read.
func (cv *ChatView) OpenConversation(ctx context.Context, conversation Conversation) (*ThreadView, error) {
	thread := NewThreadView(cv.client, conversation, cv.selfID)
	if err := thread.Open(ctx); err != nil {
		return nil, err
	}

	cv.mu.Lock()
	cv.thread = thread
	cv.mu.Unlock()

	// Opening decreased this thread's unread contribution.
	if cv.unread != nil {
		cv.unread.Invalidate(ctx)
	}
	cv.update()
	return thread, nil
}

// StartConversation opens (or creates) the thread with another user and
// selects it.
func (cv *ChatView) StartConversation(ctx context.Context, participantID uint) (*ThreadView, error) {
	conversation, err := cv.client.CreateConversation(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := cv.RefreshConversations(ctx); err != nil {
		return nil, err
	}
	return cv.OpenConversation(ctx, *conversation)
}

// DeleteConversation removes a thread for both participants and refreshes
// the list. Deleting the open thread also clears the selection. A NotFound
// from the server means the other side already deleted it; the stale list is
// refreshed rather than surfacing a hard failure.
func (cv *ChatView) DeleteConversation(ctx context.Context, conversationID uint) error {
	err := cv.client.DeleteConversation(ctx, conversationID)
	if err != nil && !apperr.Is(err, apperr.CodeNotFound) {
		return err
	}

	cv.mu.Lock()
	if cv.thread != nil && cv.thread.ConversationID() == conversationID {
		cv.thread = nil
	}
	cv.mu.Unlock()

	if cv.unread != nil {
		cv.unread.Invalidate(ctx)
	}
	return cv.RefreshConversations(ctx)
}

// handleInsert feeds a pushed message into the open thread when it belongs
// there, and refreshes the list and badge for every event so previews and
// per-conversation unread counts stay current.
func (cv *ChatView) handleInsert(msg Message) {
	cv.mu.Lock()
	thread := cv.thread
	cv.mu.Unlock()

	if thread != nil {
		thread.ApplyEvent(msg)
	}

	ctx := context.Background()
	_ = cv.RefreshConversations(ctx)
	if cv.unread != nil && msg.SenderID != cv.selfID {
		cv.unread.Invalidate(ctx)
	}
}

// handleReconnect refetches everything the stream may have missed.
func (cv *ChatView) handleReconnect() {
	ctx := context.Background()

	cv.mu.Lock()
	thread := cv.thread
	cv.mu.Unlock()

	if thread != nil {
		_ = thread.Refresh(ctx)
	}
	_ = cv.RefreshConversations(ctx)
	if cv.unread != nil {
		cv.unread.Invalidate(ctx)
	}
}

func (cv *ChatView) update() {
	cv.mu.Lock()
	closed := cv.closed
	onUpdate := cv.OnUpdate
	cv.mu.Unlock()
	if !closed && onUpdate != nil {
		onUpdate()
	}
}

// Close tears the screen down: the subscription is closed and the poll timer
// stopped before it returns, so no callback from either fires afterwards.
func (cv *ChatView) Close() {
	cv.mu.Lock()
	if cv.closed {
		cv.mu.Unlock()
		return
	}
	cv.closed = true
	cv.mu.Unlock()

	if cv.sub != nil {
		cv.sub.Close()
	}
	if cv.unread != nil {
		cv.unread.Close()
	}
}

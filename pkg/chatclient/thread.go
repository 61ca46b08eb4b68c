package chatclient

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"scoutlink/backend/pkg/apperr"

	"github.com/google/uuid"
)

// SendState is the lifecycle of an outgoing message as the thread view sees it.
type SendState string

const (
	// StatePending marks a staged message shown before the server confirmed it.
	StatePending SendState = "pending"
	// StateConfirmed marks an authoritative server record.
	StateConfirmed SendState = "confirmed"
)

// ThreadEntry is one visible row of an open thread.
type ThreadEntry struct {
	Message
	State SendState
}

// ThreadView is the open-conversation model: the visible message list, the
// compose field and the optimistic send machinery. Each staged send carries a
// generated client key; the server echoes it back, and reconciliation matches
// on that key, so two rapid sends of identical content stay distinct.
//
// All methods are safe for concurrent use; Submit stages synchronously and
// performs the network call without holding the lock, so the staged entry is
// visible while the request is in flight.
type ThreadView struct {
	client       *Client
	conversation Conversation
	selfID       uint

	mu        sync.Mutex
	compose   string
	confirmed []ThreadEntry
	pending   []ThreadEntry
	newKey    func() string
}

// NewThreadView creates the view for one conversation. Call Open to load the
// backlog and mark it read.
func NewThreadView(client *Client, conversation Conversation, selfID uint) *ThreadView {
	return &ThreadView{
		client:       client,
		conversation: conversation,
		selfID:       selfID,
		newKey:       uuid.NewString,
	}
}

// ConversationID returns the thread this view renders.
func (v *ThreadView) ConversationID() uint {
	return v.conversation.ID
}

// Open fetches the full backlog and marks the conversation read. It is also
// the recovery path after a realtime reconnect: the stream is never trusted
// to have delivered everything missed while disconnected.
func (v *ThreadView) Open(ctx context.Context) error {
	if err := v.Refresh(ctx); err != nil {
		return err
	}
	// Opening marks everything currently unread as read, regardless of
	// scroll position. A failure here must not block reading or sending.
	return v.client.MarkRead(ctx, v.conversation.ID)
}

// Refresh replaces the confirmed list with a fresh fetch. Pending entries
// survive unless the fetch shows the server already persisted them.
func (v *ThreadView) Refresh(ctx context.Context) error {
	messages, err := v.client.ListMessages(ctx, v.conversation.ID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.confirmed = v.confirmed[:0]
	seenKeys := make(map[string]bool)
	for _, msg := range messages {
		v.confirmed = append(v.confirmed, ThreadEntry{Message: msg, State: StateConfirmed})
		if msg.ClientKey != "" {
			seenKeys[msg.ClientKey] = true
		}
	}
	v.sortConfirmedLocked()

	remaining := v.pending[:0]
	for _, entry := range v.pending {
		if !seenKeys[entry.ClientKey] {
			remaining = append(remaining, entry)
		}
	}
	v.pending = remaining
	return nil
}

// SetCompose replaces the compose field content.
func (v *ThreadView) SetCompose(content string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.compose = content
}

// Compose returns the current compose field content.
func (v *ThreadView) Compose() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.compose
}

// Messages returns the visible list: confirmed records in authoritative
// (created_at, id) order, then staged entries in submit order.
func (v *ThreadView) Messages() []ThreadEntry {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]ThreadEntry, 0, len(v.confirmed)+len(v.pending))
	out = append(out, v.confirmed...)
	out = append(out, v.pending...)
	return out
}

// Submit sends the compose field content. The field is cleared and a pending
// entry becomes visible before any network round-trip. On success the entry
// is replaced by the server record; on failure it is removed, the content is
// restored into the compose field, and the error is returned for the caller
// to surface. There is no automatic retry.
func (v *ThreadView) Submit(ctx context.Context) error {
	v.mu.Lock()
	content := strings.TrimSpace(v.compose)
	if content == "" {
		v.mu.Unlock()
		return apperr.InvalidArg("Message content cannot be empty")
	}
	v.compose = ""

	key := v.newKey()
	v.pending = append(v.pending, ThreadEntry{
		Message: Message{
			ConversationID: v.conversation.ID,
			SenderID:       v.selfID,
			Content:        content,
			ClientKey:      key,
			CreatedAt:      time.Now(),
		},
		State: StatePending,
	})
	v.mu.Unlock()

	sent, err := v.client.SendMessage(ctx, v.conversation.ID, content, key)
	if err != nil {
		v.mu.Lock()
		v.removePendingLocked(key)
		// Restore the input so nothing the user typed is lost.
		v.compose = content
		v.mu.Unlock()
		return err
	}

	v.confirm(*sent)
	return nil
}

// ApplyEvent feeds a pushed message into the view. Events for other
// conversations are ignored here (the caller still refreshes its conversation
// list on every event); events for this thread are reconciled against pending
// entries and deduplicated, since the feed is at-least-once and may race the
// send response.
func (v *ThreadView) ApplyEvent(msg Message) bool {
	if msg.ConversationID != v.conversation.ID {
		return false
	}
	v.confirm(msg)
	return true
}

func (v *ThreadView) confirm(msg Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if msg.ClientKey != "" {
		v.removePendingLocked(msg.ClientKey)
	}
	for _, entry := range v.confirmed {
		if entry.ID == msg.ID {
			return
		}
	}
	v.confirmed = append(v.confirmed, ThreadEntry{Message: msg, State: StateConfirmed})
	v.sortConfirmedLocked()
}

func (v *ThreadView) removePendingLocked(clientKey string) {
	for i, entry := range v.pending {
		if entry.ClientKey == clientKey {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return
		}
	}
}

// Arrival order is never trusted; only the stored ordering key is.
func (v *ThreadView) sortConfirmedLocked() {
	sort.SliceStable(v.confirmed, func(i, j int) bool {
		a, b := v.confirmed[i], v.confirmed[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

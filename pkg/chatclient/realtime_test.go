package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"scoutlink/backend/pkg/apperr"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed is a websocket endpoint that lets tests push events to whichever
// connection is currently attached.
type fakeFeed struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	accepted  int
	dropFirst bool
}

func (f *fakeFeed) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		f.mu.Lock()
		f.accepted++
		drop := f.dropFirst && f.accepted == 1
		if !drop {
			f.conns = append(f.conns, conn)
		}
		f.mu.Unlock()

		if drop {
			conn.Close()
			return
		}

		// Drain until the peer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

// dropConns severs every attached connection, simulating a network gap. The
// client is expected to come back on its own.
func (f *fakeFeed) dropConns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		conn.Close()
	}
	f.conns = nil
}

func (f *fakeFeed) push(t *testing.T, event interface{}) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
}

func (f *fakeFeed) waitForConnection(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		accepted := f.accepted
		f.mu.Unlock()
		if accepted >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection %d never arrived", n)
}

func newFeedClient(t *testing.T, feed *fakeFeed) *Client {
	t.Helper()
	server := httptest.NewServer(feed.handler())
	t.Cleanup(server.Close)
	return NewClient(server.URL, staticToken("test-token"), server.Client())
}

func messageEvent(msg Message) map[string]interface{} {
	return map[string]interface{}{"type": "message_created", "payload": msg}
}

func TestSubscribeDeliversInserts(t *testing.T) {
	feed := &fakeFeed{}
	client := newFeedClient(t, feed)

	received := make(chan Message, 4)
	sub, err := client.Subscribe(context.Background(), SubscriptionHandlers{
		OnInsert: func(msg Message) { received <- msg },
	})
	require.NoError(t, err)
	defer sub.Close()
	feed.waitForConnection(t, 1)

	feed.push(t, messageEvent(Message{ID: 1, ConversationID: 7, SenderID: 3, Content: "Hello"}))

	select {
	case msg := <-received:
		assert.Equal(t, uint(1), msg.ID)
		assert.Equal(t, uint(7), msg.ConversationID)
		assert.Equal(t, "Hello", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("pushed event never reached the handler")
	}
}

func TestSubscribeIgnoresUnknownEventTypes(t *testing.T) {
	feed := &fakeFeed{}
	client := newFeedClient(t, feed)

	received := make(chan Message, 4)
	sub, err := client.Subscribe(context.Background(), SubscriptionHandlers{
		OnInsert: func(msg Message) { received <- msg },
	})
	require.NoError(t, err)
	defer sub.Close()
	feed.waitForConnection(t, 1)

	feed.push(t, map[string]interface{}{"type": "presence_changed", "payload": map[string]uint{"user_id": 3}})
	feed.push(t, messageEvent(Message{ID: 2, ConversationID: 7, Content: "after"}))

	select {
	case msg := <-received:
		assert.Equal(t, uint(2), msg.ID, "only message events are dispatched")
	case <-time.After(2 * time.Second):
		t.Fatal("pushed event never reached the handler")
	}
	assert.Empty(t, received)
}

func TestSubscribeWithoutSessionFails(t *testing.T) {
	feed := &fakeFeed{}
	server := httptest.NewServer(feed.handler())
	t.Cleanup(server.Close)

	client := NewClient(server.URL, staticToken(""), server.Client())
	_, err := client.Subscribe(context.Background(), SubscriptionHandlers{})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthenticated))

	feed.mu.Lock()
	defer feed.mu.Unlock()
	assert.Equal(t, 0, feed.accepted, "no dial without a token")
}

func TestReconnectTriggersRefetchSignal(t *testing.T) {
	feed := &fakeFeed{dropFirst: true}
	client := newFeedClient(t, feed)

	reconnected := make(chan struct{}, 1)
	sub, err := client.Subscribe(context.Background(), SubscriptionHandlers{
		OnReconnect: func() {
			select {
			case reconnected <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer sub.Close()

	// The server drops the first connection immediately; the client must come
	// back on its own and announce the gap.
	feed.waitForConnection(t, 2)
	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect signal never fired")
	}
}

func TestCloseStopsCallbacks(t *testing.T) {
	feed := &fakeFeed{}
	client := newFeedClient(t, feed)

	var mu sync.Mutex
	delivered := 0
	sub, err := client.Subscribe(context.Background(), SubscriptionHandlers{
		OnInsert: func(Message) {
			mu.Lock()
			delivered++
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	feed.waitForConnection(t, 1)

	sub.Close()
	sub.Close() // idempotent

	// Frames pushed after teardown are dropped, never delivered late.
	feed.push(t, messageEvent(Message{ID: 3, ConversationID: 7, Content: "late"}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, delivered)
}

package chatclient

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"scoutlink/backend/pkg/apperr"

	"github.com/gorilla/websocket"
)

// SubscriptionHandlers are the callbacks a realtime subscription drives.
type SubscriptionHandlers struct {
	// OnInsert fires for every pushed message_created event, at least once
	// per message. Arrival order carries no guarantee; consumers order by
	// the message's (created_at, id) only.
	OnInsert func(Message)

	// OnReconnect fires after the transport reconnects. The consumer must
	// refetch the open thread and the conversation list in full rather than
	// trust the stream to have delivered everything missed while down.
	OnReconnect func()
}

// Subscription is a live connection to the message feed. Close is final:
// after it returns, no callback fires again.
type Subscription struct {
	mu     sync.Mutex
	closed bool
	conn   *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const eventMessageCreated = "message_created"

// Subscribe connects to the realtime feed and dispatches events to the
// handlers. The feed is scoped to the authenticated user, so only events for
// the user's own conversations arrive; handlers should still filter by
// conversation before touching visible state. The connection retries with
// backoff until Close is called or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, handlers SubscriptionHandlers) (*Subscription, error) {
	token, err := c.token()
	if err != nil || token == "" {
		return nil, apperr.Unauthenticated("No active session")
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	wsURL := c.websocketURL(token)
	conn, _, err := websocket.DefaultDialer.DialContext(runCtx, wsURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	sub.setConn(conn)

	go sub.run(runCtx, wsURL, handlers)
	return sub, nil
}

func (c *Client) websocketURL(token string) string {
	base := c.baseURL
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/chat/ws?token=" + token
}

func (s *Subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// dispatch invokes a callback unless the subscription is closed. The lock is
// held across the call, so Close blocks until an in-flight callback returns
// and nothing can start afterwards.
func (s *Subscription) dispatch(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || fn == nil {
		return
	}
	fn()
}

func (s *Subscription) run(ctx context.Context, wsURL string, handlers SubscriptionHandlers) {
	defer close(s.done)

	backoff := time.Second
	first := true

	for {
		s.mu.Lock()
		conn, closed := s.conn, s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		if conn == nil {
			var err error
			conn, _, err = websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
			s.setConn(conn)
		}

		if !first {
			// The stream may have missed events while down; the consumer
			// refetches authoritative state instead of trusting it.
			s.dispatch(handlers.OnReconnect)
		}
		first = false

		s.readLoop(conn, handlers)
		s.setConn(nil)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Subscription) readLoop(conn *websocket.Conn, handlers SubscriptionHandlers) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var event wireEvent
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		if event.Type != eventMessageCreated {
			continue
		}

		var msg Message
		if err := json.Unmarshal(event.Payload, &msg); err != nil {
			continue
		}
		if handlers.OnInsert != nil {
			s.dispatch(func() { handlers.OnInsert(msg) })
		}
	}
}

// Close tears the subscription down. It returns only once no callback can
// fire again; frames already queued by the transport are dropped, never
// delivered late. Must not be called from within a callback.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
	<-s.done
}

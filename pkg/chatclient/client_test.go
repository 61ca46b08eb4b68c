package chatclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func staticToken(token string) TokenFunc {
	return func() (string, error) { return token, nil }
}

// fakeAPI is an in-memory stand-in for the chat server, just enough surface
// for the client tests.
type fakeAPI struct {
	mu        sync.Mutex
	nextID    uint
	messages  []Message
	summaries []ConversationSummary
	unread    int64

	failSends    bool
	failUnread   bool
	deleteStatus int           // 0 means success
	sendGate     chan struct{} // when set, POST .../messages blocks until closed
	sendSeen     chan struct{} // signalled once per send request received

	sendCalls   int
	unreadCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{}
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/chat/unread-count":
			f.mu.Lock()
			f.unreadCalls++
			fail, unread := f.failUnread, f.unread
			f.mu.Unlock()
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"Internal server error"}`)
				return
			}
			json.NewEncoder(w).Encode(map[string]int64{"unread_count": unread})

		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/chat/conversations":
			f.mu.Lock()
			out := make([]ConversationSummary, len(f.summaries))
			copy(out, f.summaries)
			f.mu.Unlock()
			json.NewEncoder(w).Encode(out)

		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/v1/chat/conversations/"):
			f.mu.Lock()
			status := f.deleteStatus
			f.mu.Unlock()
			if status != 0 {
				w.WriteHeader(status)
				fmt.Fprint(w, `{"error":"Conversation not found"}`)
				return
			}
			json.NewEncoder(w).Encode(map[string]bool{"deleted": true})

		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/messages"):
			f.mu.Lock()
			out := make([]Message, len(f.messages))
			copy(out, f.messages)
			f.mu.Unlock()
			json.NewEncoder(w).Encode(out)

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
			var input struct {
				Content   string `json:"content"`
				ClientKey string `json:"client_key"`
			}
			json.NewDecoder(r.Body).Decode(&input)

			f.mu.Lock()
			f.sendCalls++
			seen, gate, fail := f.sendSeen, f.sendGate, f.failSends
			f.mu.Unlock()
			if seen != nil {
				seen <- struct{}{}
			}
			if gate != nil {
				<-gate
			}
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"Internal server error"}`)
				return
			}

			f.mu.Lock()
			// When the row was persisted before the response went out (a
			// refetch raced a slow ack), the ack carries that same row.
			for _, existing := range f.messages {
				if input.ClientKey != "" && existing.ClientKey == input.ClientKey {
					f.mu.Unlock()
					w.WriteHeader(http.StatusCreated)
					json.NewEncoder(w).Encode(existing)
					return
				}
			}
			f.nextID++
			msg := Message{
				ID:             f.nextID,
				ConversationID: 1,
				SenderID:       10,
				Content:        input.Content,
				ClientKey:      input.ClientKey,
				CreatedAt:      time.Now(),
			}
			f.messages = append(f.messages, msg)
			f.mu.Unlock()

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(msg)

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/read"):
			json.NewEncoder(w).Encode(map[string]int64{"updated": 0})

		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"Not found"}`)
		}
	})
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)
	return NewClient(server.URL, staticToken("test-token"), server.Client())
}

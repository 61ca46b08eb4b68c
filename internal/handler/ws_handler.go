package handler

import (
	"log"
	"net/http"

	"scoutlink/backend/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChatWebSocket godoc
// @Summary      Realtime message feed
// @Description  Upgrades to a websocket delivering message_created events for the authenticated user's conversations.
// @Tags         chat
// @Security     BearerAuth
// @Success      101  {string}  string  "Switching Protocols"
// @Failure      401  {object}  ErrorResponse
// @Router       /chat/ws [get]
func ChatWebSocket(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}
	defer conn.Close()

	client := make(hub.Client, 32)
	eventHub.Subscribe(userID.(uint), client)
	defer eventHub.Unsubscribe(userID.(uint), client)

	// Writer: drains the hub channel until Unsubscribe closes it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range client {
			if err := conn.WriteMessage(websocket.TextMessage, event); err != nil {
				return
			}
		}
	}()

	// Reader: the feed is push-only, we only read to notice the peer closing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	eventHub.Unsubscribe(userID.(uint), client)
	<-done
}

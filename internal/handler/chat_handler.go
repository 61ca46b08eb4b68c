package handler

import (
	"net/http"
	"strconv"
	"time"

	"scoutlink/backend/internal/chat"
	"scoutlink/backend/internal/database"
	"scoutlink/backend/internal/hub"
	"scoutlink/backend/internal/metrics"
	"scoutlink/backend/internal/models"
	"scoutlink/backend/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// Wired once at startup by SetupChat.
var (
	conversationStore *chat.ConversationStore
	messageStore      *chat.MessageStore
	unreadTracker     *chat.UnreadTracker
	eventHub          *hub.Hub
)

// SetupChat injects the chat stores and hub used by the handlers in this package.
func SetupChat(cs *chat.ConversationStore, ms *chat.MessageStore, ut *chat.UnreadTracker, h *hub.Hub) {
	conversationStore = cs
	messageStore = ms
	unreadTracker = ut
	eventHub = h
}

// region --- DTOs ---

// CreateConversationInput identifies the other participant to open a thread with.
type CreateConversationInput struct {
	ParticipantID uint `json:"participant_id" binding:"required" example:"42"`
}

// SendMessageInput defines the body of a send request. ClientKey is optional;
// optimistic clients set it and match the echoed value to their staged entry.
type SendMessageInput struct {
	Content   string `json:"content" binding:"required" example:"Hello coach"`
	ClientKey string `json:"client_key" binding:"max=64" example:"b4dcff4b-2a5b-4c8a-9d1f-0c8e6f1a2b3c"`
}

// MessageResponse is the wire representation of a persisted message.
type MessageResponse struct {
	ID             uint       `json:"id"`
	ConversationID uint       `json:"conversation_id"`
	SenderID       uint       `json:"sender_id"`
	Content        string     `json:"content"`
	ClientKey      string     `json:"client_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// ConversationResponse is the wire representation of a conversation from the
// requesting user's point of view.
type ConversationResponse struct {
	ID            uint               `json:"id"`
	CreatedAt     time.Time          `json:"created_at"`
	LastMessageAt *time.Time         `json:"last_message_at,omitempty"`
	OtherUser     PublicUserResponse `json:"other_user"`
}

// ConversationSummaryResponse is one entry of the conversation list.
type ConversationSummaryResponse struct {
	ConversationResponse
	LatestMessage *MessageResponse `json:"latest_message,omitempty"`
	Preview       string           `json:"preview"`
	UnreadCount   int64            `json:"unread_count"`
}

// UnreadCountResponse carries the total unread count for the requesting user.
type UnreadCountResponse struct {
	UnreadCount int64 `json:"unread_count"`
}

func newMessageResponse(message *models.Message) MessageResponse {
	return MessageResponse{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Content:        message.Content,
		ClientKey:      message.ClientKey,
		CreatedAt:      message.CreatedAt,
		ReadAt:         message.ReadAt,
	}
}

func newConversationResponse(conv *models.Conversation, other *models.User) ConversationResponse {
	return ConversationResponse{
		ID:            conv.ID,
		CreatedAt:     conv.CreatedAt,
		LastMessageAt: conv.LastMessageAt,
		OtherUser:     buildPublicUserResponse(*other),
	}
}

const previewLength = 50

// truncatePreview shortens the latest message for the conversation list.
func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}

func newConversationSummaryResponse(summary chat.ConversationSummary) ConversationSummaryResponse {
	resp := ConversationSummaryResponse{
		ConversationResponse: newConversationResponse(&summary.Conversation, &summary.OtherUser),
		UnreadCount:          summary.UnreadCount,
	}
	if summary.LatestMessage != nil {
		msg := newMessageResponse(summary.LatestMessage)
		resp.LatestMessage = &msg
		resp.Preview = truncatePreview(summary.LatestMessage.Content)
	}
	return resp
}

// endregion

// respondError maps a store error onto an HTTP status and the standard
// {"error": ...} body.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperr.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case apperr.CodePermissionDenied:
		status = http.StatusForbidden
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		// Do not leak driver errors to clients.
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": message})
}

func conversationIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID"})
		return 0, false
	}
	return uint(id), true
}

// ListConversations godoc
// @Summary      List conversations
// @Description  Returns the user's conversations, most recently active first, with previews and unread counts.
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   ConversationSummaryResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /chat/conversations [get]
func ListConversations(c *gin.Context) {
	userID, _ := c.Get("userID")

	summaries, err := conversationStore.ListForUser(userID.(uint))
	metrics.RecordChatOperation("list_conversations", err)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]ConversationSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		responses = append(responses, newConversationSummaryResponse(summary))
	}
	c.JSON(http.StatusOK, responses)
}

// CreateConversation godoc
// @Summary      Create or fetch a conversation
// @Description  Opens the thread with another user, creating it on first contact. Returns 200 for an existing thread and 201 for a new one.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body CreateConversationInput true "Other participant"
// @Success      200  {object}  ConversationResponse
// @Success      201  {object}  ConversationResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "Other user not found"
// @Router       /chat/conversations [post]
func CreateConversation(c *gin.Context) {
	userID, _ := c.Get("userID")

	var input CreateConversationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, created, err := conversationStore.CreateOrGet(userID.(uint), input.ParticipantID)
	metrics.RecordChatOperation("create_conversation", err)
	if err != nil {
		respondError(c, err)
		return
	}

	var other models.User
	if err := database.DB.First(&other, conv.OtherParticipantID(userID.(uint))).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load participant"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, newConversationResponse(conv, &other))
}

// GetConversationMessages godoc
// @Summary      List messages
// @Description  Returns the conversation's messages in ascending (created_at, id) order.
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Conversation ID"
// @Success      200  {array}   MessageResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Not a participant"
// @Failure      404  {object}  ErrorResponse
// @Router       /chat/conversations/{id}/messages [get]
func GetConversationMessages(c *gin.Context) {
	userID, _ := c.Get("userID")
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}

	messages, err := messageStore.List(conversationID, userID.(uint))
	metrics.RecordChatOperation("list_messages", err)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]MessageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, newMessageResponse(&messages[i]))
	}
	c.JSON(http.StatusOK, responses)
}

// SendMessage godoc
// @Summary      Send a message
// @Description  Appends a message to the conversation and pushes it to both participants.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path  int               true  "Conversation ID"
// @Param        input body  SendMessageInput  true  "Message"
// @Success      201  {object}  MessageResponse
// @Failure      400  {object}  ErrorResponse "Empty content"
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Not a participant"
// @Failure      404  {object}  ErrorResponse
// @Router       /chat/conversations/{id}/messages [post]
func SendMessage(c *gin.Context) {
	userID, _ := c.Get("userID")
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}

	var input SendMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := messageStore.Append(conversationID, userID.(uint), input.Content, input.ClientKey)
	metrics.RecordChatOperation("send_message", err)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newMessageResponse(message))
}

// MarkConversationRead godoc
// @Summary      Mark a conversation read
// @Description  Stamps every unread message addressed to the user in this conversation. Safe to repeat.
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Conversation ID"
// @Success      200  {object}  map[string]int64 "{"updated": 2}"
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /chat/conversations/{id}/read [post]
func MarkConversationRead(c *gin.Context) {
	userID, _ := c.Get("userID")
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}

	updated, err := messageStore.MarkRead(conversationID, userID.(uint))
	metrics.RecordChatOperation("mark_read", err)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// DeleteConversation godoc
// @Summary      Delete a conversation
// @Description  Removes the conversation and all of its messages for both participants.
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Conversation ID"
// @Success      200  {object}  map[string]bool "{"deleted": true}"
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Not a participant"
// @Failure      404  {object}  ErrorResponse "Already deleted"
// @Router       /chat/conversations/{id} [delete]
func DeleteConversation(c *gin.Context) {
	userID, _ := c.Get("userID")
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}

	err := conversationStore.Delete(conversationID, userID.(uint))
	metrics.RecordChatOperation("delete_conversation", err)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// GetUnreadCount godoc
// @Summary      Get total unread count
// @Description  Returns the number of unread messages across all conversations. Without a valid session the count is 0, not an error.
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  UnreadCountResponse
// @Router       /chat/unread-count [get]
func GetUnreadCount(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		// Logged-out visitors see an empty badge rather than an auth error.
		c.JSON(http.StatusOK, UnreadCountResponse{UnreadCount: 0})
		return
	}

	count, err := unreadTracker.Count(c.Request.Context(), userID.(uint))
	metrics.RecordChatOperation("unread_count", err)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, UnreadCountResponse{UnreadCount: count})
}

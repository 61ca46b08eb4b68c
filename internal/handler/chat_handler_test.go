package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scoutlink/backend/internal/auth"
	"scoutlink/backend/internal/chat"
	"scoutlink/backend/internal/config"
	"scoutlink/backend/internal/database"
	"scoutlink/backend/internal/hub"
	"scoutlink/backend/internal/models"
	"scoutlink/backend/pkg/jwt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupChatRouter wires a full router around a fresh in-memory database.
func setupChatRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config.AppConfig = &config.Config{JWTSecret: "test-secret"}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	database.DB = db

	eventHub := hub.NewHub()
	conversations := chat.NewConversationStore(db)
	tracker := chat.NewUnreadTracker(db, chat.NewMemoryCountCache(), 30*time.Second)
	messages := chat.NewMessageStore(db, conversations, tracker, nil)
	SetupChat(conversations, messages, tracker, eventHub)

	router := gin.New()
	apiV1 := router.Group("/api/v1")
	chatRoutes := apiV1.Group("/chat")
	chatRoutes.GET("/unread-count", auth.OptionalAuthMiddleware(), GetUnreadCount)
	protected := chatRoutes.Group("")
	protected.Use(auth.AuthMiddleware())
	protected.GET("/conversations", ListConversations)
	protected.POST("/conversations", CreateConversation)
	protected.DELETE("/conversations/:id", DeleteConversation)
	protected.GET("/conversations/:id/messages", GetConversationMessages)
	protected.POST("/conversations/:id/messages", SendMessage)
	protected.POST("/conversations/:id/read", MarkConversationRead)
	return router
}

func createUserWithToken(t *testing.T, role models.UserRole) (*models.User, string) {
	t.Helper()
	user := models.User{
		Name:         gofakeit.Name(),
		Email:        gofakeit.Email(),
		PasswordHash: "x",
		Role:         role,
	}
	require.NoError(t, database.DB.Create(&user).Error)
	token, err := jwt.GenerateToken(user.ID)
	require.NoError(t, err)
	return &user, token
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCoachMessagesPlayerEndToEnd(t *testing.T) {
	router := setupChatRouter(t)
	coach, coachToken := createUserWithToken(t, models.RoleCoach)
	player, playerToken := createUserWithToken(t, models.RolePlayer)

	// Coach opens the thread.
	w := doJSON(t, router, "POST", "/api/v1/chat/conversations", coachToken,
		CreateConversationInput{ParticipantID: player.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var conv ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Equal(t, player.ID, conv.OtherUser.ID)

	// Opening it again from the other side returns the same thread.
	w = doJSON(t, router, "POST", "/api/v1/chat/conversations", playerToken,
		CreateConversationInput{ParticipantID: coach.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var again ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, conv.ID, again.ID)

	// Coach sends "Hello".
	w = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/chat/conversations/%d/messages", conv.ID),
		coachToken, SendMessageInput{Content: "Hello", ClientKey: "k1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var sent MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	assert.Equal(t, "Hello", sent.Content)
	assert.Equal(t, "k1", sent.ClientKey)

	// Player sees one conversation with the preview and an unread badge.
	w = doJSON(t, router, "GET", "/api/v1/chat/conversations", playerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summaries []ConversationSummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "Hello", summaries[0].Preview)
	assert.Equal(t, int64(1), summaries[0].UnreadCount)

	w = doJSON(t, router, "GET", "/api/v1/chat/unread-count", playerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var unread UnreadCountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unread))
	assert.Equal(t, int64(1), unread.UnreadCount)

	// Player opens the thread: lists messages and marks it read.
	w = doJSON(t, router, "GET", fmt.Sprintf("/api/v1/chat/conversations/%d/messages", conv.ID), playerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	w = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/chat/conversations/%d/read", conv.ID), playerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The badge drops to zero.
	w = doJSON(t, router, "GET", "/api/v1/chat/conversations", playerToken, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(0), summaries[0].UnreadCount)

	w = doJSON(t, router, "GET", "/api/v1/chat/unread-count", playerToken, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unread))
	assert.Equal(t, int64(0), unread.UnreadCount)
}

func TestUnreadCountDegradesToZeroWithoutSession(t *testing.T) {
	router := setupChatRouter(t)

	for _, token := range []string{"", "not-a-valid-token"} {
		w := doJSON(t, router, "GET", "/api/v1/chat/unread-count", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var unread UnreadCountResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unread))
		assert.Equal(t, int64(0), unread.UnreadCount)
	}
}

func TestChatEndpointsRequireAuth(t *testing.T) {
	router := setupChatRouter(t)

	w := doJSON(t, router, "GET", "/api/v1/chat/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/chat/conversations/1/messages", "",
		SendMessageInput{Content: "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendMessageErrors(t *testing.T) {
	router := setupChatRouter(t)
	_, coachToken := createUserWithToken(t, models.RoleCoach)
	player, _ := createUserWithToken(t, models.RolePlayer)
	_, outsiderToken := createUserWithToken(t, models.RolePlayer)

	w := doJSON(t, router, "POST", "/api/v1/chat/conversations", coachToken,
		CreateConversationInput{ParticipantID: player.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var conv ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))

	// Whitespace-only content is rejected before anything is persisted.
	w = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/chat/conversations/%d/messages", conv.ID),
		coachToken, map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A non-participant is forbidden.
	w = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/chat/conversations/%d/messages", conv.ID),
		outsiderToken, SendMessageInput{Content: "let me in"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// An unknown conversation is NotFound.
	w = doJSON(t, router, "POST", "/api/v1/chat/conversations/9999/messages",
		coachToken, SendMessageInput{Content: "hello?"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteConversationEndpoint(t *testing.T) {
	router := setupChatRouter(t)
	_, coachToken := createUserWithToken(t, models.RoleCoach)
	player, playerToken := createUserWithToken(t, models.RolePlayer)

	w := doJSON(t, router, "POST", "/api/v1/chat/conversations", coachToken,
		CreateConversationInput{ParticipantID: player.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var conv ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))

	w = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/chat/conversations/%d/messages", conv.ID),
		coachToken, SendMessageInput{Content: "Hello"})
	require.Equal(t, http.StatusCreated, w.Code)

	// Either side may delete; it disappears for both.
	w = doJSON(t, router, "DELETE", fmt.Sprintf("/api/v1/chat/conversations/%d", conv.ID), playerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/chat/conversations", coachToken, nil)
	var summaries []ConversationSummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	assert.Empty(t, summaries)

	// The second delete reports NotFound.
	w = doJSON(t, router, "DELETE", fmt.Sprintf("/api/v1/chat/conversations/%d", conv.ID), coachToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"scoutlink/backend/internal/database"
	"scoutlink/backend/internal/models"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a fresh in-memory database for one test. The shared-cache
// DSN keeps gorm's pooled connections pointed at the same store.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, role models.UserRole) *models.User {
	t.Helper()
	user := models.User{
		Name:         gofakeit.Name(),
		Email:        gofakeit.Email(),
		PasswordHash: "x",
		Role:         role,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

// newTestStores wires the three stores around one database with an in-memory
// cache and no notifier.
func newTestStores(t *testing.T, db *gorm.DB) (*ConversationStore, *MessageStore, *UnreadTracker) {
	t.Helper()
	conversations := NewConversationStore(db)
	tracker := NewUnreadTracker(db, NewMemoryCountCache(), 30*time.Second)
	messages := NewMessageStore(db, conversations, tracker, nil)
	return conversations, messages, tracker
}

// recordingNotifier captures MessageCreated calls for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []uint
}

func (n *recordingNotifier) MessageCreated(userID uint, _ *models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, userID)
}

func (n *recordingNotifier) notified() []uint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint(nil), n.calls...)
}

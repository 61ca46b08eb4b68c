package chat

import (
	"context"
	"strings"
	"time"

	"scoutlink/backend/internal/models"
	"scoutlink/backend/pkg/apperr"

	"gorm.io/gorm"
)

// Notifier receives a callback for every persisted message so the realtime
// layer can push it to the affected users. A nil Notifier disables push.
type Notifier interface {
	MessageCreated(userID uint, message *models.Message)
}

// MessageStore owns the append-only message log of every conversation.
type MessageStore struct {
	db            *gorm.DB
	conversations *ConversationStore
	tracker       *UnreadTracker
	notifier      Notifier
}

func NewMessageStore(db *gorm.DB, conversations *ConversationStore, tracker *UnreadTracker, notifier Notifier) *MessageStore {
	return &MessageStore{
		db:            db,
		conversations: conversations,
		tracker:       tracker,
		notifier:      notifier,
	}
}

// Append persists a new message. The server assigns the timestamp and id that
// define the authoritative ordering; the conversation's LastMessageAt moves
// forward in the same transaction. The clientKey is stored and echoed back
// verbatim so optimistic senders can reconcile their staged entry.
func (s *MessageStore) Append(conversationID, senderID uint, content, clientKey string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.InvalidArg("Message content cannot be empty")
	}

	conv, err := s.conversations.Get(conversationID, senderID)
	if err != nil {
		return nil, err
	}

	message := models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		ClientKey:      clientKey,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&message).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Update("last_message_at", message.CreatedAt).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to send message", err)
	}

	recipientID := conv.OtherParticipantID(senderID)
	s.tracker.Invalidate(context.Background(), recipientID)

	if s.notifier != nil {
		// Both sides are notified: the recipient for delivery, the sender for
		// any other open tabs or devices.
		s.notifier.MessageCreated(recipientID, &message)
		s.notifier.MessageCreated(senderID, &message)
	}

	return &message, nil
}

// List returns the conversation's messages in authoritative order,
// (created_at, id) ascending.
func (s *MessageStore) List(conversationID, requestingUserID uint) ([]models.Message, error) {
	if _, err := s.conversations.Get(conversationID, requestingUserID); err != nil {
		return nil, err
	}

	var messages []models.Message
	err := s.db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to list messages", err)
	}
	return messages, nil
}

// MarkRead stamps every unread message addressed to the user in this
// conversation. Opening a thread marks all of it read at once; repeating the
// call is a no-op. Returns how many messages were newly marked.
func (s *MessageStore) MarkRead(conversationID, userID uint) (int64, error) {
	if _, err := s.conversations.Get(conversationID, userID); err != nil {
		return 0, err
	}

	result := s.db.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, userID).
		Update("read_at", time.Now())
	if result.Error != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "Failed to mark messages read", result.Error)
	}

	if result.RowsAffected > 0 {
		s.tracker.Invalidate(context.Background(), userID)
	}
	return result.RowsAffected, nil
}

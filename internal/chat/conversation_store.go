package chat

import (
	"errors"

	"scoutlink/backend/internal/models"
	"scoutlink/backend/pkg/apperr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationSummary is one row of a user's conversation list: the thread,
// the other participant, the latest message and this thread's unread share.
type ConversationSummary struct {
	Conversation  models.Conversation
	OtherUser     models.User
	LatestMessage *models.Message
	UnreadCount   int64
}

// ConversationStore owns conversation records and the one-row-per-pair
// invariant.
type ConversationStore struct {
	db *gorm.DB
}

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// CreateOrGet returns the conversation between the two users, creating it if
// it does not exist yet. The pair is canonicalized first, so CreateOrGet(a, b)
// and CreateOrGet(b, a) return the same row; concurrent racing creates
// converge on the unique (low, high) index.
func (s *ConversationStore) CreateOrGet(userA, userB uint) (*models.Conversation, bool, error) {
	if userA == userB {
		return nil, false, apperr.InvalidArg("Cannot start a conversation with yourself")
	}

	var other models.User
	if err := s.db.First(&other, userB).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperr.NotFound("User not found")
		}
		return nil, false, apperr.Wrap(apperr.CodeInternal, "Failed to look up user", err)
	}

	low, high := models.CanonicalPair(userA, userB)

	conv := models.Conversation{ParticipantLowID: low, ParticipantHighID: high}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_low_id"}, {Name: "participant_high_id"}},
		DoNothing: true,
	}).Create(&conv)
	if result.Error != nil {
		return nil, false, apperr.Wrap(apperr.CodeInternal, "Failed to create conversation", result.Error)
	}
	created := result.RowsAffected > 0

	// Refetch so the caller always sees the winning row, whether this call
	// created it or lost the race.
	var existing models.Conversation
	err := s.db.
		Where("participant_low_id = ? AND participant_high_id = ?", low, high).
		First(&existing).Error
	if err != nil {
		return nil, false, apperr.Wrap(apperr.CodeInternal, "Failed to load conversation", err)
	}

	return &existing, created, nil
}

// Get loads a conversation and verifies the requesting user is a participant.
func (s *ConversationStore) Get(conversationID, requestingUserID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.First(&conv, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Conversation not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to load conversation", err)
	}
	if !conv.HasParticipant(requestingUserID) {
		return nil, apperr.Forbidden("Not a participant of this conversation")
	}
	return &conv, nil
}

// ListForUser returns the user's conversations ordered by most recent
// activity, each annotated with the other participant, the latest message
// and the conversation's unread contribution.
func (s *ConversationStore) ListForUser(userID uint) ([]ConversationSummary, error) {
	var conversations []models.Conversation
	err := s.db.
		Preload("ParticipantLow").
		Preload("ParticipantHigh").
		Where("participant_low_id = ? OR participant_high_id = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "Failed to list conversations", err)
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		other := conv.ParticipantLow
		if conv.ParticipantLowID == userID {
			other = conv.ParticipantHigh
		}

		var latest models.Message
		var latestPtr *models.Message
		err := s.db.
			Where("conversation_id = ?", conv.ID).
			Order("created_at DESC, id DESC").
			First(&latest).Error
		if err == nil {
			latestPtr = &latest
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.CodeInternal, "Failed to load latest message", err)
		}

		var unread int64
		err = s.db.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conv.ID, userID).
			Count(&unread).Error
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "Failed to count unread messages", err)
		}

		summaries = append(summaries, ConversationSummary{
			Conversation:  conv,
			OtherUser:     other,
			LatestMessage: latestPtr,
			UnreadCount:   unread,
		})
	}

	return summaries, nil
}

// Delete removes a conversation and all of its messages. Only a participant
// may delete; deletion removes the thread for both sides. A second delete of
// the same conversation reports NotFound.
func (s *ConversationStore) Delete(conversationID, requestingUserID uint) error {
	conv, err := s.Get(conversationID, requestingUserID)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("conversation_id = ?", conv.ID).
			Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Conversation{}, conv.ID).Error
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "Failed to delete conversation", err)
	}
	return nil
}

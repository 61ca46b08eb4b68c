package chat

import (
	"context"
	"time"

	"scoutlink/backend/internal/models"
	"scoutlink/backend/pkg/apperr"

	"gorm.io/gorm"
)

// UnreadTracker derives per-user unread counts from the message log. The
// count is always a pure function of message state; the injected cache only
// bounds how often the query runs, never what the answer is.
type UnreadTracker struct {
	db    *gorm.DB
	cache CountCache
	ttl   time.Duration
}

func NewUnreadTracker(db *gorm.DB, cache CountCache, ttl time.Duration) *UnreadTracker {
	return &UnreadTracker{db: db, cache: cache, ttl: ttl}
}

// Count returns the number of unread messages addressed to the user across
// all of their conversations, serving from cache within the TTL window.
func (t *UnreadTracker) Count(ctx context.Context, userID uint) (int64, error) {
	if count, ok := t.cache.Get(ctx, userID); ok {
		return count, nil
	}

	count, err := t.compute(userID)
	if err != nil {
		return 0, err
	}

	t.cache.Set(ctx, userID, count, t.ttl)
	return count, nil
}

func (t *UnreadTracker) compute(userID uint) (int64, error) {
	var count int64
	err := t.db.Model(&models.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.participant_low_id = ? OR conversations.participant_high_id = ?", userID, userID).
		Where("messages.sender_id <> ? AND messages.read_at IS NULL", userID).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "Failed to compute unread count", err)
	}
	return count, nil
}

// Invalidate drops the cached count so the next Count recomputes. Called when
// a message lands for the user and when the user marks a conversation read.
func (t *UnreadTracker) Invalidate(ctx context.Context, userID uint) {
	t.cache.Delete(ctx, userID)
}

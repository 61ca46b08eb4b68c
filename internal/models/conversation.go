package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation represents a persistent thread between exactly two users.
// The participant pair is canonicalized (low id first) so that there is a
// single row per unordered pair, enforced by the composite unique index.
type Conversation struct {
	gorm.Model
	ParticipantLowID  uint `gorm:"not null;uniqueIndex:idx_conversation_pair"`
	ParticipantHighID uint `gorm:"not null;uniqueIndex:idx_conversation_pair"`

	LastMessageAt *time.Time `gorm:"index"`

	ParticipantLow  User `gorm:"foreignKey:ParticipantLowID"`
	ParticipantHigh User `gorm:"foreignKey:ParticipantHighID"`
}

// CanonicalPair orders two user IDs into the (low, high) form used for
// conversation lookup and creation.
func CanonicalPair(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}

// HasParticipant reports whether the given user is one of the two parties.
func (conv *Conversation) HasParticipant(userID uint) bool {
	return conv.ParticipantLowID == userID || conv.ParticipantHighID == userID
}

// OtherParticipantID returns the counterpart of the given user in this
// conversation. The caller must already have verified membership.
func (conv *Conversation) OtherParticipantID(userID uint) uint {
	if conv.ParticipantLowID == userID {
		return conv.ParticipantHighID
	}
	return conv.ParticipantLowID
}

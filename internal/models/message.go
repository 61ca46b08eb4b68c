package models

import (
	"time"

	"gorm.io/gorm"
)

// Message represents a single immutable entry in a conversation's log.
// Messages are never edited once persisted; ReadAt moves from nil to a
// timestamp exactly once, set by the recipient.
type Message struct {
	gorm.Model
	ConversationID uint   `gorm:"not null;index"`
	SenderID       uint   `gorm:"not null;index"`
	Content        string `gorm:"type:text;not null"`

	// ClientKey is a client-generated idempotency key, echoed back verbatim
	// so optimistic senders can match this record to their staged entry.
	ClientKey string `gorm:"size:64;index"`

	ReadAt *time.Time `gorm:"index"`

	Conversation Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE;"`
	Sender       User         `gorm:"foreignKey:SenderID"`
}

package realtime

import (
	"time"

	"scoutlink/backend/internal/hub"
	"scoutlink/backend/internal/metrics"
	"scoutlink/backend/internal/models"
)

// MessagePayload is the wire shape of a message carried inside a
// message_created event. It mirrors the REST representation so clients can
// reconcile pushed messages against fetched ones.
type MessagePayload struct {
	ID             uint       `json:"id"`
	ConversationID uint       `json:"conversation_id"`
	SenderID       uint       `json:"sender_id"`
	Content        string     `json:"content"`
	ClientKey      string     `json:"client_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// NewMessagePayload converts a persisted message into its event form.
func NewMessagePayload(message *models.Message) MessagePayload {
	return MessagePayload{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Content:        message.Content,
		ClientKey:      message.ClientKey,
		CreatedAt:      message.CreatedAt,
		ReadAt:         message.ReadAt,
	}
}

// LocalDispatcher pushes message events straight into the in-process hub.
// It is the Notifier used when no message broker is configured.
type LocalDispatcher struct {
	hub *hub.Hub
}

func NewLocalDispatcher(h *hub.Hub) *LocalDispatcher {
	return &LocalDispatcher{hub: h}
}

func (d *LocalDispatcher) MessageCreated(userID uint, message *models.Message) {
	metrics.RecordRealtimeEvent("local")
	d.hub.Publish(userID, hub.Event{
		Type:    hub.EventMessageCreated,
		Payload: NewMessagePayload(message),
	})
}

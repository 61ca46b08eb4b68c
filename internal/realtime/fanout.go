package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"scoutlink/backend/internal/hub"
	"scoutlink/backend/internal/metrics"
	"scoutlink/backend/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

const messageExchange = "chat_message_events"

// brokerEvent is the envelope published to the broker: the target user plus
// the message payload. Routing key is user.<id>, so the topic stays scoped
// per participant.
type brokerEvent struct {
	UserID  uint           `json:"user_id"`
	Message MessagePayload `json:"message"`
}

// AmqpFanout relays message events through RabbitMQ so that every server
// instance can deliver to the websocket connections it holds. Each instance
// publishes to a shared topic exchange and consumes from its own queue; local
// delivery therefore also flows through the broker, keeping one code path.
type AmqpFanout struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	hub     *hub.Hub
}

// NewAmqpFanout connects to the broker, declares the exchange and starts the
// consumer feeding the local hub. The returned fanout implements chat.Notifier.
func NewAmqpFanout(ctx context.Context, url string, h *hub.Hub, queueName string) (*AmqpFanout, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		messageExchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	f := &AmqpFanout{conn: conn, channel: channel, hub: h}
	if err := f.startConsumer(ctx, queueName); err != nil {
		conn.Close()
		return nil, err
	}
	return f, nil
}

// MessageCreated publishes the event to the broker. Delivery to connected
// sockets happens in the consumer, on whichever instance holds them.
func (f *AmqpFanout) MessageCreated(userID uint, message *models.Message) {
	event := brokerEvent{UserID: userID, Message: NewMessagePayload(message)}
	body, err := json.Marshal(event)
	if err != nil {
		log.Println("Failed to marshal message event:", err)
		return
	}

	metrics.RecordRealtimeEvent("amqp")
	routingKey := fmt.Sprintf("user.%d", userID)
	err = f.channel.PublishWithContext(context.Background(),
		messageExchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		// Push is best effort: clients recover missed events by refetching.
		log.Println("Failed to publish message event:", err)
	}
}

func (f *AmqpFanout) startConsumer(ctx context.Context, queueName string) error {
	q, err := f.channel.QueueDeclare(
		queueName,
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := f.channel.QueueBind(q.Name, "user.*", messageExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := f.channel.Consume(
		q.Name,
		"",
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event brokerEvent
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					log.Println("Failed to unmarshal message event:", err)
					continue
				}
				f.hub.Publish(event.UserID, hub.Event{
					Type:    hub.EventMessageCreated,
					Payload: event.Message,
				})
			}
		}
	}()
	return nil
}

// Close tears down the broker connection.
func (f *AmqpFanout) Close() error {
	return f.conn.Close()
}

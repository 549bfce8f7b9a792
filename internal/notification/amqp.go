package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the subset of *amqp.Channel used to publish.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notifications as persistent JSON messages to a topic
// exchange. The routing key is "wallet.<kind>".
type AMQPNotifier struct {
	mu       sync.Mutex
	ch       Publisher
	exchange string
	appID    string
}

// NewAMQPNotifier builds a notifier on an open channel.
func NewAMQPNotifier(ch Publisher, exchange, appID string) *AMQPNotifier {
	return &AMQPNotifier{ch: ch, exchange: exchange, appID: appID}
}

// Send publishes message. Channels are not safe for concurrent publishing so
// sends are serialised.
func (n *AMQPNotifier) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.ch.PublishWithContext(ctx, n.exchange, RoutingKey(message.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         message.Kind,
		AppId:        n.appID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// RoutingKey returns the topic routing key for a notification kind.
func RoutingKey(kind string) string {
	return "wallet." + kind
}

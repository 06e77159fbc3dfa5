// internal/notify/amqp.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher forwards notifications to a RabbitMQ topic exchange with the
// routing key "notification.<level>".
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *Publisher) Publish(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		RoutingKey(n.Level),
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			MessageId:   n.ID.String(),
			Timestamp:   n.CreatedAt,
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// RoutingKey is the routing key notifications of a level are published under.
func RoutingKey(level Level) string {
	return "notification." + string(level)
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

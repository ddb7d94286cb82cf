package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventNotice is the hand-off message that tells the worker a webhook has
// been persisted. The durable record lives in the event log; the notice
// carries only enough to find it, so a lost notice costs latency, not data.
type EventNotice struct {
	Handle    string `json:"handle"`
	Topic     string `json:"topic"`
	EventID   string `json:"event_id"`
	ProductID int64  `json:"product_id,omitempty"`
}

type Publisher interface {
	PublishEventLogged(notice EventNotice) error
	Close() error
}

// NoopPublisher is used when no broker is configured; the worker then relies
// entirely on periodic backlog sweeps.
type NoopPublisher struct{}

func (NoopPublisher) PublishEventLogged(EventNotice) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

type RabbitMQ struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	exchangeName string
	queueName    string
	logger       *zap.Logger
}

func NewRabbitMQ(url, exchangeName, queueName string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %v", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %v", err)
	}

	// Declare queue
	q, err := ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %v", err)
	}

	// Bind queue to exchange
	err = ch.QueueBind(
		q.Name,       // queue name
		"",           // routing key
		exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %v", err)
	}

	return &RabbitMQ{
		conn:         conn,
		ch:           ch,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger,
	}, nil
}

func (r *RabbitMQ) PublishEventLogged(notice EventNotice) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %v", err)
	}

	headers := make(amqp.Table)
	headers["handle"] = notice.Handle
	headers["topic"] = notice.Topic

	err = r.ch.PublishWithContext(ctx,
		r.exchangeName,
		"",    // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Headers:      headers,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})

	if err != nil {
		return fmt.Errorf("failed to publish message: %v", err)
	}

	return nil
}

// Consume delivers hand-off notices to handler. Handler errors leave the
// notice unacked for redelivery; the backlog sweep catches anything dropped.
func (r *RabbitMQ) Consume(ctx context.Context, handler func(context.Context, EventNotice) error) error {
	msgs, err := r.ch.Consume(
		r.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel closed")
			}

			var notice EventNotice
			if err := json.Unmarshal(msg.Body, &notice); err != nil {
				r.logger.Error("Failed to unmarshal notice, dropping", zap.Error(err))
				msg.Nack(false, false)
				continue
			}

			if err := handler(ctx, notice); err != nil {
				r.logger.Error("Notice handler failed",
					zap.String("handle", notice.Handle),
					zap.Error(err))
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}
}

func (r *RabbitMQ) Close() error {
	if err := r.ch.Close(); err != nil {
		r.logger.Error("Failed to close channel", zap.Error(err))
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Error("Failed to close connection", zap.Error(err))
	}
	return nil
}

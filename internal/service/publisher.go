// Package service publishes domain events to RabbitMQ.  Publishing is
// best-effort: errors are logged and returned so callers may ignore them
// without interrupting the request.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/time-capsule/internal/model"
	q "github.com/iliyamo/time-capsule/internal/queue"
)

// DefaultDialTimeout bounds connecting to the broker and the AMQP handshake.
// Publishes run inside request handlers.
const DefaultDialTimeout = 3 * time.Second

// Publisher sends capsule.finalized events.  Each publish dials its own
// connection; finalizations are rare enough that no pool is kept.
type Publisher struct {
	URL         string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

func NewPublisher(url string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{URL: url, DialTimeout: DefaultDialTimeout, Logger: logger.With("component", "publisher")}
}

// CapsuleFinalized publishes the event for c as a persistent message.
func (p *Publisher) CapsuleFinalized(ctx context.Context, c model.Capsule) error {
	body, err := json.Marshal(q.NewCapsuleFinalizedEvent(c))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.publish(ctx, q.CapsuleFinalizedQueue, body); err != nil {
		p.Logger.Warn("publish failed", "queue", q.CapsuleFinalizedQueue, "capsule_id", c.ID, "error", err)
		return err
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, queue string, body []byte) error {
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	conn, err := amqp.DialConfig(p.URL, amqp.Config{
		Dial:      amqp.DefaultDial(timeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

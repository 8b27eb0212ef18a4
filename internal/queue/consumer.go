package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer listens on the capsule.finalized queue and appends one line per
// event to <LogDir>/capsule.log.
type Consumer struct {
	URL    string
	LogDir string // defaults to "logs"
	Logger *slog.Logger
}

// Run keeps a consumer connected until ctx is done, reconnecting with
// exponential backoff capped at 30s.  It returns ctx.Err().
func (cs *Consumer) Run(ctx context.Context) error {
	logger := cs.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "capsule-consumer")

	backoff := time.Second
	for {
		conn, err := amqp.Dial(cs.URL)
		if err != nil {
			logger.Warn("failed to dial broker", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = cs.consumeLoop(ctx, conn, logger)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (cs *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection, logger *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.Warn("set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(CapsuleFinalizedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, CapsuleFinalizedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := cs.HandleMessage(d.Body); err != nil {
			logger.Warn("handle message failed", "error", err)
			_ = d.Nack(false, false) // do not requeue malformed events
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// HandleMessage decodes one event and appends it to the capsule log.
func (cs *Consumer) HandleMessage(body []byte) error {
	var ev CapsuleFinalizedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.CapsuleID == "" {
		return errors.New("event without capsule_id")
	}
	dir := cs.LogDir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "capsule.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as a single log line.
func FormatLine(ev CapsuleFinalizedEvent) string {
	ref := ev.PaymentRef
	if ref == "" {
		ref = "-"
	}
	return fmt.Sprintf("[%s] Capsule finalized | capsule_id=%s | source=%s | payment_ref=%s | photos=%d | audio=%t | message=%t | unlock_at=%s\n",
		ev.FinalizedAt, ev.CapsuleID, ev.Source, ref, ev.PhotoCount, ev.HasAudio, ev.HasMessage, ev.UnlockAt)
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/go-storefront-api/internal/events"
)

const idempotencyTTL = 24 * time.Hour

// Consumer is the part of *amqp.Channel the worker needs.
type Consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Notifier delivers one order event to the customer.
type Notifier interface {
	Notify(ctx context.Context, e events.OrderEvent) error
}

// LogNotifier records notifications as structured log lines.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, e events.OrderEvent) error {
	n.log.Info("order notification",
		"event", e.Type,
		"order_id", e.OrderID,
		"user_id", e.UserID,
		"status", e.Status,
		"total_amount", e.TotalAmount.StringFixed(2),
		"payment_id", e.PaymentID,
	)
	return nil
}

// NotificationWorker consumes order events and notifies each one once.
// Redeliveries are dropped by event id; undecodable or failed events are
// dead-lettered.
type NotificationWorker struct {
	consumer    Consumer
	redisClient *redis.Client
	notifier    Notifier
	log         *slog.Logger
}

func NewNotificationWorker(consumer Consumer, redisClient *redis.Client, notifier Notifier, log *slog.Logger) *NotificationWorker {
	return &NotificationWorker{consumer: consumer, redisClient: redisClient, notifier: notifier, log: log}
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (w *NotificationWorker) Run(ctx context.Context) error {
	msgs, err := w.consumer.Consume(events.NotificationQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	w.log.Info("notification worker started", "queue", events.NotificationQueue)
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				w.log.Info("delivery channel closed")
				return nil
			}
			w.processMessage(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func idempotencyKey(e events.OrderEvent) string {
	return "order_event:" + e.ID.String()
}

func (w *NotificationWorker) processMessage(ctx context.Context, msg amqp.Delivery) {
	var e events.OrderEvent
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		w.log.Error("unmarshal order event", "message_id", msg.MessageId, "error", err)
		_ = msg.Nack(false, false)
		return
	}

	log := w.log.With("event_id", e.ID, "event", e.Type, "order_id", e.OrderID)

	key := idempotencyKey(e)
	claimed, err := w.redisClient.SetNX(ctx, key, "1", idempotencyTTL).Result()
	if err != nil {
		log.Error("claim idempotency key", "error", err)
		_ = msg.Nack(false, true)
		return
	}
	if !claimed {
		log.Info("event already handled, skipping")
		_ = msg.Ack(false)
		return
	}

	if err := w.notifier.Notify(ctx, e); err != nil {
		log.Error("notify failed", "error", err)
		if delErr := w.redisClient.Del(ctx, key).Err(); delErr != nil && !errors.Is(delErr, redis.Nil) {
			log.Error("release idempotency key", "error", delErr)
		}
		_ = msg.Nack(false, false)
		return
	}

	_ = msg.Ack(false)
	log.Debug("event handled")
}

// Package worker реализует фоновую доставку событий outbox и чистку
// устаревших уведомлений.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/ndmitriev/storefront-system/internal/model"
	"github.com/ndmitriev/storefront-system/internal/notifier"
)

const (
	pollInterval  = time.Second
	pruneInterval = time.Hour
	batchSize     = 100
	maxAttempts   = 10

	// notificationTTL — срок жизни уведомлений о заказах.
	notificationTTL = 48 * time.Hour
)

// Store описывает доступ к очереди outbox и уведомлениям.
type Store interface {
	GetPendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	DeleteEvent(ctx context.Context, id int64) error
	UpdateEventRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time) error
	DeleteExpiredNotifications(ctx context.Context, ttl time.Duration) (int64, error)
}

// Broadcaster рассылает события подписчикам веб-сокетов.
type Broadcaster interface {
	Broadcast(topic, event string, data any) error
}

// Publisher публикует события во внешний брокер сообщений.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Mailer отправляет письма об оплаченных заказах.
type Mailer interface {
	SendOrderPaid(ctx context.Context, to string, event model.OrderPaidEvent) error
}

// Worker опрашивает таблицу outbox и доставляет события получателям:
// подписчикам веб-сокетов, брокеру сообщений и почтовому транспорту.
// Доставка идёт по принципу at-least-once: событие удаляется только
// после успешной обработки, иначе откладывается с растущей задержкой.
type Worker struct {
	store  Store
	hub    Broadcaster
	broker Publisher
	mail   Mailer
	logger *zap.Logger
}

// NewWorker создаёт воркер доставки событий. broker и mail могут быть nil,
// соответствующие получатели при этом пропускаются.
func NewWorker(store Store, hub Broadcaster, broker Publisher, mail Mailer, logger *zap.Logger) *Worker {
	return &Worker{
		store:  store,
		hub:    hub,
		broker: broker,
		mail:   mail,
		logger: logger,
	}
}

// Run запускает циклы доставки и чистки. Блокируется до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	pruner := time.NewTicker(pruneInterval)
	defer pruner.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processBatch(ctx)
		case <-pruner.C:
			w.pruneNotifications(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	events, err := w.store.GetPendingEvents(ctx, batchSize)
	if err != nil {
		w.logger.Error("get pending events", zap.Error(err))
		return
	}

	for _, ev := range events {
		if err := w.dispatch(ctx, ev); err != nil {
			w.reschedule(ctx, ev, err)
			continue
		}

		if err := w.store.DeleteEvent(ctx, ev.ID); err != nil {
			w.logger.Error("delete delivered event", zap.Int64("event_id", ev.ID), zap.Error(err))
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, ev model.OutboxEvent) error {
	switch ev.Topic {
	case model.TopicOrderCreated:
		return w.deliverOrderCreated(ctx, ev)
	case model.TopicOrderPaid:
		return w.deliverOrderPaid(ctx, ev)
	default:
		return fmt.Errorf("unknown outbox topic %q", ev.Topic)
	}
}

func (w *Worker) deliverOrderCreated(ctx context.Context, ev model.OutboxEvent) error {
	if err := w.hub.Broadcast(notifier.TopicOrders, notifier.EventOrderCreated, json.RawMessage(ev.Payload)); err != nil {
		return fmt.Errorf("broadcast order created: %w", err)
	}

	return w.publish(ctx, ev)
}

func (w *Worker) deliverOrderPaid(ctx context.Context, ev model.OutboxEvent) error {
	var paid model.OrderPaidEvent
	if err := json.Unmarshal(ev.Payload, &paid); err != nil {
		return fmt.Errorf("decode order paid event: %w", err)
	}

	if w.mail != nil {
		backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := w.mail.SendOrderPaid(ctx, paid.Email, paid); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("send order paid mail: %w", err)
		}
	}

	return w.publish(ctx, ev)
}

func (w *Worker) publish(ctx context.Context, ev model.OutboxEvent) error {
	if w.broker == nil {
		return nil
	}

	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := w.broker.Publish(ctx, ev.Topic, ev.Payload); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Topic, err)
	}

	return nil
}

func (w *Worker) reschedule(ctx context.Context, ev model.OutboxEvent, cause error) {
	attempt := ev.RetryCount + 1

	if attempt >= maxAttempts {
		w.logger.Error("drop undeliverable event",
			zap.Int64("event_id", ev.ID),
			zap.String("topic", ev.Topic),
			zap.Error(cause))
		if err := w.store.DeleteEvent(ctx, ev.ID); err != nil {
			w.logger.Error("delete undeliverable event", zap.Int64("event_id", ev.ID), zap.Error(err))
		}
		return
	}

	w.logger.Warn("reschedule event",
		zap.Int64("event_id", ev.ID),
		zap.String("topic", ev.Topic),
		zap.Int("attempt", attempt),
		zap.Error(cause))

	if err := w.store.UpdateEventRetry(ctx, ev.ID, attempt, time.Now().Add(retryDelay(attempt))); err != nil {
		w.logger.Error("update event retry", zap.Int64("event_id", ev.ID), zap.Error(err))
	}
}

// retryDelay возвращает задержку перед следующей попыткой: экспоненциальный
// рост от секунды с потолком в пять минут.
func retryDelay(attempt int) time.Duration {
	if attempt > 8 {
		attempt = 8
	}
	d := time.Second << attempt
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

func (w *Worker) pruneNotifications(ctx context.Context) {
	deleted, err := w.store.DeleteExpiredNotifications(ctx, notificationTTL)
	if err != nil {
		w.logger.Error("prune notifications", zap.Error(err))
		return
	}
	if deleted > 0 {
		w.logger.Info("pruned expired notifications", zap.Int64("count", deleted))
	}
}

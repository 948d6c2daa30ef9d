package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edurelay/notify-engine/internal/channel"
	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/observability"
	"github.com/edurelay/notify-engine/internal/queue"
	"github.com/edurelay/notify-engine/internal/ratelimit"
	"github.com/edurelay/notify-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// DeliveryWorker consumes the per-channel work queues and runs the delivery
// state machine over claimed queue entries. The broker message only points at
// the database row; the conditional claim on that row is what makes redelivery
// and competing consumers safe.
type DeliveryWorker struct {
	deliveries    repository.DeliveryRepository
	notifications repository.NotificationRepository
	users         directory.UserDirectory
	senders       channel.SenderMap
	consumer      queue.Consumer
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	now           func() time.Time
}

func NewDeliveryWorker(
	deliveries repository.DeliveryRepository,
	notifications repository.NotificationRepository,
	users directory.UserDirectory,
	senders channel.SenderMap,
	consumer queue.Consumer,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if len(senders) == 0 {
		return nil, fmt.Errorf("at least one channel sender is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		deliveries:    deliveries,
		notifications: notifications,
		users:         users,
		senders:       senders,
		consumer:      consumer,
		rateLimiter:   rateLimiter,
		logger:        logger,
		concurrency:   concurrency,
		now:           time.Now,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes every delivery queue until context cancellation.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.DeliveryQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no delivery queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("delivery worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := w.consumer.ConsumeDeliveries(groupCtx, queueName, w.processMessage)
			if err != nil {
				w.logger.Error("delivery worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("delivery worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *DeliveryWorker) processMessage(ctx context.Context, msg queue.DeliveryMessage) error {
	entry, claimed, err := w.deliveries.Claim(ctx, msg.EntryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("delivery entry gone before claim, skipping",
				zap.String("entryId", msg.EntryID),
			)
			return nil
		}
		return fmt.Errorf("failed to claim delivery entry: %w", err)
	}
	// A lost claim means another consumer or a cancel got there first; ack and move on.
	if !claimed {
		return nil
	}

	// Attempts are spent and the final backoff window has elapsed; the entry
	// only comes back here to take its terminal state.
	if entry.Attempts >= entry.MaxAttempts {
		return w.exhaustEntry(ctx, entry)
	}

	channelName := entry.Channel.String()
	if w.metrics != nil {
		w.metrics.IncWorkerInFlight(channelName)
		defer w.metrics.DecWorkerInFlight(channelName)
	}

	notification, err := w.notifications.GetByID(ctx, entry.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return w.failEntry(ctx, entry, "notification no longer exists", "record_missing")
		}
		return fmt.Errorf("failed to load notification: %w", err)
	}

	user, err := w.users.Get(ctx, notification.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return w.failEntry(ctx, entry, fmt.Sprintf("recipient %d not found", notification.RecipientID), "recipient_missing")
		}
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}

	sender, ok := w.senders[entry.Channel]
	if !ok {
		return w.failEntry(ctx, entry, fmt.Sprintf("no sender configured for channel %s", entry.Channel), "no_sender")
	}

	if err := w.rateLimiter.Wait(ctx, channelName); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	sendStart := w.now()
	result, sendErr := sender.Send(ctx, *notification, *user)
	if w.metrics != nil {
		w.metrics.ObserveDeliverySendDuration(channelName, w.now().Sub(sendStart))
	}

	if sendErr == nil {
		return w.completeEntry(ctx, entry, notification, result)
	}

	return w.handleSendFailure(ctx, entry, sendErr)
}

func (w *DeliveryWorker) completeEntry(
	ctx context.Context,
	entry *domain.DeliveryEntry,
	notification *domain.Notification,
	result *channel.Result,
) error {
	providerMessageID := ""
	if result != nil {
		providerMessageID = result.ProviderMessageID
	}

	now := w.now().UTC()
	if err := w.deliveries.MarkSent(ctx, entry.ID, providerMessageID, now); err != nil {
		return fmt.Errorf("failed to mark delivery entry sent: %w", err)
	}
	if err := w.notifications.MarkSent(ctx, notification.ID, now); err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	if w.metrics != nil {
		w.metrics.IncDeliverySent(entry.Channel.String())
	}
	w.logger.Info("delivery sent",
		zap.String("entryId", entry.ID),
		zap.String("notificationId", notification.ID),
		zap.String("channel", entry.Channel.String()),
		zap.Int("attempt", entry.Attempts+1),
	)
	return nil
}

func (w *DeliveryWorker) handleSendFailure(ctx context.Context, entry *domain.DeliveryEntry, sendErr error) error {
	if !channel.IsRetryable(sendErr) {
		return w.failEntry(ctx, entry, sendErr.Error(), "permanent_error")
	}

	// Every retryable failure gets its full backoff window, the last attempt
	// included; the entry is only marked failed when it is claimed again after
	// that window with no attempts left.
	attemptNumber := entry.Attempts + 1
	nextAt := w.now().UTC().Add(domain.BackoffDelay(attemptNumber))
	if err := w.deliveries.Reschedule(ctx, entry.ID, sendErr.Error(), nextAt); err != nil {
		return fmt.Errorf("failed to reschedule delivery entry: %w", err)
	}

	if w.metrics != nil {
		w.metrics.IncRetryScheduled(entry.Channel.String())
	}
	w.logger.Warn("delivery failed, retry scheduled",
		zap.String("entryId", entry.ID),
		zap.String("channel", entry.Channel.String()),
		zap.Int("attempt", attemptNumber),
		zap.Time("nextAttemptAt", nextAt),
		zap.Error(sendErr),
	)
	return nil
}

func (w *DeliveryWorker) exhaustEntry(ctx context.Context, entry *domain.DeliveryEntry) error {
	if err := w.deliveries.MarkExhausted(ctx, entry.ID, w.now().UTC()); err != nil {
		return fmt.Errorf("failed to mark delivery entry exhausted: %w", err)
	}

	lastError := ""
	if entry.ErrorMessage != nil {
		lastError = *entry.ErrorMessage
	}
	if w.metrics != nil {
		w.metrics.IncDeliveryFailed(entry.Channel.String(), "retry_exhausted")
	}
	w.logger.Error("delivery failed permanently",
		zap.String("entryId", entry.ID),
		zap.String("notificationId", entry.NotificationID),
		zap.String("channel", entry.Channel.String()),
		zap.String("reason", "retry_exhausted"),
		zap.String("error", lastError),
	)
	return nil
}

func (w *DeliveryWorker) failEntry(ctx context.Context, entry *domain.DeliveryEntry, message, reason string) error {
	if err := w.deliveries.MarkFailed(ctx, entry.ID, message, w.now().UTC()); err != nil {
		return fmt.Errorf("failed to mark delivery entry failed: %w", err)
	}

	if w.metrics != nil {
		w.metrics.IncDeliveryFailed(entry.Channel.String(), reason)
	}
	w.logger.Error("delivery failed permanently",
		zap.String("entryId", entry.ID),
		zap.String("notificationId", entry.NotificationID),
		zap.String("channel", entry.Channel.String()),
		zap.String("reason", reason),
		zap.String("error", message),
	)
	return nil
}

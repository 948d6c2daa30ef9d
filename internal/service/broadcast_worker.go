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
)

const (
	// DefaultBroadcastBatchSize is how many recipients one loop iteration
	// takes. Cancellation is only observed between batches.
	DefaultBroadcastBatchSize = 500

	broadcastRateKey = "broadcast"
)

// BroadcastWorker executes campaign runs: it walks the recipient snapshot in
// batches, sends through the bot channel and keeps the campaign counters
// current. The campaign status is re-read at every batch boundary, which is
// what makes Cancel cooperative rather than preemptive.
type BroadcastWorker struct {
	broadcasts  repository.BroadcastRepository
	users       directory.UserDirectory
	sender      channel.Sender
	consumer    queue.Consumer
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	batchSize   int
	now         func() time.Time
}

func NewBroadcastWorker(
	broadcasts repository.BroadcastRepository,
	users directory.UserDirectory,
	sender channel.Sender,
	consumer queue.Consumer,
	rateLimiter ratelimit.RateLimiter,
	batchSize int,
	logger *zap.Logger,
) (*BroadcastWorker, error) {
	if broadcasts == nil {
		return nil, fmt.Errorf("broadcast repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("channel sender is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBroadcastBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BroadcastWorker{
		broadcasts:  broadcasts,
		users:       users,
		sender:      sender,
		consumer:    consumer,
		rateLimiter: rateLimiter,
		logger:      logger,
		batchSize:   batchSize,
		now:         time.Now,
	}, nil
}

func (w *BroadcastWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the broadcast queue until context cancellation.
func (w *BroadcastWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return w.consumer.ConsumeBroadcasts(ctx, w.ProcessCampaign)
}

// ProcessCampaign runs one campaign to its end state. Safe to redeliver: a
// campaign no longer in sending is acked and skipped, and attempted
// recipients are never re-sent.
func (w *BroadcastWorker) ProcessCampaign(ctx context.Context, msg queue.BroadcastMessage) error {
	campaign, err := w.broadcasts.GetByID(ctx, msg.CampaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("campaign gone before run, skipping",
				zap.String("campaignId", msg.CampaignID),
			)
			return nil
		}
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign.Status != domain.CampaignSending {
		w.logger.Info("campaign not in sending state, skipping run",
			zap.String("campaignId", campaign.ID),
			zap.String("status", campaign.Status.String()),
		)
		return nil
	}

	w.logger.Info("campaign run started",
		zap.String("campaignId", campaign.ID),
		zap.Int("recipients", campaign.RecipientCount),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Cancellation checkpoint: anything other than sending stops the run.
		current, err := w.broadcasts.GetByID(ctx, campaign.ID)
		if err != nil {
			return fmt.Errorf("failed to reload campaign: %w", err)
		}
		if current.Status != domain.CampaignSending {
			w.logger.Info("campaign run stopped at batch boundary",
				zap.String("campaignId", campaign.ID),
				zap.String("status", current.Status.String()),
			)
			return nil
		}

		batch, err := w.broadcasts.NextUnattemptedBatch(ctx, campaign.ID, w.batchSize)
		if err != nil {
			return fmt.Errorf("failed to load recipient batch: %w", err)
		}
		if len(batch) == 0 {
			return w.finalize(ctx, campaign.ID)
		}

		sent, failed := w.processBatch(ctx, current, batch)
		if err := w.broadcasts.AddCounters(ctx, campaign.ID, sent, failed); err != nil {
			return fmt.Errorf("failed to update campaign counters: %w", err)
		}

		if w.metrics != nil {
			w.metrics.AddBroadcastSent(sent)
			w.metrics.AddBroadcastFailed(failed)
		}
	}
}

// processBatch sends to each recipient in the batch. Failures are isolated
// per row; one unreachable user never aborts the batch.
func (w *BroadcastWorker) processBatch(
	ctx context.Context,
	campaign *domain.Campaign,
	batch []domain.Recipient,
) (sent int, failed int) {
	message := broadcastNotification(campaign)

	for i := range batch {
		recipient := batch[i]

		if err := ctx.Err(); err != nil {
			return sent, failed
		}

		user, err := w.users.Get(ctx, recipient.UserID)
		if err != nil {
			w.recordFailure(ctx, recipient, fmt.Sprintf("user %d not resolvable: %v", recipient.UserID, err))
			failed++
			continue
		}

		if err := w.rateLimiter.Wait(ctx, broadcastRateKey); err != nil {
			// A limiter failure here is an infra problem, not a recipient
			// result; leave the row unattempted for the next run.
			w.logger.Error("rate limiter wait failed mid-batch",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
			return sent, failed
		}

		result, sendErr := w.sender.Send(ctx, message, *user)
		if sendErr != nil {
			w.recordFailure(ctx, recipient, sendErr.Error())
			failed++
			continue
		}

		providerMessageID := ""
		if result != nil {
			providerMessageID = result.ProviderMessageID
		}
		if err := w.broadcasts.MarkRecipientSent(ctx, recipient.ID, providerMessageID, w.now().UTC()); err != nil {
			w.logger.Error("failed to record recipient success",
				zap.String("recipientId", recipient.ID),
				zap.Error(err),
			)
			// The message is already out; the row must leave the unattempted
			// pool or the next pass would send it again. Record it as failed
			// bookkeeping rather than risk a duplicate send.
			w.recordFailure(ctx, recipient, fmt.Sprintf("sent but not recorded: %v", err))
			failed++
			continue
		}
		sent++
	}

	return sent, failed
}

func (w *BroadcastWorker) recordFailure(ctx context.Context, recipient domain.Recipient, message string) {
	if err := w.broadcasts.MarkRecipientFailed(ctx, recipient.ID, message); err != nil {
		w.logger.Error("failed to record recipient failure",
			zap.String("recipientId", recipient.ID),
			zap.Error(err),
		)
	}
}

// finalize moves the campaign to its end state: failed only when nothing at
// all went out, completed otherwise (partial failure included).
func (w *BroadcastWorker) finalize(ctx context.Context, campaignID string) error {
	campaign, err := w.broadcasts.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to reload campaign for finalize: %w", err)
	}

	endState := domain.CampaignCompleted
	if campaign.SentCount == 0 && campaign.FailedCount > 0 {
		endState = domain.CampaignFailed
	}

	moved, err := w.broadcasts.Transition(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignSending},
		endState,
		map[string]any{"completed_at": w.now().UTC()},
	)
	if err != nil {
		return fmt.Errorf("failed to finalize campaign: %w", err)
	}
	if !moved {
		w.logger.Info("campaign already left sending before finalize",
			zap.String("campaignId", campaignID),
		)
		return nil
	}

	w.logger.Info("campaign run finished",
		zap.String("campaignId", campaignID),
		zap.String("status", endState.String()),
		zap.Int("sent", campaign.SentCount),
		zap.Int("failed", campaign.FailedCount),
	)
	return nil
}

// broadcastNotification shapes the campaign message for the channel adapter.
func broadcastNotification(campaign *domain.Campaign) domain.Notification {
	return domain.Notification{
		ID:       campaign.ID,
		Type:     domain.TypeBroadcast,
		Priority: domain.PriorityNormal,
		Title:    "Announcement",
		Message:  campaign.Message,
	}
}

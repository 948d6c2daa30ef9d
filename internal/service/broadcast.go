package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/queue"
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultCampaignSweepInterval = 15 * time.Second
	defaultCampaignSweepLimit    = 20
	errorSummaryLimit            = 5
)

// BroadcastInput describes one campaign to create.
type BroadcastInput struct {
	CreatedBy       int64
	TargetGroup     domain.TargetGroup
	TargetFilter    domain.TargetFilter
	Message         string
	ScheduledAt     *time.Time
	SendImmediately bool
}

// ProgressReport is a point-in-time view of a campaign run, cheap enough to
// poll: counters live on the campaign row, not on a recipient scan.
type ProgressReport struct {
	Campaign    domain.Campaign
	ProgressPct int
	Pending     int
	TopErrors   []repository.ErrorCount
}

// BroadcastService manages campaign lifecycle: create with a recipient
// snapshot, hand off to the worker, cancel, retry the failed subset, report
// progress.
type BroadcastService struct {
	broadcasts repository.BroadcastRepository
	resolver   directory.RecipientResolver
	publisher  queue.Publisher
	logger     *zap.Logger
	interval   time.Duration
	limit      int
	now        func() time.Time
}

func NewBroadcastService(
	broadcasts repository.BroadcastRepository,
	resolver directory.RecipientResolver,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*BroadcastService, error) {
	if broadcasts == nil {
		return nil, fmt.Errorf("broadcast repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("recipient resolver is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BroadcastService{
		broadcasts: broadcasts,
		resolver:   resolver,
		publisher:  publisher,
		logger:     logger,
		interval:   defaultCampaignSweepInterval,
		limit:      defaultCampaignSweepLimit,
		now:        time.Now,
	}, nil
}

// Create resolves the target group to a recipient snapshot and persists the
// campaign with it atomically. The snapshot is frozen here: users joining the
// group later are not included.
func (s *BroadcastService) Create(ctx context.Context, input BroadcastInput) (*domain.Campaign, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	status := domain.CampaignDraft
	var scheduledAt *time.Time
	if input.ScheduledAt != nil {
		if input.SendImmediately {
			return nil, fmt.Errorf("%w: a campaign cannot be both scheduled and sent immediately", domain.ErrValidation)
		}
		at := input.ScheduledAt.UTC()
		if !at.After(now) {
			return nil, fmt.Errorf("%w: scheduled time must be in the future", domain.ErrValidation)
		}
		scheduledAt = &at
		status = domain.CampaignScheduled
	}

	campaign := &domain.Campaign{
		ID:           uuid.NewString(),
		CreatedBy:    input.CreatedBy,
		TargetGroup:  input.TargetGroup,
		TargetFilter: input.TargetFilter,
		Message:      strings.TrimSpace(input.Message),
		Status:       status,
		ScheduledAt:  scheduledAt,
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	userIDs, err := s.resolver.Resolve(ctx, campaign.TargetGroup, campaign.TargetFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve campaign recipients: %w", err)
	}
	if len(userIDs) == 0 {
		return nil, domain.ErrNoRecipients
	}

	recipients := make([]*domain.Recipient, 0, len(userIDs))
	for _, userID := range userIDs {
		recipients = append(recipients, &domain.Recipient{
			ID:         uuid.NewString(),
			CampaignID: campaign.ID,
			UserID:     userID,
		})
	}
	campaign.RecipientCount = len(recipients)

	if err := s.broadcasts.CreateWithRecipients(ctx, campaign, recipients); err != nil {
		return nil, fmt.Errorf("failed to persist campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaignId", campaign.ID),
		zap.String("targetGroup", campaign.TargetGroup.String()),
		zap.Int("recipients", campaign.RecipientCount),
		zap.String("status", campaign.Status.String()),
	)

	if input.SendImmediately {
		if err := s.Send(ctx, campaign.ID); err != nil {
			return nil, err
		}
		campaign.Status = domain.CampaignSending
		startedAt := s.now().UTC()
		campaign.SentAt = &startedAt
	}
	return campaign, nil
}

// Send starts a draft or scheduled campaign now. ErrConflict when the
// campaign already ran, is running, or was cancelled.
func (s *BroadcastService) Send(ctx context.Context, id string) error {
	campaign, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	started, err := s.broadcasts.Transition(ctx, campaign.ID,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled},
		domain.CampaignSending,
		map[string]any{"sent_at": now},
	)
	if err != nil {
		return fmt.Errorf("failed to start campaign: %w", err)
	}
	if !started {
		return fmt.Errorf("%w: campaign %s cannot be sent from its current state", domain.ErrConflict, campaign.ID)
	}

	return s.publishRun(ctx, campaign.ID)
}

// Cancel stops a campaign. A sending campaign stops at its next batch
// boundary; rows already sent stay sent.
func (s *BroadcastService) Cancel(ctx context.Context, id string) error {
	campaign, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	cancelled, err := s.broadcasts.Transition(ctx, campaign.ID,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignSending},
		domain.CampaignCancelled,
		map[string]any{"completed_at": s.now().UTC()},
	)
	if err != nil {
		return fmt.Errorf("failed to cancel campaign: %w", err)
	}
	if !cancelled {
		return fmt.Errorf("%w: campaign %s is already finished", domain.ErrConflict, campaign.ID)
	}

	s.logger.Info("campaign cancelled", zap.String("campaignId", campaign.ID))
	return nil
}

// Retry re-runs exactly the failed subset of a finished campaign.
func (s *BroadcastService) Retry(ctx context.Context, id string) error {
	campaign, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status != domain.CampaignCompleted && campaign.Status != domain.CampaignFailed {
		return fmt.Errorf("%w: campaign %s is not finished", domain.ErrConflict, campaign.ID)
	}

	reset, err := s.broadcasts.ResetFailed(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to reset failed recipients: %w", err)
	}
	if reset == 0 {
		return fmt.Errorf("%w: campaign %s has no failed recipients to retry", domain.ErrConflict, campaign.ID)
	}

	restarted, err := s.broadcasts.Transition(ctx, campaign.ID,
		[]domain.CampaignStatus{domain.CampaignCompleted, domain.CampaignFailed},
		domain.CampaignSending,
		map[string]any{"completed_at": nil},
	)
	if err != nil {
		return fmt.Errorf("failed to restart campaign: %w", err)
	}
	if !restarted {
		return fmt.Errorf("%w: campaign %s changed state during retry", domain.ErrConflict, campaign.ID)
	}

	s.logger.Info("campaign retry started",
		zap.String("campaignId", campaign.ID),
		zap.Int64("recipients", reset),
	)
	return s.publishRun(ctx, campaign.ID)
}

// Progress reads the counters off the campaign row plus a small error
// summary; it never scans the recipient table for counts.
func (s *BroadcastService) Progress(ctx context.Context, id string) (*ProgressReport, error) {
	campaign, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	topErrors, err := s.broadcasts.ErrorSummary(ctx, campaign.ID, errorSummaryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load error summary: %w", err)
	}

	return &ProgressReport{
		Campaign:    *campaign,
		ProgressPct: campaign.ProgressPct(),
		Pending:     campaign.PendingCount(),
		TopErrors:   topErrors,
	}, nil
}

func (s *BroadcastService) List(ctx context.Context, page, pageSize int) ([]domain.Campaign, int64, error) {
	return s.broadcasts.List(ctx, page, pageSize)
}

func (s *BroadcastService) ListRecipients(ctx context.Context, id string, page, pageSize int) (*repository.RecipientPage, error) {
	campaign, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.broadcasts.ListRecipients(ctx, campaign.ID, page, pageSize)
}

// Start sweeps due scheduled campaigns into their run until context
// cancellation.
func (s *BroadcastService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.sweepDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("campaign sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweepDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("campaign sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *BroadcastService) sweepDue(ctx context.Context) error {
	due, err := s.broadcasts.GetDueScheduled(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due campaigns: %w", err)
	}

	for i := range due {
		campaign := due[i]

		started, err := s.broadcasts.Transition(ctx, campaign.ID,
			[]domain.CampaignStatus{domain.CampaignScheduled},
			domain.CampaignSending,
			map[string]any{"sent_at": s.now().UTC()},
		)
		if err != nil {
			s.logger.Error("failed to start due campaign",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
			continue
		}
		if !started {
			continue
		}

		if err := s.publishRun(ctx, campaign.ID); err != nil {
			s.logger.Error("failed to publish due campaign",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// publishRun hands the campaign to the broadcast worker. On a publish failure
// the campaign moves to failed so the operator sees it rather than a silent
// stall; retry restarts it once the broker is back.
func (s *BroadcastService) publishRun(ctx context.Context, campaignID string) error {
	err := s.publisher.PublishBroadcast(ctx, queue.BroadcastMessage{CampaignID: campaignID})
	if err == nil {
		return nil
	}

	s.logger.Error("failed to publish campaign run",
		zap.String("campaignId", campaignID),
		zap.Error(err),
	)
	if _, transitionErr := s.broadcasts.Transition(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignSending},
		domain.CampaignFailed,
		map[string]any{"completed_at": s.now().UTC()},
	); transitionErr != nil {
		s.logger.Error("failed to mark campaign failed after publish error",
			zap.String("campaignId", campaignID),
			zap.Error(transitionErr),
		)
	}
	return fmt.Errorf("failed to publish campaign run: %w", err)
}

func (s *BroadcastService) get(ctx context.Context, id string) (*domain.Campaign, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	return s.broadcasts.GetByID(ctx, trimmed)
}

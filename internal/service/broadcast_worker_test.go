package service

import (
	"context"
	"testing"
	"time"

	"github.com/edurelay/notify-engine/internal/channel"
	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/queue"
)

func newTestBroadcastWorker(t *testing.T, broadcasts *fakeBroadcastRepo, sender *fakeSender) *BroadcastWorker {
	t.Helper()

	if sender == nil {
		sender = &fakeSender{channelValue: domain.ChannelPush}
	}

	worker, err := NewBroadcastWorker(broadcasts, &fakeUserDirectory{}, sender, &fakeConsumer{}, &fakeRateLimiter{}, 2, nil)
	if err != nil {
		t.Fatalf("NewBroadcastWorker() error = %v", err)
	}
	worker.now = func() time.Time { return broadcastNow }
	return worker
}

// campaignState drives a fake repo through a whole run: batches shrink as
// recipients get results and counters accumulate.
type campaignState struct {
	campaign   domain.Campaign
	unsent     []domain.Recipient
	sentIDs    []string
	failedIDs  map[string]string
	finalState domain.CampaignStatus
}

func newCampaignState(recipients int) *campaignState {
	state := &campaignState{
		campaign: domain.Campaign{
			ID:             "c1",
			CreatedBy:      7,
			TargetGroup:    domain.TargetAllStudents,
			Message:        "Exam moved to Friday.",
			Status:         domain.CampaignSending,
			RecipientCount: recipients,
		},
		failedIDs: map[string]string{},
	}
	for i := 0; i < recipients; i++ {
		state.unsent = append(state.unsent, domain.Recipient{
			ID:         string(rune('a' + i)),
			CampaignID: "c1",
			UserID:     int64(100 + i),
		})
	}
	return state
}

func (s *campaignState) repo() *fakeBroadcastRepo {
	return &fakeBroadcastRepo{
		getByIDFn: func(context.Context, string) (*domain.Campaign, error) {
			c := s.campaign
			return &c, nil
		},
		nextUnattemptedBatchFn: func(_ context.Context, _ string, limit int) ([]domain.Recipient, error) {
			if len(s.unsent) <= limit {
				return append([]domain.Recipient(nil), s.unsent...), nil
			}
			return append([]domain.Recipient(nil), s.unsent[:limit]...), nil
		},
		markRecipientSentFn: func(_ context.Context, id string, _ string, _ time.Time) error {
			s.sentIDs = append(s.sentIDs, id)
			s.removeUnsent(id)
			return nil
		},
		markRecipientFailedFn: func(_ context.Context, id string, channelError string) error {
			s.failedIDs[id] = channelError
			s.removeUnsent(id)
			return nil
		},
		addCountersFn: func(_ context.Context, _ string, sentDelta, failedDelta int) error {
			s.campaign.SentCount += sentDelta
			s.campaign.FailedCount += failedDelta
			return nil
		},
		transitionFn: func(_ context.Context, _ string, _ []domain.CampaignStatus, to domain.CampaignStatus, _ map[string]any) (bool, error) {
			if s.campaign.Status != domain.CampaignSending {
				return false, nil
			}
			s.campaign.Status = to
			s.finalState = to
			return true, nil
		},
	}
}

func (s *campaignState) removeUnsent(id string) {
	for i := range s.unsent {
		if s.unsent[i].ID == id {
			s.unsent = append(s.unsent[:i], s.unsent[i+1:]...)
			return
		}
	}
}

func TestBroadcastWorkerRunWithPartialFailure(t *testing.T) {
	t.Parallel()

	state := newCampaignState(3)

	// The second user's bot chat is dead; everyone else succeeds.
	sender := &fakeSender{
		channelValue: domain.ChannelPush,
		sendFn: func(_ context.Context, _ domain.Notification, user directory.User) (*channel.Result, error) {
			if user.ID == 101 {
				return nil, &channel.Error{Kind: "unreachable_chat", Retryable: false}
			}
			return &channel.Result{ProviderMessageID: "bot-1"}, nil
		},
	}

	worker := newTestBroadcastWorker(t, state.repo(), sender)

	err := worker.ProcessCampaign(context.Background(), queue.BroadcastMessage{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("ProcessCampaign() error = %v", err)
	}

	if len(state.sentIDs) != 2 {
		t.Fatalf("sent %d recipients, want 2", len(state.sentIDs))
	}
	if len(state.failedIDs) != 1 {
		t.Fatalf("failed %d recipients, want 1", len(state.failedIDs))
	}
	if state.campaign.SentCount != 2 || state.campaign.FailedCount != 1 {
		t.Fatalf("counters = %d/%d, want 2/1", state.campaign.SentCount, state.campaign.FailedCount)
	}
	// Partial failure still completes; only a total failure marks the run failed.
	if state.finalState != domain.CampaignCompleted {
		t.Fatalf("final state = %s, want completed", state.finalState)
	}
	if got := state.campaign.ProgressPct(); got != 67 {
		t.Fatalf("progress = %d, want 67", got)
	}
}

func TestBroadcastWorkerTotalFailureMarksFailed(t *testing.T) {
	t.Parallel()

	state := newCampaignState(2)
	sender := &fakeSender{
		channelValue: domain.ChannelPush,
		sendFn: func(context.Context, domain.Notification, directory.User) (*channel.Result, error) {
			return nil, &channel.Error{Kind: "unreachable_chat", Retryable: false}
		},
	}

	worker := newTestBroadcastWorker(t, state.repo(), sender)

	err := worker.ProcessCampaign(context.Background(), queue.BroadcastMessage{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("ProcessCampaign() error = %v", err)
	}
	if state.finalState != domain.CampaignFailed {
		t.Fatalf("final state = %s, want failed", state.finalState)
	}
	if state.campaign.SentCount != 0 || state.campaign.FailedCount != 2 {
		t.Fatalf("counters = %d/%d, want 0/2", state.campaign.SentCount, state.campaign.FailedCount)
	}
}

func TestBroadcastWorkerStopsAtBatchBoundaryOnCancel(t *testing.T) {
	t.Parallel()

	state := newCampaignState(5)
	repo := state.repo()

	// Cancel lands after the first batch of 2 has gone out.
	sendsSeen := 0
	sender := &fakeSender{
		channelValue: domain.ChannelPush,
		sendFn: func(context.Context, domain.Notification, directory.User) (*channel.Result, error) {
			sendsSeen++
			if sendsSeen == 2 {
				state.campaign.Status = domain.CampaignCancelled
			}
			return &channel.Result{}, nil
		},
	}

	worker := newTestBroadcastWorker(t, repo, sender)

	err := worker.ProcessCampaign(context.Background(), queue.BroadcastMessage{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("ProcessCampaign() error = %v", err)
	}

	if sendsSeen != 2 {
		t.Fatalf("sends = %d, want 2 (run must stop at the next boundary)", sendsSeen)
	}
	if len(state.unsent) != 3 {
		t.Fatalf("unsent = %d, want 3 untouched recipients", len(state.unsent))
	}
	if state.finalState == domain.CampaignCompleted {
		t.Fatal("cancelled run must not be finalized as completed")
	}
}

func TestBroadcastWorkerSentButUnrecordedRowLeavesPool(t *testing.T) {
	t.Parallel()

	state := newCampaignState(2)
	repo := state.repo()

	// Recording the first recipient's success hits a transient DB error after
	// the message is already out.
	recordSent := repo.markRecipientSentFn
	repo.markRecipientSentFn = func(ctx context.Context, id string, providerMessageID string, now time.Time) error {
		if id == "a" {
			return context.DeadlineExceeded
		}
		return recordSent(ctx, id, providerMessageID, now)
	}

	sendsPerUser := map[int64]int{}
	sender := &fakeSender{
		channelValue: domain.ChannelPush,
		sendFn: func(_ context.Context, _ domain.Notification, user directory.User) (*channel.Result, error) {
			sendsPerUser[user.ID]++
			return &channel.Result{ProviderMessageID: "bot-1"}, nil
		},
	}

	worker := newTestBroadcastWorker(t, repo, sender)

	err := worker.ProcessCampaign(context.Background(), queue.BroadcastMessage{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("ProcessCampaign() error = %v", err)
	}

	// The row must not stay unattempted, or the next batch would send again.
	for userID, sends := range sendsPerUser {
		if sends != 1 {
			t.Fatalf("user %d got %d sends, want exactly 1", userID, sends)
		}
	}
	if len(state.unsent) != 0 {
		t.Fatalf("unsent = %d, want 0", len(state.unsent))
	}
	if _, ok := state.failedIDs["a"]; !ok {
		t.Fatal("unrecorded send should be marked failed to leave the pool")
	}
	if state.campaign.SentCount != 1 || state.campaign.FailedCount != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", state.campaign.SentCount, state.campaign.FailedCount)
	}
	if state.finalState != domain.CampaignCompleted {
		t.Fatalf("final state = %s, want completed", state.finalState)
	}
}

func TestBroadcastWorkerSkipsNonSendingCampaign(t *testing.T) {
	t.Parallel()

	state := newCampaignState(2)
	state.campaign.Status = domain.CampaignCancelled

	batchCalled := false
	repo := state.repo()
	repo.nextUnattemptedBatchFn = func(context.Context, string, int) ([]domain.Recipient, error) {
		batchCalled = true
		return nil, nil
	}

	worker := newTestBroadcastWorker(t, repo, nil)

	err := worker.ProcessCampaign(context.Background(), queue.BroadcastMessage{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("ProcessCampaign() error = %v", err)
	}
	if batchCalled {
		t.Fatal("a campaign outside sending must be acked without work")
	}
}

func TestBroadcastWorkerUnresolvableUserFailsRow(t *testing.T) {
	t.Parallel()

	state := newCampaignState(1)
	repo := state.repo()

	worker, err := NewBroadcastWorker(
		repo,
		&fakeUserDirectory{
			getFn: func(context.Context, int64) (*directory.User, error) {
				return nil, domain.ErrNotFound
			},
		},
		&fakeSender{channelValue: domain.ChannelPush},
		&fakeConsumer{},
		&fakeRateLimiter{},
		2,
		nil,
	)
	if err != nil {
		t.Fatalf("NewBroadcastWorker() error = %v", err)
	}
	worker.now = func() time.Time { return broadcastNow }

	if err := worker.ProcessCampaign(context.Background(), queue.BroadcastMessage{CampaignID: "c1"}); err != nil {
		t.Fatalf("ProcessCampaign() error = %v", err)
	}
	if len(state.failedIDs) != 1 {
		t.Fatalf("failed rows = %d, want 1", len(state.failedIDs))
	}
	if state.finalState != domain.CampaignFailed {
		t.Fatalf("final state = %s, want failed", state.finalState)
	}
}

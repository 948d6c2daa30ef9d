package service

import (
	"context"
	"time"

	"github.com/edurelay/notify-engine/internal/channel"
	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/queue"
	"github.com/edurelay/notify-engine/internal/repository"
)

type fakeNotificationRepo struct {
	createFn               func(ctx context.Context, n *domain.Notification) error
	createWithDeliveriesFn func(ctx context.Context, n *domain.Notification, entries []*domain.DeliveryEntry) error
	createBatchFn          func(ctx context.Context, notifications []*domain.Notification) error
	getByIDFn              func(ctx context.Context, id string) (*domain.Notification, error)
	listByRecipientFn      func(ctx context.Context, recipientID int64, params repository.ListParams) ([]domain.Notification, int64, error)
	unreadCountFn          func(ctx context.Context, recipientID int64) (int64, error)
	markReadFn             func(ctx context.Context, id string, recipientID int64, now time.Time) (bool, error)
	archiveFn              func(ctx context.Context, id string, recipientID int64, now time.Time) (bool, error)
	deleteFn               func(ctx context.Context, id string, recipientID int64) error
	markSentFn             func(ctx context.Context, id string, now time.Time) error
	getDueScheduledFn      func(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	claimScheduledFn       func(ctx context.Context, id string) (bool, error)
	cancelScheduledFn      func(ctx context.Context, id string) (bool, error)
	rescheduleScheduledFn  func(ctx context.Context, id string, newAt time.Time) (bool, error)
	purgeArchivedBeforeFn  func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) CreateWithDeliveries(ctx context.Context, n *domain.Notification, entries []*domain.DeliveryEntry) error {
	if f.createWithDeliveriesFn != nil {
		return f.createWithDeliveriesFn(ctx, n, entries)
	}
	return nil
}

func (f *fakeNotificationRepo) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, notifications)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) ListByRecipient(ctx context.Context, recipientID int64, params repository.ListParams) ([]domain.Notification, int64, error) {
	if f.listByRecipientFn != nil {
		return f.listByRecipientFn(ctx, recipientID, params)
	}
	return nil, 0, nil
}

func (f *fakeNotificationRepo) UnreadCount(ctx context.Context, recipientID int64) (int64, error) {
	if f.unreadCountFn != nil {
		return f.unreadCountFn(ctx, recipientID)
	}
	return 0, nil
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id string, recipientID int64, now time.Time) (bool, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, id, recipientID, now)
	}
	return true, nil
}

func (f *fakeNotificationRepo) Archive(ctx context.Context, id string, recipientID int64, now time.Time) (bool, error) {
	if f.archiveFn != nil {
		return f.archiveFn(ctx, id, recipientID, now)
	}
	return true, nil
}

func (f *fakeNotificationRepo) Delete(ctx context.Context, id string, recipientID int64) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id, recipientID)
	}
	return nil
}

func (f *fakeNotificationRepo) MarkSent(ctx context.Context, id string, now time.Time) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, now)
	}
	return nil
}

func (f *fakeNotificationRepo) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	if f.getDueScheduledFn != nil {
		return f.getDueScheduledFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) ClaimScheduled(ctx context.Context, id string) (bool, error) {
	if f.claimScheduledFn != nil {
		return f.claimScheduledFn(ctx, id)
	}
	return true, nil
}

func (f *fakeNotificationRepo) CancelScheduled(ctx context.Context, id string) (bool, error) {
	if f.cancelScheduledFn != nil {
		return f.cancelScheduledFn(ctx, id)
	}
	return true, nil
}

func (f *fakeNotificationRepo) RescheduleScheduled(ctx context.Context, id string, newAt time.Time) (bool, error) {
	if f.rescheduleScheduledFn != nil {
		return f.rescheduleScheduledFn(ctx, id, newAt)
	}
	return true, nil
}

func (f *fakeNotificationRepo) PurgeArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.purgeArchivedBeforeFn != nil {
		return f.purgeArchivedBeforeFn(ctx, cutoff)
	}
	return 0, nil
}

type fakeDeliveryRepo struct {
	createBatchFn                 func(ctx context.Context, entries []*domain.DeliveryEntry) error
	getByIDFn                     func(ctx context.Context, id string) (*domain.DeliveryEntry, error)
	claimFn                       func(ctx context.Context, id string) (*domain.DeliveryEntry, bool, error)
	markSentFn                    func(ctx context.Context, id string, providerMessageID string, now time.Time) error
	markFailedFn                  func(ctx context.Context, id string, errorMessage string, now time.Time) error
	markExhaustedFn               func(ctx context.Context, id string, now time.Time) error
	rescheduleFn                  func(ctx context.Context, id string, errorMessage string, nextAt time.Time) error
	cancelPendingByNotificationFn func(ctx context.Context, notificationID string) (int64, error)
	getDueFn                      func(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryEntry, error)
	deferRedeliveryFn             func(ctx context.Context, id string, until time.Time) error
	listByNotificationFn          func(ctx context.Context, notificationID string) ([]domain.DeliveryEntry, error)
}

func (f *fakeDeliveryRepo) CreateBatch(ctx context.Context, entries []*domain.DeliveryEntry) error {
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, entries)
	}
	return nil
}

func (f *fakeDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryEntry, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDeliveryRepo) Claim(ctx context.Context, id string) (*domain.DeliveryEntry, bool, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, id)
	}
	return nil, false, nil
}

func (f *fakeDeliveryRepo) MarkSent(ctx context.Context, id string, providerMessageID string, now time.Time) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, providerMessageID, now)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkFailed(ctx context.Context, id string, errorMessage string, now time.Time) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, errorMessage, now)
	}
	return nil
}

func (f *fakeDeliveryRepo) MarkExhausted(ctx context.Context, id string, now time.Time) error {
	if f.markExhaustedFn != nil {
		return f.markExhaustedFn(ctx, id, now)
	}
	return nil
}

func (f *fakeDeliveryRepo) Reschedule(ctx context.Context, id string, errorMessage string, nextAt time.Time) error {
	if f.rescheduleFn != nil {
		return f.rescheduleFn(ctx, id, errorMessage, nextAt)
	}
	return nil
}

func (f *fakeDeliveryRepo) CancelPendingByNotification(ctx context.Context, notificationID string) (int64, error) {
	if f.cancelPendingByNotificationFn != nil {
		return f.cancelPendingByNotificationFn(ctx, notificationID)
	}
	return 0, nil
}

func (f *fakeDeliveryRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryEntry, error) {
	if f.getDueFn != nil {
		return f.getDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeDeliveryRepo) DeferRedelivery(ctx context.Context, id string, until time.Time) error {
	if f.deferRedeliveryFn != nil {
		return f.deferRedeliveryFn(ctx, id, until)
	}
	return nil
}

func (f *fakeDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryEntry, error) {
	if f.listByNotificationFn != nil {
		return f.listByNotificationFn(ctx, notificationID)
	}
	return nil, nil
}

type fakeBroadcastRepo struct {
	createWithRecipientsFn func(ctx context.Context, c *domain.Campaign, recipients []*domain.Recipient) error
	getByIDFn              func(ctx context.Context, id string) (*domain.Campaign, error)
	listFn                 func(ctx context.Context, page, pageSize int) ([]domain.Campaign, int64, error)
	transitionFn           func(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, extra map[string]any) (bool, error)
	getDueScheduledFn      func(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	nextUnattemptedBatchFn func(ctx context.Context, campaignID string, limit int) ([]domain.Recipient, error)
	markRecipientSentFn    func(ctx context.Context, id string, providerMessageID string, now time.Time) error
	markRecipientFailedFn  func(ctx context.Context, id string, channelError string) error
	addCountersFn          func(ctx context.Context, campaignID string, sentDelta, failedDelta int) error
	resetFailedFn          func(ctx context.Context, campaignID string) (int64, error)
	listRecipientsFn       func(ctx context.Context, campaignID string, page, pageSize int) (*repository.RecipientPage, error)
	errorSummaryFn         func(ctx context.Context, campaignID string, limit int) ([]repository.ErrorCount, error)
}

func (f *fakeBroadcastRepo) CreateWithRecipients(ctx context.Context, c *domain.Campaign, recipients []*domain.Recipient) error {
	if f.createWithRecipientsFn != nil {
		return f.createWithRecipientsFn(ctx, c, recipients)
	}
	return nil
}

func (f *fakeBroadcastRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBroadcastRepo) List(ctx context.Context, page, pageSize int) ([]domain.Campaign, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, page, pageSize)
	}
	return nil, 0, nil
}

func (f *fakeBroadcastRepo) Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, extra map[string]any) (bool, error) {
	if f.transitionFn != nil {
		return f.transitionFn(ctx, id, from, to, extra)
	}
	return true, nil
}

func (f *fakeBroadcastRepo) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if f.getDueScheduledFn != nil {
		return f.getDueScheduledFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeBroadcastRepo) NextUnattemptedBatch(ctx context.Context, campaignID string, limit int) ([]domain.Recipient, error) {
	if f.nextUnattemptedBatchFn != nil {
		return f.nextUnattemptedBatchFn(ctx, campaignID, limit)
	}
	return nil, nil
}

func (f *fakeBroadcastRepo) MarkRecipientSent(ctx context.Context, id string, providerMessageID string, now time.Time) error {
	if f.markRecipientSentFn != nil {
		return f.markRecipientSentFn(ctx, id, providerMessageID, now)
	}
	return nil
}

func (f *fakeBroadcastRepo) MarkRecipientFailed(ctx context.Context, id string, channelError string) error {
	if f.markRecipientFailedFn != nil {
		return f.markRecipientFailedFn(ctx, id, channelError)
	}
	return nil
}

func (f *fakeBroadcastRepo) AddCounters(ctx context.Context, campaignID string, sentDelta, failedDelta int) error {
	if f.addCountersFn != nil {
		return f.addCountersFn(ctx, campaignID, sentDelta, failedDelta)
	}
	return nil
}

func (f *fakeBroadcastRepo) ResetFailed(ctx context.Context, campaignID string) (int64, error) {
	if f.resetFailedFn != nil {
		return f.resetFailedFn(ctx, campaignID)
	}
	return 0, nil
}

func (f *fakeBroadcastRepo) ListRecipients(ctx context.Context, campaignID string, page, pageSize int) (*repository.RecipientPage, error) {
	if f.listRecipientsFn != nil {
		return f.listRecipientsFn(ctx, campaignID, page, pageSize)
	}
	return &repository.RecipientPage{}, nil
}

func (f *fakeBroadcastRepo) ErrorSummary(ctx context.Context, campaignID string, limit int) ([]repository.ErrorCount, error) {
	if f.errorSummaryFn != nil {
		return f.errorSummaryFn(ctx, campaignID, limit)
	}
	return nil, nil
}

type fakePublisher struct {
	publishDeliveryFn  func(ctx context.Context, msg queue.DeliveryMessage) error
	publishBroadcastFn func(ctx context.Context, msg queue.BroadcastMessage) error
}

func (f *fakePublisher) PublishDelivery(ctx context.Context, msg queue.DeliveryMessage) error {
	if f.publishDeliveryFn != nil {
		return f.publishDeliveryFn(ctx, msg)
	}
	return nil
}

func (f *fakePublisher) PublishBroadcast(ctx context.Context, msg queue.BroadcastMessage) error {
	if f.publishBroadcastFn != nil {
		return f.publishBroadcastFn(ctx, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeDeliveriesFn func(ctx context.Context, queueName string, handler queue.DeliveryHandler) error
	consumeBroadcastsFn func(ctx context.Context, handler queue.BroadcastHandler) error
}

func (f *fakeConsumer) ConsumeDeliveries(ctx context.Context, queueName string, handler queue.DeliveryHandler) error {
	if f.consumeDeliveriesFn != nil {
		return f.consumeDeliveriesFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) ConsumeBroadcasts(ctx context.Context, handler queue.BroadcastHandler) error {
	if f.consumeBroadcastsFn != nil {
		return f.consumeBroadcastsFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeUserDirectory struct {
	getFn func(ctx context.Context, id int64) (*directory.User, error)
}

func (f *fakeUserDirectory) Get(ctx context.Context, id int64) (*directory.User, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return &directory.User{ID: id, Role: directory.RoleStudent, Email: "user@example.com"}, nil
}

type fakeSettings struct {
	isAllowedFn func(ctx context.Context, userID int64, t domain.Type, ch domain.Channel) (bool, error)
}

func (f *fakeSettings) IsAllowed(ctx context.Context, userID int64, t domain.Type, ch domain.Channel) (bool, error) {
	if f.isAllowedFn != nil {
		return f.isAllowedFn(ctx, userID, t, ch)
	}
	return true, nil
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, group domain.TargetGroup, filter domain.TargetFilter) ([]int64, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, group domain.TargetGroup, filter domain.TargetFilter) ([]int64, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, group, filter)
	}
	return nil, nil
}

type fakeRealtime struct {
	pushFn func(ctx context.Context, n domain.Notification) error
	pushed []domain.Notification
}

func (f *fakeRealtime) Push(ctx context.Context, n domain.Notification) error {
	f.pushed = append(f.pushed, n)
	if f.pushFn != nil {
		return f.pushFn(ctx, n)
	}
	return nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channelName string) (bool, error)
	waitFn  func(ctx context.Context, channelName string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channelName string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channelName)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channelName string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channelName)
	}
	return nil
}

type fakeSender struct {
	channelValue domain.Channel
	sendFn       func(ctx context.Context, n domain.Notification, user directory.User) (*channel.Result, error)
}

func (f *fakeSender) Channel() domain.Channel {
	if f.channelValue == "" {
		return domain.ChannelEmail
	}
	return f.channelValue
}

func (f *fakeSender) Send(ctx context.Context, n domain.Notification, user directory.User) (*channel.Result, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, n, user)
	}
	return &channel.Result{ProviderMessageID: "msg-1"}, nil
}

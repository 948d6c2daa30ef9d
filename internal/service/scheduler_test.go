package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
)

var schedulerNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, notifications *fakeNotificationRepo, dispatcher *DispatcherService) *SchedulerService {
	t.Helper()

	if dispatcher == nil {
		dispatcher = newTestDispatcher(t, &fakeNotificationRepo{}, &fakeDeliveryRepo{}, &fakeUserDirectory{}, &fakeSettings{}, &fakePublisher{}, &fakeRealtime{})
	}

	svc, err := NewSchedulerService(notifications, dispatcher, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewSchedulerService() error = %v", err)
	}
	svc.now = func() time.Time { return schedulerNow }
	return svc
}

func scheduleInput() ScheduleInput {
	return ScheduleInput{
		RecipientIDs: []int64{10, 11, 10},
		Type:         domain.TypeMaterialAdded,
		Priority:     domain.PriorityNormal,
		Title:        "New material",
		Message:      "Chapter 7 notes are up.",
		Channels:     []domain.Channel{domain.ChannelInApp, domain.ChannelEmail},
		SendAt:       schedulerNow.Add(2 * time.Hour),
	}
}

func TestSchedulerSchedule(t *testing.T) {
	t.Parallel()

	var persisted []*domain.Notification
	notifications := &fakeNotificationRepo{
		createBatchFn: func(_ context.Context, batch []*domain.Notification) error {
			persisted = batch
			return nil
		},
	}

	svc := newTestScheduler(t, notifications, nil)

	created, err := svc.Schedule(context.Background(), scheduleInput())
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if len(created) != 2 {
		t.Fatalf("created %d notifications, want 2 (duplicate recipient collapsed)", len(created))
	}
	if len(persisted) != 2 {
		t.Fatalf("persisted %d notifications, want 2", len(persisted))
	}
	for _, n := range persisted {
		if n.ScheduledStatus == nil || *n.ScheduledStatus != domain.ScheduledPending {
			t.Fatal("scheduled notification must start pending")
		}
		if n.IsSent {
			t.Fatal("scheduled notification must not be marked sent")
		}
		if len(n.Channels) != 2 {
			t.Fatalf("stored channels = %d, want 2", len(n.Channels))
		}
		if n.ScheduledAt == nil || !n.ScheduledAt.Equal(schedulerNow.Add(2*time.Hour)) {
			t.Fatal("scheduled time should be recorded")
		}
	}
}

func TestSchedulerScheduleValidation(t *testing.T) {
	t.Parallel()

	svc := newTestScheduler(t, &fakeNotificationRepo{}, nil)

	tests := []struct {
		name   string
		mutate func(*ScheduleInput)
	}{
		{name: "no recipients", mutate: func(in *ScheduleInput) { in.RecipientIDs = nil }},
		{name: "past send time", mutate: func(in *ScheduleInput) { in.SendAt = schedulerNow.Add(-time.Minute) }},
		{name: "send time now", mutate: func(in *ScheduleInput) { in.SendAt = schedulerNow }},
		{name: "no channels", mutate: func(in *ScheduleInput) { in.Channels = nil }},
		{name: "missing title", mutate: func(in *ScheduleInput) { in.Title = "" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			input := scheduleInput()
			tt.mutate(&input)

			_, err := svc.Schedule(context.Background(), input)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Schedule() error = %v, want ErrValidation", err)
			}
		})
	}
}

func scheduledNotification(id string) *domain.Notification {
	at := schedulerNow.Add(-time.Minute)
	status := domain.ScheduledPending
	return &domain.Notification{
		ID:              id,
		RecipientID:     42,
		Type:            domain.TypeMaterialAdded,
		Priority:        domain.PriorityNormal,
		Title:           "New material",
		Message:         "Chapter 7 notes are up.",
		Channels:        []domain.Channel{domain.ChannelInApp},
		ScheduledAt:     &at,
		ScheduledStatus: &status,
	}
}

func TestSchedulerCancelPending(t *testing.T) {
	t.Parallel()

	cancelled := false
	notifications := &fakeNotificationRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Notification, error) {
			return scheduledNotification(id), nil
		},
		cancelScheduledFn: func(context.Context, string) (bool, error) {
			cancelled = true
			return true, nil
		},
	}

	svc := newTestScheduler(t, notifications, nil)

	if err := svc.Cancel(context.Background(), "n1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !cancelled {
		t.Fatal("CancelScheduled should be called")
	}
}

func TestSchedulerCancelLosesRaceToSweep(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Notification, error) {
			return scheduledNotification(id), nil
		},
		cancelScheduledFn: func(context.Context, string) (bool, error) {
			// The sweep claimed the row first; the conditional update hits zero rows.
			return false, nil
		},
	}

	svc := newTestScheduler(t, notifications, nil)

	err := svc.Cancel(context.Background(), "n1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Cancel() error = %v, want ErrConflict", err)
	}
}

func TestSchedulerCancelNotScheduled(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, RecipientID: 42}, nil
		},
	}

	svc := newTestScheduler(t, notifications, nil)

	err := svc.Cancel(context.Background(), "n1")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Cancel() error = %v, want ErrValidation", err)
	}
}

func TestSchedulerSweepDeliversClaimedOnly(t *testing.T) {
	t.Parallel()

	var delivered []*domain.DeliveryEntry
	deliveries := &fakeDeliveryRepo{
		createBatchFn: func(_ context.Context, entries []*domain.DeliveryEntry) error {
			delivered = append(delivered, entries...)
			return nil
		},
	}
	realtime := &fakeRealtime{}
	dispatcher := newTestDispatcher(t, &fakeNotificationRepo{}, deliveries, &fakeUserDirectory{}, &fakeSettings{}, &fakePublisher{}, realtime)

	claims := map[string]bool{"n1": true, "n2": false}
	notifications := &fakeNotificationRepo{
		getDueScheduledFn: func(context.Context, time.Time, int) ([]domain.Notification, error) {
			first := scheduledNotification("n1")
			second := scheduledNotification("n2")
			first.Channels = []domain.Channel{domain.ChannelEmail}
			second.Channels = []domain.Channel{domain.ChannelEmail}
			return []domain.Notification{*first, *second}, nil
		},
		claimScheduledFn: func(_ context.Context, id string) (bool, error) {
			return claims[id], nil
		},
	}

	svc := newTestScheduler(t, notifications, dispatcher)

	if err := svc.sweepDue(context.Background()); err != nil {
		t.Fatalf("sweepDue() error = %v", err)
	}

	// n2 lost its claim (cancelled or another instance), so only n1 fans out.
	if len(delivered) != 1 {
		t.Fatalf("delivered %d entries, want 1", len(delivered))
	}
	if delivered[0].NotificationID != "n1" {
		t.Fatalf("delivered entry for %s, want n1", delivered[0].NotificationID)
	}
}

func TestSchedulerReschedulePending(t *testing.T) {
	t.Parallel()

	var movedTo time.Time
	notifications := &fakeNotificationRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Notification, error) {
			return scheduledNotification(id), nil
		},
		rescheduleScheduledFn: func(_ context.Context, _ string, newAt time.Time) (bool, error) {
			movedTo = newAt
			return true, nil
		},
	}

	svc := newTestScheduler(t, notifications, nil)

	newAt := schedulerNow.Add(4 * time.Hour)
	if err := svc.Reschedule(context.Background(), "n1", newAt); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if !movedTo.Equal(newAt) {
		t.Fatalf("moved to %v, want %v", movedTo, newAt)
	}

	err := svc.Reschedule(context.Background(), "n1", schedulerNow.Add(-time.Hour))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Reschedule() past time error = %v, want ErrValidation", err)
	}
}

func TestSchedulerRetryPushesSendTimeOut(t *testing.T) {
	t.Parallel()

	var movedTo time.Time
	notifications := &fakeNotificationRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Notification, error) {
			return scheduledNotification(id), nil
		},
		rescheduleScheduledFn: func(_ context.Context, _ string, newAt time.Time) (bool, error) {
			movedTo = newAt
			return true, nil
		},
	}

	svc := newTestScheduler(t, notifications, nil)

	// Send time is one minute in the past, so +30m lands 29m out.
	if err := svc.Retry(context.Background(), "n1", 30*time.Minute); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if want := schedulerNow.Add(29 * time.Minute); !movedTo.Equal(want) {
		t.Fatalf("moved to %v, want %v", movedTo, want)
	}

	// A delay too small to clear the present counts from now instead.
	if err := svc.Retry(context.Background(), "n1", 30*time.Second); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if want := schedulerNow.Add(30 * time.Second); !movedTo.Equal(want) {
		t.Fatalf("moved to %v, want %v", movedTo, want)
	}

	if err := svc.Retry(context.Background(), "n1", 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Retry() zero delay error = %v, want ErrValidation", err)
	}
}

func TestSchedulerRetryLostClaim(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Notification, error) {
			return scheduledNotification(id), nil
		},
		rescheduleScheduledFn: func(_ context.Context, _ string, _ time.Time) (bool, error) {
			return false, nil
		},
	}

	svc := newTestScheduler(t, notifications, nil)

	if err := svc.Retry(context.Background(), "n1", time.Hour); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Retry() error = %v, want ErrConflict", err)
	}
}

func TestSchedulerStatus(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Notification, error) {
			return scheduledNotification(id), nil
		},
	}

	svc := newTestScheduler(t, notifications, nil)

	status, err := svc.Status(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Status != domain.ScheduledPending {
		t.Fatalf("status = %s, want pending", status.Status)
	}
	if status.RecipientID != 42 {
		t.Fatalf("recipient = %d, want 42", status.RecipientID)
	}
}

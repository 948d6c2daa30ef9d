package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/queue"
)

func TestRetrySweeperRepublishesAndDefers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	deferred := map[string]time.Time{}
	deliveries := &fakeDeliveryRepo{
		getDueFn: func(context.Context, time.Time, int) ([]domain.DeliveryEntry, error) {
			return []domain.DeliveryEntry{
				{ID: "e1", NotificationID: "n1", Channel: domain.ChannelEmail, Status: domain.DeliveryPending},
				{ID: "e2", NotificationID: "n2", Channel: domain.ChannelSMS, Status: domain.DeliveryPending},
			}, nil
		},
		deferRedeliveryFn: func(_ context.Context, id string, until time.Time) error {
			deferred[id] = until
			return nil
		},
	}

	var published []queue.DeliveryMessage
	publisher := &fakePublisher{
		publishDeliveryFn: func(_ context.Context, msg queue.DeliveryMessage) error {
			published = append(published, msg)
			return nil
		},
	}

	sweeper, err := NewRetrySweeper(deliveries, publisher, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewRetrySweeper() error = %v", err)
	}
	sweeper.now = func() time.Time { return now }

	if err := sweeper.sweepDue(context.Background()); err != nil {
		t.Fatalf("sweepDue() error = %v", err)
	}

	if len(published) != 2 {
		t.Fatalf("published %d messages, want 2", len(published))
	}
	if len(deferred) != 2 {
		t.Fatalf("deferred %d entries, want 2", len(deferred))
	}
	want := now.Add(redeliveryGrace)
	if !deferred["e1"].Equal(want) {
		t.Fatalf("e1 deferred to %v, want %v", deferred["e1"], want)
	}
}

func TestRetrySweeperPublishFailureKeepsEntryDue(t *testing.T) {
	t.Parallel()

	deferredCalled := false
	deliveries := &fakeDeliveryRepo{
		getDueFn: func(context.Context, time.Time, int) ([]domain.DeliveryEntry, error) {
			return []domain.DeliveryEntry{
				{ID: "e1", NotificationID: "n1", Channel: domain.ChannelEmail, Status: domain.DeliveryPending},
			}, nil
		},
		deferRedeliveryFn: func(context.Context, string, time.Time) error {
			deferredCalled = true
			return nil
		},
	}
	publisher := &fakePublisher{
		publishDeliveryFn: func(context.Context, queue.DeliveryMessage) error {
			return errors.New("broker unavailable")
		},
	}

	sweeper, err := NewRetrySweeper(deliveries, publisher, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewRetrySweeper() error = %v", err)
	}

	if err := sweeper.sweepDue(context.Background()); err != nil {
		t.Fatalf("sweepDue() error = %v", err)
	}
	if deferredCalled {
		t.Fatal("a failed publish must leave the entry due for the next sweep")
	}
}

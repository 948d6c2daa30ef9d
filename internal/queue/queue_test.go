package queue

import (
	"testing"

	"github.com/edurelay/notify-engine/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := DeliveryQueueNames()
	if len(work) != 3 {
		t.Fatalf("DeliveryQueueNames len = %d, want 3", len(work))
	}

	expected := map[string]struct{}{
		"email": {},
		"sms":   {},
		"push":  {},
	}

	for _, name := range work {
		if _, ok := expected[name]; !ok {
			t.Fatalf("unexpected queue name: %s", name)
		}
	}

	all := AllQueueNames()
	if len(all) != 4 {
		t.Fatalf("AllQueueNames len = %d, want 4", len(all))
	}
	if all[len(all)-1] != BroadcastQueueName {
		t.Fatalf("last queue = %s, want %s", all[len(all)-1], BroadcastQueueName)
	}
}

func TestDLQName(t *testing.T) {
	if got := DLQName(QueueName(domain.ChannelEmail)); got != "dlq.email" {
		t.Fatalf("DLQName = %s, want dlq.email", got)
	}
	if got := DLQName(BroadcastQueueName); got != "dlq.broadcast" {
		t.Fatalf("DLQName = %s, want dlq.broadcast", got)
	}
}

func TestPriorityValue(t *testing.T) {
	tests := []struct {
		name     string
		priority domain.Priority
		want     uint8
	}{
		{name: "urgent", priority: domain.PriorityUrgent, want: 4},
		{name: "high", priority: domain.PriorityHigh, want: 3},
		{name: "normal", priority: domain.PriorityNormal, want: 2},
		{name: "low", priority: domain.PriorityLow, want: 1},
		{name: "invalid", priority: domain.Priority("invalid"), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriorityValue(tt.priority)
			if got != tt.want {
				t.Fatalf("PriorityValue(%q) = %d, want %d", tt.priority, got, tt.want)
			}
		})
	}
}

func TestDeliveryMessageValidate(t *testing.T) {
	msg := DeliveryMessage{
		EntryID:        "e1",
		NotificationID: "n1",
		Channel:        domain.ChannelEmail,
		Priority:       domain.PriorityNormal,
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	msg.Channel = domain.ChannelInApp
	if err := msg.Validate(); err == nil {
		t.Fatal("Validate() should reject in_app deliveries")
	}

	msg.Channel = domain.ChannelEmail
	msg.EntryID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("Validate() should require entry id")
	}
}

func TestBroadcastMessageValidate(t *testing.T) {
	if err := (BroadcastMessage{CampaignID: "c1"}).Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
	if err := (BroadcastMessage{}).Validate(); err == nil {
		t.Fatal("Validate() should require campaign id")
	}
}

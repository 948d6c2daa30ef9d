package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
	tele "gopkg.in/telebot.v4"
)

type fakeBotAPI struct {
	sendFn func(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	calls  int
}

func (f *fakeBotAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.calls++
	if f.sendFn != nil {
		return f.sendFn(to, what, opts...)
	}
	return &tele.Message{ID: 777}, nil
}

func TestBotSenderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotRecipient string
	fake := &fakeBotAPI{
		sendFn: func(to tele.Recipient, _ interface{}, _ ...interface{}) (*tele.Message, error) {
			gotRecipient = to.Recipient()
			return &tele.Message{ID: 777}, nil
		},
	}

	sender, err := NewBotSenderWithAPI(fake, testRenderer(t))
	if err != nil {
		t.Fatalf("NewBotSenderWithAPI() error = %v", err)
	}
	if sender.Channel() != domain.ChannelPush {
		t.Fatalf("Channel() = %s, want push", sender.Channel())
	}

	result, err := sender.Send(context.Background(), testNotification(), directory.User{
		ID:        42,
		BotChatID: 123456,
	})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if result.ProviderMessageID != "777" {
		t.Fatalf("ProviderMessageID = %q, want 777", result.ProviderMessageID)
	}
	if gotRecipient != "123456" {
		t.Fatalf("recipient = %q, want 123456", gotRecipient)
	}
}

func TestBotSenderSendMissingChat(t *testing.T) {
	t.Parallel()

	fake := &fakeBotAPI{}
	sender, err := NewBotSenderWithAPI(fake, testRenderer(t))
	if err != nil {
		t.Fatalf("NewBotSenderWithAPI() error = %v", err)
	}

	_, err = sender.Send(context.Background(), testNotification(), directory.User{ID: 42})
	if err == nil {
		t.Fatal("Send() should fail without a chat id")
	}
	if IsRetryable(err) {
		t.Fatalf("missing chat should be permanent: %v", err)
	}
	if fake.calls != 0 {
		t.Fatal("bot api should not be called")
	}
}

func TestClassifyBotError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		wantKind      string
		wantRetryable bool
	}{
		{
			name:          "flood control",
			err:           tele.FloodError{RetryAfter: 30},
			wantKind:      "rate_limited",
			wantRetryable: true,
		},
		{
			name:          "blocked by user",
			err:           tele.ErrBlockedByUser,
			wantKind:      "unreachable_chat",
			wantRetryable: false,
		},
		{
			name:          "chat not found",
			err:           tele.ErrChatNotFound,
			wantKind:      "unreachable_chat",
			wantRetryable: false,
		},
		{
			name:          "api 400",
			err:           &tele.Error{Code: 400, Description: "bad request"},
			wantKind:      "provider_rejected",
			wantRetryable: false,
		},
		{
			name:          "api 502",
			err:           &tele.Error{Code: 502, Description: "bad gateway"},
			wantKind:      "provider_rejected",
			wantRetryable: true,
		},
		{
			name:          "transport failure",
			err:           errors.New("connection refused"),
			wantKind:      "provider_request",
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			classified := classifyBotError(tt.err)

			var channelErr *Error
			if !errors.As(classified, &channelErr) {
				t.Fatalf("classified error should be *Error, got %T", classified)
			}
			if channelErr.Kind != tt.wantKind {
				t.Fatalf("Kind = %q, want %q", channelErr.Kind, tt.wantKind)
			}
			if channelErr.Retryable != tt.wantRetryable {
				t.Fatalf("Retryable = %v, want %v", channelErr.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestNewSenderMap(t *testing.T) {
	t.Parallel()

	bot, err := NewBotSenderWithAPI(&fakeBotAPI{}, testRenderer(t))
	if err != nil {
		t.Fatalf("NewBotSenderWithAPI() error = %v", err)
	}

	m := NewSenderMap(bot, nil)
	if len(m) != 1 {
		t.Fatalf("len(SenderMap) = %d, want 1", len(m))
	}
	if _, ok := m[domain.ChannelPush]; !ok {
		t.Fatal("push sender missing from map")
	}
}

package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/mrz1836/postmark"
)

type fakePostmark struct {
	sendEmailFn func(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
	sent        []postmark.Email
}

func (f *fakePostmark) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	f.sent = append(f.sent, email)
	if f.sendEmailFn != nil {
		return f.sendEmailFn(ctx, email)
	}
	return postmark.EmailResponse{MessageID: "pm-1"}, nil
}

func testEmailSender(t *testing.T, client postmarkSender) *EmailSender {
	t.Helper()

	return &EmailSender{
		client:   client,
		renderer: testRenderer(t),
		from:     "noreply@edurelay.io",
		tag:      "notification",
	}
}

func TestEmailSenderSendSuccess(t *testing.T) {
	t.Parallel()

	fake := &fakePostmark{}
	sender := testEmailSender(t, fake)

	result, err := sender.Send(context.Background(), testNotification(), directory.User{
		ID:    42,
		Email: "student@example.com",
	})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if result.ProviderMessageID != "pm-1" {
		t.Fatalf("ProviderMessageID = %q, want pm-1", result.ProviderMessageID)
	}

	if len(fake.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(fake.sent))
	}
	email := fake.sent[0]
	if email.To != "student@example.com" {
		t.Fatalf("To = %q", email.To)
	}
	if email.From != "noreply@edurelay.io" {
		t.Fatalf("From = %q", email.From)
	}
	if email.Subject != "Assignment graded" {
		t.Fatalf("Subject = %q", email.Subject)
	}
}

func TestEmailSenderSendMissingAddress(t *testing.T) {
	t.Parallel()

	fake := &fakePostmark{}
	sender := testEmailSender(t, fake)

	_, err := sender.Send(context.Background(), testNotification(), directory.User{ID: 42})
	if err == nil {
		t.Fatal("Send() should fail without an email address")
	}
	if IsRetryable(err) {
		t.Fatalf("missing address should be permanent: %v", err)
	}
	if len(fake.sent) != 0 {
		t.Fatal("provider should not be called")
	}
}

func TestEmailSenderSendProviderRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		errorCode     int64
		wantRetryable bool
	}{
		{name: "invalid email address", errorCode: 300, wantRetryable: false},
		{name: "inactive recipient", errorCode: 406, wantRetryable: false},
		{name: "internal server error", errorCode: 700, wantRetryable: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := testEmailSender(t, &fakePostmark{
				sendEmailFn: func(context.Context, postmark.Email) (postmark.EmailResponse, error) {
					return postmark.EmailResponse{ErrorCode: tt.errorCode, Message: "rejected"}, nil
				},
			})

			_, err := sender.Send(context.Background(), testNotification(), directory.User{
				ID:    42,
				Email: "student@example.com",
			})
			if err == nil {
				t.Fatal("Send() should surface provider rejection")
			}
			if got := IsRetryable(err); got != tt.wantRetryable {
				t.Fatalf("IsRetryable() = %v, want %v", got, tt.wantRetryable)
			}
		})
	}
}

func TestEmailSenderSendTransportError(t *testing.T) {
	t.Parallel()

	sender := testEmailSender(t, &fakePostmark{
		sendEmailFn: func(context.Context, postmark.Email) (postmark.EmailResponse, error) {
			return postmark.EmailResponse{}, errors.New("connection reset")
		},
	})

	_, err := sender.Send(context.Background(), testNotification(), directory.User{
		ID:    42,
		Email: "student@example.com",
	})
	if err == nil {
		t.Fatal("Send() should surface transport error")
	}
	if !IsRetryable(err) {
		t.Fatalf("transport error should be retryable: %v", err)
	}
}

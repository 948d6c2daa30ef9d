package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/render"
	"github.com/mrz1836/postmark"
)

// Postmark error codes that no amount of retrying will fix.
const (
	postmarkInvalidEmail      = 300
	postmarkInactiveRecipient = 406
)

type postmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// EmailSender delivers notifications through Postmark's transactional API.
type EmailSender struct {
	client   postmarkSender
	renderer *render.Renderer
	from     string
	tag      string
}

func NewEmailSender(serverToken, accountToken, from string, renderer *render.Renderer) (*EmailSender, error) {
	if strings.TrimSpace(serverToken) == "" {
		return nil, fmt.Errorf("postmark server token is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}

	return &EmailSender{
		client:   postmark.NewClient(serverToken, accountToken),
		renderer: renderer,
		from:     strings.TrimSpace(from),
		tag:      "notification",
	}, nil
}

func (s *EmailSender) Channel() domain.Channel { return domain.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, n domain.Notification, user directory.User) (*Result, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("email sender is not initialized")
	}

	address := strings.TrimSpace(user.Email)
	if address == "" {
		return nil, &Error{
			Kind:      "missing_address",
			Message:   fmt.Sprintf("user %d has no email address", user.ID),
			Retryable: false,
		}
	}

	body, err := s.renderer.Render(render.TemplateEmailBody, n)
	if err != nil {
		return nil, &Error{Kind: "render", Cause: err, Retryable: false}
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.from,
		To:       address,
		Subject:  n.Title,
		Tag:      s.tag,
		TextBody: body,
	})
	if err != nil {
		return nil, &Error{
			Kind:      "provider_request",
			Cause:     err,
			Retryable: true,
		}
	}
	if resp.ErrorCode > 0 {
		return nil, &Error{
			Kind:       "provider_rejected",
			StatusCode: int(resp.ErrorCode),
			Message:    resp.Message,
			Retryable:  isRetryablePostmarkCode(int(resp.ErrorCode)),
		}
	}

	return &Result{ProviderMessageID: resp.MessageID}, nil
}

func isRetryablePostmarkCode(code int) bool {
	switch code {
	case postmarkInvalidEmail, postmarkInactiveRecipient:
		return false
	}
	return true
}

package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/render"
	"github.com/go-resty/resty/v2"
)

const defaultSMSTimeout = 10 * time.Second

type smsRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type smsResponse struct {
	MessageID string `json:"messageId"`
}

// SMSSender posts messages to an HTTP SMS gateway.
type SMSSender struct {
	client   *resty.Client
	renderer *render.Renderer
	endpoint string
}

func NewSMSSender(endpoint, apiKey string, renderer *render.Renderer) (*SMSSender, error) {
	client := resty.New()
	client.SetTimeout(defaultSMSTimeout)
	client.SetRetryCount(0)
	if strings.TrimSpace(apiKey) != "" {
		client.SetHeader("Authorization", "Bearer "+strings.TrimSpace(apiKey))
	}

	return NewSMSSenderWithClient(endpoint, client, renderer)
}

func NewSMSSenderWithClient(endpoint string, client *resty.Client, renderer *render.Renderer) (*SMSSender, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("sms gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid sms gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSMSTimeout)
	}
	client.SetRetryCount(0)

	return &SMSSender{
		client:   client,
		renderer: renderer,
		endpoint: trimmedEndpoint,
	}, nil
}

func (s *SMSSender) Channel() domain.Channel { return domain.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, n domain.Notification, user directory.User) (*Result, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("sms sender is not initialized")
	}

	phone := strings.TrimSpace(user.Phone)
	if phone == "" {
		return nil, &Error{
			Kind:      "missing_address",
			Message:   fmt.Sprintf("user %d has no phone number", user.ID),
			Retryable: false,
		}
	}

	text, err := s.renderer.Render(render.TemplateSMSBody, n)
	if err != nil {
		return nil, &Error{Kind: "render", Cause: err, Retryable: false}
	}

	var parsed smsResponse
	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(smsRequest{To: phone, Text: text}).
		SetResult(&parsed).
		Post(s.endpoint)
	if err != nil {
		return nil, &Error{
			Kind:      "provider_request",
			Cause:     err,
			Retryable: !errors.Is(err, context.Canceled),
		}
	}
	if response == nil {
		return nil, &Error{Kind: "provider_request", Message: "empty response", Retryable: true}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Result{
			ProviderMessageID: parsed.MessageID,
			StatusCode:        statusCode,
			Body:              responseBody,
		}, nil
	}

	return nil, &Error{
		Kind:       "provider_rejected",
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, responseBody),
		Retryable:  isRetryableHTTPStatus(statusCode),
	}
}

func isRetryableHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

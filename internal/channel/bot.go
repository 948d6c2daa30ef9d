package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/render"
	tele "gopkg.in/telebot.v4"
)

type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// BotSender delivers notifications through the messaging-bot API. It serves
// both the push channel and broadcast campaigns.
type BotSender struct {
	bot      botAPI
	renderer *render.Renderer
}

func NewBotSender(token string, renderer *render.Renderer) (*BotSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  strings.TrimSpace(token),
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bot: %w", err)
	}

	return &BotSender{bot: bot, renderer: renderer}, nil
}

// NewBotSenderWithAPI wires a prebuilt API client; used by tests and by the
// broadcast worker sharing one bot instance.
func NewBotSenderWithAPI(bot botAPI, renderer *render.Renderer) (*BotSender, error) {
	if bot == nil {
		return nil, fmt.Errorf("bot api is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	return &BotSender{bot: bot, renderer: renderer}, nil
}

func (s *BotSender) Channel() domain.Channel { return domain.ChannelPush }

func (s *BotSender) Send(ctx context.Context, n domain.Notification, user directory.User) (*Result, error) {
	if s == nil || s.bot == nil {
		return nil, fmt.Errorf("bot sender is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if user.BotChatID == 0 {
		return nil, &Error{
			Kind:      "missing_address",
			Message:   fmt.Sprintf("user %d has no bot chat", user.ID),
			Retryable: false,
		}
	}

	text, err := s.renderer.Render(render.TemplateBotMessage, n)
	if err != nil {
		return nil, &Error{Kind: "render", Cause: err, Retryable: false}
	}

	msg, err := s.bot.Send(&tele.User{ID: user.BotChatID}, text)
	if err != nil {
		return nil, classifyBotError(err)
	}

	result := &Result{}
	if msg != nil {
		result.ProviderMessageID = strconv.Itoa(msg.ID)
	}
	return result, nil
}

func classifyBotError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &Error{
			Kind:       "rate_limited",
			StatusCode: http.StatusTooManyRequests,
			Message:    fmt.Sprintf("flood control, retry after %ds", flood.RetryAfter),
			Retryable:  true,
			Cause:      err,
		}
	}

	// Blocked bots, deleted accounts and unknown chats never recover.
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound):
		return &Error{Kind: "unreachable_chat", Cause: err, Retryable: false}
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return &Error{
			Kind:       "provider_rejected",
			StatusCode: apiErr.Code,
			Message:    apiErr.Description,
			Retryable:  apiErr.Code >= http.StatusInternalServerError,
			Cause:      err,
		}
	}

	// Anything else is transport-level and worth another attempt.
	return &Error{Kind: "provider_request", Cause: err, Retryable: true}
}

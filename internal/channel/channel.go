package channel

import (
	"context"

	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
)

// Result stores provider call metadata for audit and persistence.
type Result struct {
	ProviderMessageID string
	StatusCode        int
	Body              string
}

// Sender delivers one notification over one medium. Implementations classify
// failures via *Error so the delivery engine can decide retryable vs not.
// A permanent bounce is reported, never acted on here.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, n domain.Notification, user directory.User) (*Result, error)
}

// SenderMap indexes senders by the channel they serve.
type SenderMap map[domain.Channel]Sender

func NewSenderMap(senders ...Sender) SenderMap {
	m := make(SenderMap, len(senders))
	for _, s := range senders {
		if s != nil {
			m[s.Channel()] = s
		}
	}
	return m
}

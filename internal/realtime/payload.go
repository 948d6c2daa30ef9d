package realtime

import (
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
)

// Payload is the wire shape pushed over websocket connections and the redis
// fan-out channel. Kept flat so clients never need to unwrap envelopes.
type Payload struct {
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	Priority          string         `json:"priority"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	RelatedObjectType string         `json:"relatedObjectType,omitempty"`
	RelatedObjectID   *int64         `json:"relatedObjectId,omitempty"`
	Data              map[string]any `json:"data,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

func NewPayload(n domain.Notification) Payload {
	return Payload{
		ID:                n.ID,
		Type:              n.Type.String(),
		Priority:          n.Priority.String(),
		Title:             n.Title,
		Message:           n.Message,
		RelatedObjectType: n.RelatedObjectType,
		RelatedObjectID:   n.RelatedObjectID,
		Data:              n.Payload,
		CreatedAt:         n.CreatedAt,
	}
}

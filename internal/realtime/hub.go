package realtime

import (
	"sync"

	"github.com/edurelay/notify-engine/internal/observability"
	"go.uber.org/zap"
)

// Conn is the slice of a websocket connection the hub needs. The fiber
// websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Hub tracks the websocket connections attached to this process, keyed by
// recipient. A user may hold several connections (multiple tabs, devices);
// Deliver fans out to all of them and drops the ones that fail to write.
type Hub struct {
	mu      sync.RWMutex
	conns   map[int64]map[Conn]struct{}
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[int64]map[Conn]struct{}),
		logger: logger,
	}
}

func (h *Hub) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

func (h *Hub) Register(recipientID int64, c Conn) {
	h.mu.Lock()
	if _, ok := h.conns[recipientID]; !ok {
		h.conns[recipientID] = make(map[Conn]struct{})
	}
	h.conns[recipientID][c] = struct{}{}
	total := len(h.conns[recipientID])
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.IncRealtimeConnections()
	}
	h.logger.Debug("realtime connection registered",
		zap.Int64("recipientId", recipientID),
		zap.Int("connections", total),
	)
}

func (h *Hub) Unregister(recipientID int64, c Conn) {
	h.mu.Lock()
	removed := false
	if conns, ok := h.conns[recipientID]; ok {
		if _, present := conns[c]; present {
			delete(conns, c)
			removed = true
		}
		if len(conns) == 0 {
			delete(h.conns, recipientID)
		}
	}
	h.mu.Unlock()

	if !removed {
		return
	}
	_ = c.Close()
	if h.metrics != nil {
		h.metrics.DecRealtimeConnections()
	}
	h.logger.Debug("realtime connection removed", zap.Int64("recipientId", recipientID))
}

// Deliver writes the payload to every live connection of the recipient and
// reports how many received it. Connections that fail to write are dropped;
// the client is expected to reconnect and pick the backlog up again.
func (h *Hub) Deliver(recipientID int64, payload Payload) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns[recipientID]))
	for c := range h.conns[recipientID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.WriteJSON(payload); err != nil {
			h.logger.Warn("realtime write failed, dropping connection",
				zap.Int64("recipientId", recipientID),
				zap.Error(err),
			)
			h.Unregister(recipientID, c)
			continue
		}
		delivered++
		if h.metrics != nil {
			h.metrics.IncRealtimePushed()
		}
	}
	return delivered
}

// ConnectionCount reports live connections for one recipient.
func (h *Hub) ConnectionCount(recipientID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[recipientID])
}

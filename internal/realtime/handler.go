package realtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	recipientLocalsKey = "recipientId"
	backlogLimit       = 50
)

// Inbox is the slice of the reader service the socket needs for the backlog
// and the inline commands.
type Inbox interface {
	List(ctx context.Context, recipientID int64, params repository.ListParams) ([]domain.Notification, int64, error)
	MarkRead(ctx context.Context, recipientID int64, id string) (bool, error)
	Archive(ctx context.Context, recipientID int64, id string) (bool, error)
	Delete(ctx context.Context, recipientID int64, id string) error
}

type Handler struct {
	hub    *Hub
	inbox  Inbox
	logger *zap.Logger
}

func NewHandler(hub *Hub, inbox Inbox, logger *zap.Logger) (*Handler, error) {
	if hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if inbox == nil {
		return nil, fmt.Errorf("inbox is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, inbox: inbox, logger: logger}, nil
}

func RegisterRoutes(router fiber.Router, hub *Hub, inbox Inbox, logger *zap.Logger) error {
	h, err := NewHandler(hub, inbox, logger)
	if err != nil {
		return err
	}

	// Identity is checked before the upgrade so unauthenticated clients get a
	// plain HTTP status instead of a half-open socket.
	router.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		recipientID, err := recipientFromRequest(c)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "recipient identity is required")
		}
		c.Locals(recipientLocalsKey, recipientID)
		return c.Next()
	})
	router.Get("/ws/notifications", websocket.New(h.serve))

	return nil
}

func recipientFromRequest(c *fiber.Ctx) (int64, error) {
	raw := strings.TrimSpace(c.Get("X-User-Id"))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("userId"))
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid recipient id %q", raw)
	}
	return id, nil
}

// clientCommand is an inline action on the open socket. The id always refers
// to a notification owned by the connected recipient; the inbox enforces that.
type clientCommand struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

type ackFrame struct {
	Kind    string `json:"kind"`
	Action  string `json:"action"`
	ID      string `json:"id"`
	Changed bool   `json:"changed"`
}

type errorFrame struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type backlogFrame struct {
	Kind  string    `json:"kind"`
	Items []Payload `json:"items"`
	Total int64     `json:"total"`
}

// syncConn serializes writes: the backlog/ack writer and the hub fan-out
// share the same underlying connection.
type syncConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *syncConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *syncConn) Close() error { return c.conn.Close() }

func (h *Handler) serve(conn *websocket.Conn) {
	recipientID, ok := conn.Locals(recipientLocalsKey).(int64)
	if !ok || recipientID <= 0 {
		_ = conn.Close()
		return
	}

	sc := &syncConn{conn: conn}
	ctx := context.Background()

	if err := h.sendBacklog(ctx, sc, recipientID); err != nil {
		h.logger.Warn("failed to send unread backlog",
			zap.Int64("recipientId", recipientID),
			zap.Error(err),
		)
		_ = conn.Close()
		return
	}

	h.hub.Register(recipientID, sc)
	defer h.hub.Unregister(recipientID, sc)

	for {
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		h.handleCommand(ctx, sc, recipientID, cmd)
	}
}

// sendBacklog pushes the recipient's most recent unread notifications so a
// freshly connected client starts consistent without a separate REST call.
func (h *Handler) sendBacklog(ctx context.Context, sc *syncConn, recipientID int64) error {
	items, total, err := h.inbox.List(ctx, recipientID, repository.ListParams{
		UnreadOnly: true,
		Page:       1,
		PageSize:   backlogLimit,
	})
	if err != nil {
		return err
	}

	payloads := make([]Payload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, NewPayload(item))
	}
	return sc.WriteJSON(backlogFrame{Kind: "backlog", Items: payloads, Total: total})
}

func (h *Handler) handleCommand(ctx context.Context, sc *syncConn, recipientID int64, cmd clientCommand) {
	var (
		changed bool
		err     error
	)

	switch cmd.Action {
	case "mark_read":
		changed, err = h.inbox.MarkRead(ctx, recipientID, cmd.ID)
	case "archive":
		changed, err = h.inbox.Archive(ctx, recipientID, cmd.ID)
	case "delete":
		err = h.inbox.Delete(ctx, recipientID, cmd.ID)
		changed = err == nil
	default:
		h.writeError(sc, fmt.Sprintf("unknown action %q", cmd.Action))
		return
	}

	if err != nil {
		h.writeError(sc, err.Error())
		return
	}
	if writeErr := sc.WriteJSON(ackFrame{Kind: "ack", Action: cmd.Action, ID: cmd.ID, Changed: changed}); writeErr != nil {
		h.logger.Debug("ack write failed", zap.Int64("recipientId", recipientID), zap.Error(writeErr))
	}
}

func (h *Handler) writeError(sc *syncConn, message string) {
	if err := sc.WriteJSON(errorFrame{Kind: "error", Message: message}); err != nil {
		h.logger.Debug("error frame write failed", zap.Error(err))
	}
}

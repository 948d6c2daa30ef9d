package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/edurelay/notify-engine/internal/service"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100

	recipientHeader = "X-User-Id"
)

type DispatchService interface {
	Dispatch(ctx context.Context, input service.DispatchInput) (*service.DispatchResult, error)
}

type InboxService interface {
	List(ctx context.Context, recipientID int64, params repository.ListParams) ([]domain.Notification, int64, error)
	UnreadCount(ctx context.Context, recipientID int64) (int64, error)
	Get(ctx context.Context, recipientID int64, id string) (*domain.Notification, error)
	MarkRead(ctx context.Context, recipientID int64, id string) (bool, error)
	Archive(ctx context.Context, recipientID int64, id string) (bool, error)
	Delete(ctx context.Context, recipientID int64, id string) error
}

type NotificationHandler struct {
	dispatch DispatchService
	inbox    InboxService
}

func NewNotificationHandler(dispatch DispatchService, inbox InboxService) (*NotificationHandler, error) {
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if inbox == nil {
		return nil, fmt.Errorf("inbox service is required")
	}
	return &NotificationHandler{dispatch: dispatch, inbox: inbox}, nil
}

func RegisterNotificationRoutes(router fiber.Router, dispatch DispatchService, inbox InboxService) error {
	h, err := NewNotificationHandler(dispatch, inbox)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.DispatchNotification)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/unread-count", h.UnreadCount)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/read", h.MarkRead)
	v1.Post("/notifications/:id/archive", h.ArchiveNotification)
	v1.Delete("/notifications/:id", h.DeleteNotification)

	return nil
}

type dispatchRequest struct {
	RecipientID       int64          `json:"recipientId"`
	Type              string         `json:"type"`
	Priority          string         `json:"priority"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	Channels          []string       `json:"channels"`
	RelatedObjectType string         `json:"relatedObjectType,omitempty"`
	RelatedObjectID   *int64         `json:"relatedObjectId,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
}

type notificationResponse struct {
	ID                string         `json:"id"`
	RecipientID       int64          `json:"recipientId"`
	Type              string         `json:"type"`
	Priority          string         `json:"priority"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	IsRead            bool           `json:"isRead"`
	ReadAt            *time.Time     `json:"readAt,omitempty"`
	IsSent            bool           `json:"isSent"`
	SentAt            *time.Time     `json:"sentAt,omitempty"`
	IsArchived        bool           `json:"isArchived"`
	ScheduledAt       *time.Time     `json:"scheduledAt,omitempty"`
	ScheduledStatus   *string        `json:"scheduledStatus,omitempty"`
	RelatedObjectType string         `json:"relatedObjectType,omitempty"`
	RelatedObjectID   *int64         `json:"relatedObjectId,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

type deliveryEntryResponse struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

type dispatchResponse struct {
	Notification notificationResponse    `json:"notification"`
	Entries      []deliveryEntryResponse `json:"entries"`
	Suppressed   []string                `json:"suppressed,omitempty"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) DispatchNotification(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	input, err := requestToDispatchInput(req)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.dispatch.Dispatch(c.Context(), input)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toDispatchResponse(result))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	recipientID, err := recipientFromHeader(c)
	if err != nil {
		return toHTTPError(err)
	}

	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.inbox.List(c.Context(), recipientID, params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	recipientID, err := recipientFromHeader(c)
	if err != nil {
		return toHTTPError(err)
	}

	count, err := h.inbox.UnreadCount(c.Context(), recipientID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"unreadCount": count,
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	recipientID, err := recipientFromHeader(c)
	if err != nil {
		return toHTTPError(err)
	}

	notification, err := h.inbox.Get(c.Context(), recipientID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	recipientID, err := recipientFromHeader(c)
	if err != nil {
		return toHTTPError(err)
	}

	id := strings.TrimSpace(c.Params("id"))
	changed, err := h.inbox.MarkRead(c.Context(), recipientID, id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"changed":        changed,
	})
}

func (h *NotificationHandler) ArchiveNotification(c *fiber.Ctx) error {
	recipientID, err := recipientFromHeader(c)
	if err != nil {
		return toHTTPError(err)
	}

	id := strings.TrimSpace(c.Params("id"))
	changed, err := h.inbox.Archive(c.Context(), recipientID, id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"changed":        changed,
	})
}

func (h *NotificationHandler) DeleteNotification(c *fiber.Ctx) error {
	recipientID, err := recipientFromHeader(c)
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.inbox.Delete(c.Context(), recipientID, strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// recipientFromHeader reads the caller identity the API gateway injects.
func recipientFromHeader(c *fiber.Ctx) (int64, error) {
	raw := strings.TrimSpace(c.Get(recipientHeader))
	if raw == "" {
		return 0, fiber.NewError(fiber.StatusUnauthorized, "recipient identity is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusUnauthorized, "invalid recipient identity")
	}
	return id, nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:            c.QueryInt("page", defaultPage),
		PageSize:        c.QueryInt("pageSize", defaultPageSize),
		UnreadOnly:      c.QueryBool("unreadOnly", false),
		IncludeArchived: c.QueryBool("includeArchived", false),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	return params, nil
}

func requestToDispatchInput(req dispatchRequest) (service.DispatchInput, error) {
	notificationType, err := domain.ParseTypeFromString(req.Type)
	if err != nil {
		return service.DispatchInput{}, err
	}

	priority := domain.PriorityNormal
	if strings.TrimSpace(req.Priority) != "" {
		priority, err = domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return service.DispatchInput{}, err
		}
	}

	channels, err := parseChannels(req.Channels)
	if err != nil {
		return service.DispatchInput{}, err
	}

	return service.DispatchInput{
		RecipientID:       req.RecipientID,
		Type:              notificationType,
		Priority:          priority,
		Title:             strings.TrimSpace(req.Title),
		Message:           strings.TrimSpace(req.Message),
		Channels:          channels,
		RelatedObjectType: strings.TrimSpace(req.RelatedObjectType),
		RelatedObjectID:   req.RelatedObjectID,
		Payload:           req.Payload,
	}, nil
}

func parseChannels(raw []string) ([]domain.Channel, error) {
	channels := make([]domain.Channel, 0, len(raw))
	for _, item := range raw {
		channel, err := domain.ParseChannelFromString(item)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

func toDispatchResponse(result *service.DispatchResult) dispatchResponse {
	entries := make([]deliveryEntryResponse, 0, len(result.Entries))
	for _, entry := range result.Entries {
		entries = append(entries, deliveryEntryResponse{
			ID:          entry.ID,
			Channel:     entry.Channel.String(),
			Status:      entry.Status.String(),
			Attempts:    entry.Attempts,
			MaxAttempts: entry.MaxAttempts,
			ScheduledAt: entry.ScheduledAt,
		})
	}

	suppressed := make([]string, 0, len(result.Suppressed))
	for _, channel := range result.Suppressed {
		suppressed = append(suppressed, channel.String())
	}

	return dispatchResponse{
		Notification: toNotificationResponse(&result.Notification),
		Entries:      entries,
		Suppressed:   suppressed,
	}
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		n := notification
		responses = append(responses, toNotificationResponse(&n))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	var scheduledStatus *string
	if n.ScheduledStatus != nil {
		s := n.ScheduledStatus.String()
		scheduledStatus = &s
	}

	return notificationResponse{
		ID:                n.ID,
		RecipientID:       n.RecipientID,
		Type:              n.Type.String(),
		Priority:          n.Priority.String(),
		Title:             n.Title,
		Message:           n.Message,
		IsRead:            n.IsRead,
		ReadAt:            n.ReadAt,
		IsSent:            n.IsSent,
		SentAt:            n.SentAt,
		IsArchived:        n.IsArchived,
		ScheduledAt:       n.ScheduledAt,
		ScheduledStatus:   scheduledStatus,
		RelatedObjectType: n.RelatedObjectType,
		RelatedObjectID:   n.RelatedObjectID,
		Payload:           n.Payload,
		CreatedAt:         n.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNoRecipients):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}

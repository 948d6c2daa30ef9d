package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/service"
	"github.com/gofiber/fiber/v2"
)

type ScheduleService interface {
	Schedule(ctx context.Context, input service.ScheduleInput) ([]domain.Notification, error)
	Cancel(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, newAt time.Time) error
	Retry(ctx context.Context, id string, delay time.Duration) error
	Status(ctx context.Context, id string) (*service.ScheduleStatus, error)
}

type ScheduleHandler struct {
	service ScheduleService
}

func NewScheduleHandler(svc ScheduleService) (*ScheduleHandler, error) {
	if svc == nil {
		return nil, fmt.Errorf("schedule service is required")
	}
	return &ScheduleHandler{service: svc}, nil
}

func RegisterScheduleRoutes(router fiber.Router, svc ScheduleService) error {
	h, err := NewScheduleHandler(svc)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/schedules", h.CreateSchedule)
	v1.Get("/schedules/:id", h.GetScheduleStatus)
	v1.Post("/schedules/:id/cancel", h.CancelSchedule)
	v1.Post("/schedules/:id/reschedule", h.Reschedule)
	v1.Post("/schedules/:id/retry", h.RetrySchedule)

	return nil
}

type createScheduleRequest struct {
	RecipientIDs      []int64        `json:"recipientIds"`
	Type              string         `json:"type"`
	Priority          string         `json:"priority"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	Channels          []string       `json:"channels"`
	SendAt            time.Time      `json:"sendAt"`
	RelatedObjectType string         `json:"relatedObjectType,omitempty"`
	RelatedObjectID   *int64         `json:"relatedObjectId,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
}

type rescheduleRequest struct {
	SendAt time.Time `json:"sendAt"`
}

type retryScheduleRequest struct {
	DelayMinutes int `json:"delayMinutes"`
}

type scheduleStatusResponse struct {
	ID          string    `json:"id"`
	RecipientID int64     `json:"recipientId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Status      string    `json:"status"`
}

func (h *ScheduleHandler) CreateSchedule(c *fiber.Ctx) error {
	var req createScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	input, err := requestToScheduleInput(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Schedule(c.Context(), input)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"scheduled": toNotificationResponses(created),
		"count":     len(created),
	})
}

func (h *ScheduleHandler) GetScheduleStatus(c *fiber.Ctx) error {
	status, err := h.service.Status(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(scheduleStatusResponse{
		ID:          status.ID,
		RecipientID: status.RecipientID,
		ScheduledAt: status.ScheduledAt,
		Status:      status.Status.String(),
	})
}

func (h *ScheduleHandler) CancelSchedule(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.ScheduledCancelled.String(),
	})
}

func (h *ScheduleHandler) Reschedule(c *fiber.Ctx) error {
	var req rescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Reschedule(c.Context(), id, req.SendAt); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"scheduledAt":    req.SendAt.UTC(),
	})
}

func (h *ScheduleHandler) RetrySchedule(c *fiber.Ctx) error {
	var req retryScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Retry(c.Context(), id, time.Duration(req.DelayMinutes)*time.Minute); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"delayMinutes":   req.DelayMinutes,
	})
}

func requestToScheduleInput(req createScheduleRequest) (service.ScheduleInput, error) {
	notificationType, err := domain.ParseTypeFromString(req.Type)
	if err != nil {
		return service.ScheduleInput{}, err
	}

	priority := domain.PriorityNormal
	if strings.TrimSpace(req.Priority) != "" {
		priority, err = domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return service.ScheduleInput{}, err
		}
	}

	channels, err := parseChannels(req.Channels)
	if err != nil {
		return service.ScheduleInput{}, err
	}

	return service.ScheduleInput{
		RecipientIDs:      req.RecipientIDs,
		Type:              notificationType,
		Priority:          priority,
		Title:             strings.TrimSpace(req.Title),
		Message:           strings.TrimSpace(req.Message),
		Channels:          channels,
		SendAt:            req.SendAt,
		RelatedObjectType: strings.TrimSpace(req.RelatedObjectType),
		RelatedObjectID:   req.RelatedObjectID,
		Payload:           req.Payload,
	}, nil
}

package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/edurelay/notify-engine/internal/service"
	"github.com/gofiber/fiber/v2"
)

type BroadcastAdminService interface {
	Create(ctx context.Context, input service.BroadcastInput) (*domain.Campaign, error)
	Send(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	Progress(ctx context.Context, id string) (*service.ProgressReport, error)
	List(ctx context.Context, page, pageSize int) ([]domain.Campaign, int64, error)
	ListRecipients(ctx context.Context, id string, page, pageSize int) (*repository.RecipientPage, error)
}

type BroadcastHandler struct {
	service BroadcastAdminService
}

func NewBroadcastHandler(svc BroadcastAdminService) (*BroadcastHandler, error) {
	if svc == nil {
		return nil, fmt.Errorf("broadcast service is required")
	}
	return &BroadcastHandler{service: svc}, nil
}

func RegisterBroadcastRoutes(router fiber.Router, svc BroadcastAdminService) error {
	h, err := NewBroadcastHandler(svc)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/broadcasts", h.CreateBroadcast)
	v1.Get("/broadcasts", h.ListBroadcasts)
	v1.Get("/broadcasts/:id", h.GetBroadcastProgress)
	v1.Get("/broadcasts/:id/recipients", h.ListBroadcastRecipients)
	v1.Post("/broadcasts/:id/send", h.SendBroadcast)
	v1.Post("/broadcasts/:id/cancel", h.CancelBroadcast)
	v1.Post("/broadcasts/:id/retry", h.RetryBroadcast)

	return nil
}

type createBroadcastRequest struct {
	TargetGroup     string              `json:"targetGroup"`
	TargetFilter    domain.TargetFilter `json:"targetFilter"`
	Message         string              `json:"message"`
	ScheduledAt     *time.Time          `json:"scheduledAt,omitempty"`
	SendImmediately bool                `json:"sendImmediately,omitempty"`
}

type campaignResponse struct {
	ID             string     `json:"id"`
	CreatedBy      int64      `json:"createdBy"`
	TargetGroup    string     `json:"targetGroup"`
	Message        string     `json:"message"`
	Status         string     `json:"status"`
	RecipientCount int        `json:"recipientCount"`
	SentCount      int        `json:"sentCount"`
	FailedCount    int        `json:"failedCount"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type progressResponse struct {
	Campaign    campaignResponse `json:"campaign"`
	ProgressPct int              `json:"progressPct"`
	Pending     int              `json:"pending"`
	TopErrors   []errorCountItem `json:"topErrors,omitempty"`
}

type errorCountItem struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

type recipientResponse struct {
	ID               string     `json:"id"`
	UserID           int64      `json:"userId"`
	Sent             bool       `json:"sent"`
	ChannelMessageID *string    `json:"channelMessageId,omitempty"`
	ChannelError     *string    `json:"channelError,omitempty"`
	SentAt           *time.Time `json:"sentAt,omitempty"`
}

type listCampaignsResponse struct {
	Data []campaignResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listRecipientsResponse struct {
	Data []recipientResponse `json:"data"`
	Meta listMeta            `json:"meta"`
}

func (h *BroadcastHandler) CreateBroadcast(c *fiber.Ctx) error {
	createdBy, err := recipientFromHeader(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req createBroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	group, err := domain.ParseTargetGroupFromString(req.TargetGroup)
	if err != nil {
		return toHTTPError(err)
	}

	campaign, err := h.service.Create(c.Context(), service.BroadcastInput{
		CreatedBy:       createdBy,
		TargetGroup:     group,
		TargetFilter:    req.TargetFilter,
		Message:         strings.TrimSpace(req.Message),
		ScheduledAt:     req.ScheduledAt,
		SendImmediately: req.SendImmediately,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *BroadcastHandler) ListBroadcasts(c *fiber.Ctx) error {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)
	if page < 1 || pageSize < 1 || pageSize > maxPageSize {
		return toHTTPError(fmt.Errorf("%w: invalid pagination", domain.ErrValidation))
	}

	campaigns, total, err := h.service.List(c.Context(), page, pageSize)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]campaignResponse, 0, len(campaigns))
	for _, campaign := range campaigns {
		item := campaign
		data = append(data, toCampaignResponse(&item))
	}

	return c.Status(fiber.StatusOK).JSON(listCampaignsResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *BroadcastHandler) GetBroadcastProgress(c *fiber.Ctx) error {
	report, err := h.service.Progress(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	topErrors := make([]errorCountItem, 0, len(report.TopErrors))
	for _, item := range report.TopErrors {
		topErrors = append(topErrors, errorCountItem{Error: item.Error, Count: item.Count})
	}

	return c.Status(fiber.StatusOK).JSON(progressResponse{
		Campaign:    toCampaignResponse(&report.Campaign),
		ProgressPct: report.ProgressPct,
		Pending:     report.Pending,
		TopErrors:   topErrors,
	})
}

func (h *BroadcastHandler) ListBroadcastRecipients(c *fiber.Ctx) error {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)
	if page < 1 || pageSize < 1 || pageSize > maxPageSize {
		return toHTTPError(fmt.Errorf("%w: invalid pagination", domain.ErrValidation))
	}

	recipients, err := h.service.ListRecipients(c.Context(), strings.TrimSpace(c.Params("id")), page, pageSize)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]recipientResponse, 0, len(recipients.Recipients))
	for _, recipient := range recipients.Recipients {
		data = append(data, recipientResponse{
			ID:               recipient.ID,
			UserID:           recipient.UserID,
			Sent:             recipient.ChannelSent,
			ChannelMessageID: recipient.ChannelMessageID,
			ChannelError:     recipient.ChannelError,
			SentAt:           recipient.SentAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listRecipientsResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: recipients.Total},
	})
}

func (h *BroadcastHandler) SendBroadcast(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Send(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"campaignId": id,
		"status":     domain.CampaignSending.String(),
	})
}

func (h *BroadcastHandler) CancelBroadcast(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"campaignId": id,
		"status":     domain.CampaignCancelled.String(),
	})
}

func (h *BroadcastHandler) RetryBroadcast(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Retry(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"campaignId": id,
		"status":     domain.CampaignSending.String(),
	})
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	if c == nil {
		return campaignResponse{}
	}

	return campaignResponse{
		ID:             c.ID,
		CreatedBy:      c.CreatedBy,
		TargetGroup:    c.TargetGroup.String(),
		Message:        c.Message,
		Status:         c.Status.String(),
		RecipientCount: c.RecipientCount,
		SentCount:      c.SentCount,
		FailedCount:    c.FailedCount,
		ScheduledAt:    c.ScheduledAt,
		SentAt:         c.SentAt,
		CompletedAt:    c.CompletedAt,
		CreatedAt:      c.CreatedAt,
	}
}

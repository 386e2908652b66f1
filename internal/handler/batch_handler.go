package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
	"github.com/tokenops/custody-engine/internal/repository"
	"github.com/tokenops/custody-engine/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type BatchService interface {
	Create(ctx context.Context, input service.CreateBatchInput) (*domain.BatchRequest, error)
	GetStatus(ctx context.Context, id string) (*service.BatchStatusView, error)
	ListDetails(ctx context.Context, id string, opts repository.ListOptions) ([]domain.DetailItem, error)
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/disbursements", h.CreateDisbursement)
	v1.Get("/disbursements/:id", h.GetDisbursement)
	v1.Get("/disbursements/:id/details", h.ListDisbursementDetails)

	return nil
}

type disbursementItemRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type createDisbursementRequest struct {
	ID    string                    `json:"id"`
	Cate1 string                    `json:"cate1"`
	Cate2 string                    `json:"cate2"`
	Items []disbursementItemRequest `json:"items"`
}

type createDisbursementResponse struct {
	BatchID    string `json:"batchId"`
	Status     string `json:"status"`
	TotalCount int    `json:"totalCount"`
	Warning    string `json:"warning,omitempty"`
}

type disbursementStatusResponse struct {
	BatchID     string    `json:"batchId"`
	Cate1       string    `json:"cate1,omitempty"`
	Cate2       string    `json:"cate2,omitempty"`
	Status      string    `json:"status"`
	TotalCount  int       `json:"totalCount"`
	Completed   int       `json:"completedCount"`
	Failed      int       `json:"failedCount"`
	Pending     int       `json:"pendingCount"`
	Retryable   int       `json:"retryableCount"`
	SuccessRate float64   `json:"successRate"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type detailItemResponse struct {
	ID           uint64    `json:"id"`
	Address      string    `json:"address,omitempty"`
	Amount       string    `json:"amount"`
	Sent         string    `json:"sent"`
	AttemptCount int       `json:"attemptCount"`
	ResultCode   string    `json:"resultCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type listDetailsResponse struct {
	BatchID string               `json:"batchId"`
	Data    []detailItemResponse `json:"data"`
}

func (h *BatchHandler) CreateDisbursement(c *fiber.Ctx) error {
	var req createDisbursementRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	input := service.CreateBatchInput{
		ID:            req.ID,
		Cate1:         req.Cate1,
		Cate2:         req.Cate2,
		CorrelationID: requestCorrelationID(c),
		Items:         make([]service.DisbursementInput, 0, len(req.Items)),
	}
	for i, item := range req.Items {
		amount, err := decimal.NewFromString(strings.TrimSpace(item.Amount))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest,
				fmt.Sprintf("items[%d]: amount must be a decimal number", i))
		}
		input.Items = append(input.Items, service.DisbursementInput{
			Address: item.Address,
			Amount:  amount,
		})
	}

	batch, err := h.service.Create(c.Context(), input)
	if err != nil {
		// A created batch with a dependency error means rows were persisted
		// but the dispatch trigger failed; the caller still gets the id.
		if batch != nil && errors.Is(err, domain.ErrDependency) {
			return c.Status(fiber.StatusAccepted).JSON(createDisbursementResponse{
				BatchID:    batch.ID,
				Status:     batch.Status.String(),
				TotalCount: batch.TotalCount,
				Warning:    err.Error(),
			})
		}
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(createDisbursementResponse{
		BatchID:    batch.ID,
		Status:     batch.Status.String(),
		TotalCount: batch.TotalCount,
	})
}

func (h *BatchHandler) GetDisbursement(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	view, err := h.service.GetStatus(c.Context(), id)
	if err != nil {
		return err
	}

	resp := disbursementStatusResponse{
		BatchID:    view.Batch.ID,
		Cate1:      view.Batch.Cate1,
		Cate2:      view.Batch.Cate2,
		Status:     view.Batch.Status.String(),
		TotalCount: view.Batch.TotalCount,
		CreatedAt:  view.Batch.CreatedAt,
		UpdatedAt:  view.Batch.UpdatedAt,
	}
	if view.Stats != nil {
		resp.Completed = view.Stats.Completed
		resp.Failed = view.Stats.Failed
		resp.Pending = view.Stats.Pending
		resp.Retryable = view.Stats.Retryable
		resp.SuccessRate = view.Stats.SuccessRate
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *BatchHandler) ListDisbursementDetails(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	opts, err := parseListOptions(c)
	if err != nil {
		return err
	}

	items, err := h.service.ListDetails(c.Context(), id, opts)
	if err != nil {
		return err
	}

	data := make([]detailItemResponse, 0, len(items))
	for _, item := range items {
		data = append(data, detailItemResponse{
			ID:           item.ID,
			Address:      item.WalletAddress,
			Amount:       item.Amount.String(),
			Sent:         string(item.Sent),
			AttemptCount: item.AttemptCount,
			ResultCode:   item.LastResultCode,
			ErrorMessage: item.LastErrorMessage,
			UpdatedAt:    item.UpdatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listDetailsResponse{
		BatchID: id,
		Data:    data,
	})
}

func parseListOptions(c *fiber.Ctx) (repository.ListOptions, error) {
	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		return repository.ListOptions{}, fmt.Errorf("%w: limit must be between 1 and %d",
			domain.ErrValidation, maxPageSize)
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		return repository.ListOptions{}, fmt.Errorf("%w: offset must be >= 0", domain.ErrValidation)
	}

	opts := repository.ListOptions{
		Decrypt: c.QueryBool("decrypt", false),
		Limit:   &limit,
		Offset:  offset,
	}

	if rawSent := strings.TrimSpace(c.Query("sent")); rawSent != "" {
		flag := domain.SentFlag(strings.ToUpper(rawSent))
		if flag != domain.SentYes && flag != domain.SentNo {
			return repository.ListOptions{}, fmt.Errorf("%w: sent must be Y or N", domain.ErrValidation)
		}
		opts.SentFilter = &flag
	}

	return opts, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

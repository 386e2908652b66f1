package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/tokenops/custody-engine/internal/domain"
	"github.com/tokenops/custody-engine/internal/service"
)

type CustodyService interface {
	Create(ctx context.Context, sender, recipient string, amount decimal.Decimal) (*service.CreateTransferResult, error)
	Finalize(ctx context.Context, contractID, counterpartySig string) (*service.FinalizeResult, error)
	Get(ctx context.Context, id string) (*domain.Contract, error)
}

type TransferHandler struct {
	service CustodyService
}

func NewTransferHandler(service CustodyService) (*TransferHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("custody service is required")
	}
	return &TransferHandler{service: service}, nil
}

func RegisterTransferRoutes(router fiber.Router, service CustodyService) error {
	h, err := NewTransferHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/transfers", h.CreateTransfer)
	v1.Post("/transfers/:id/finalize", h.FinalizeTransfer)
	v1.Get("/transfers/:id", h.GetTransfer)

	return nil
}

type createTransferRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type createTransferResponse struct {
	ContractID      string `json:"contractId"`
	SerializedTx    string `json:"serializedTx"`
	Blockhash       string `json:"blockhash"`
	LastValidHeight uint64 `json:"lastValidHeight"`
}

type finalizeTransferRequest struct {
	Signature string `json:"signature"`
}

type finalizeTransferResponse struct {
	ContractID string `json:"contractId"`
	TxID       string `json:"txId"`
	Confirmed  bool   `json:"confirmed"`
}

type transferResponse struct {
	ContractID string    `json:"contractId"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	FeePayer   string    `json:"feePayer"`
	Amount     string    `json:"amount"`
	Finalized  bool      `json:"finalized"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (h *TransferHandler) CreateTransfer(c *fiber.Ctx) error {
	var req createTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "amount must be a decimal number")
	}

	result, err := h.service.Create(c.Context(), req.Sender, req.Recipient, amount)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(createTransferResponse{
		ContractID:      result.ContractID,
		SerializedTx:    result.SerializedTx,
		Blockhash:       result.Blockhash,
		LastValidHeight: result.LastValidHeight,
	})
}

func (h *TransferHandler) FinalizeTransfer(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req finalizeTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Finalize(c.Context(), id, req.Signature)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(finalizeTransferResponse{
		ContractID: id,
		TxID:       result.TxID,
		Confirmed:  result.Confirmed,
	})
}

func (h *TransferHandler) GetTransfer(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	contract, err := h.service.Get(c.Context(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(transferResponse{
		ContractID: contract.ID,
		Sender:     contract.Sender,
		Recipient:  contract.Recipient,
		FeePayer:   contract.FeePayer,
		Amount:     contract.Amount.String(),
		Finalized:  contract.IsFinalized(),
		CreatedAt:  contract.CreatedAt,
		UpdatedAt:  contract.UpdatedAt,
	})
}

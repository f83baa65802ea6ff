package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/fenlabs/ballast/pkg/types"
)

var validate = validator.New()

// mutationBody is the submit-mutation request payload. Amounts travel as
// strings so client JSON libraries cannot round them through float64.
type mutationBody struct {
	TransactionID string            `json:"transaction_id" validate:"required,max=128"`
	AccountID     int64             `json:"account_id" validate:"required,gt=0"`
	Currency      string            `json:"currency" validate:"required,min=2,max=16"`
	Kind          string            `json:"kind" validate:"required"`
	Amount        string            `json:"amount" validate:"required"`
	PartitionKey  string            `json:"partition_key,omitempty" validate:"max=128"`
	Description   string            `json:"description,omitempty" validate:"max=256"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type accountBody struct {
	AccountKey string `json:"account_key" validate:"required,max=128"`
}

type balanceResponse struct {
	AccountID int64     `json:"account_id"`
	Currency  string    `json:"currency"`
	Available string    `json:"available"`
	Frozen    string    `json:"frozen"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type transactionResponse struct {
	TransactionID   string    `json:"transaction_id"`
	AccountID       int64     `json:"account_id"`
	Currency        string    `json:"currency"`
	Kind            string    `json:"kind"`
	Amount          string    `json:"amount"`
	AvailableBefore string    `json:"available_before"`
	AvailableAfter  string    `json:"available_after"`
	FrozenBefore    string    `json:"frozen_before"`
	FrozenAfter     string    `json:"frozen_after"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type accountResponse struct {
	ID         int64     `json:"id"`
	AccountKey string    `json:"account_key"`
	ShardID    int32     `json:"shard_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// handleMutate accepts a mutation and returns 202 with the outbox event id.
// Acceptance means durably queued, not yet applied; callers poll the
// transaction endpoint for the outcome.
func (s *Server) handleMutate(c *fiber.Ctx) error {
	var body mutationBody
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, types.WrapE(types.KindValidation, "malformed request body", err))
	}
	if err := validate.Struct(&body); err != nil {
		return writeError(c, types.WrapE(types.KindValidation, "invalid request", err))
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return writeError(c, types.Ef(types.KindValidation, "amount %q is not a decimal", body.Amount))
	}

	eventID, err := s.core.Mutate(c.UserContext(), &types.MutationRequest{
		TransactionID: body.TransactionID,
		AccountID:     body.AccountID,
		PartitionKey:  body.PartitionKey,
		Currency:      body.Currency,
		Kind:          types.MutationKind(body.Kind),
		Amount:        amount,
		Description:   body.Description,
		Metadata:      body.Metadata,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event_id":       eventID,
		"transaction_id": body.TransactionID,
	})
}

func (s *Server) handleQuery(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("account")
	if err != nil || accountID <= 0 {
		return writeError(c, types.E(types.KindValidation, "account must be a positive integer"))
	}

	b, err := s.core.Query(c.UserContext(), int64(accountID), c.Params("currency"))
	if err != nil {
		if types.IsKind(err, types.KindUnknownBalance) {
			return c.Status(fiber.StatusNotFound).JSON(errorBody(err))
		}
		return writeError(c, err)
	}
	return c.JSON(toBalanceResponse(b))
}

// handleLedgerHistory lists recent ledger rows for one balance, newest
// first. An account with no history yet returns an empty list, not 404:
// absence of rows is a valid answer here.
func (s *Server) handleLedgerHistory(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("account")
	if err != nil || accountID <= 0 {
		return writeError(c, types.E(types.KindValidation, "account must be a positive integer"))
	}

	entries, err := s.core.LedgerHistory(c.UserContext(), int64(accountID), c.Params("currency"), c.QueryInt("limit"))
	if err != nil {
		return writeError(c, err)
	}

	out := make([]transactionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toTransactionResponse(e))
	}
	return c.JSON(fiber.Map{"entries": out})
}

func (s *Server) handleTransaction(c *fiber.Ctx) error {
	e, err := s.core.TransactionStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if e == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fiber.Map{
				"kind":    "not_found",
				"message": "transaction not processed yet",
			},
		})
	}
	return c.JSON(toTransactionResponse(e))
}

func (s *Server) handleCreateAccount(c *fiber.Ctx) error {
	var body accountBody
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, types.WrapE(types.KindValidation, "malformed request body", err))
	}
	if err := validate.Struct(&body); err != nil {
		return writeError(c, types.WrapE(types.KindValidation, "invalid request", err))
	}

	acc, err := s.core.CreateAccount(c.UserContext(), body.AccountKey)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toAccountResponse(acc))
}

func (s *Server) handleGetAccount(c *fiber.Ctx) error {
	acc, err := s.core.GetAccount(c.UserContext(), c.Params("key"))
	if err != nil {
		return writeError(c, err)
	}
	if acc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fiber.Map{
				"kind":    "not_found",
				"message": "account not found",
			},
		})
	}
	return c.JSON(toAccountResponse(acc))
}

// writeError maps a domain error kind onto an HTTP status.
func writeError(c *fiber.Ctx, err error) error {
	var status int
	switch types.KindOf(err) {
	case types.KindValidation:
		status = fiber.StatusBadRequest
	case types.KindDuplicate:
		status = fiber.StatusConflict
	case types.KindInsufficientFunds, types.KindUnknownBalance:
		status = fiber.StatusUnprocessableEntity
	default:
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(errorBody(err))
}

func errorBody(err error) fiber.Map {
	return fiber.Map{
		"error": fiber.Map{
			"kind":    string(types.KindOf(err)),
			"message": err.Error(),
		},
	}
}

func toBalanceResponse(b *types.Balance) balanceResponse {
	return balanceResponse{
		AccountID: b.AccountID,
		Currency:  b.Currency,
		Available: b.Available.String(),
		Frozen:    b.Frozen.String(),
		Version:   b.Version,
		UpdatedAt: b.UpdatedAt,
	}
}

func toTransactionResponse(e *types.LedgerEntry) transactionResponse {
	return transactionResponse{
		TransactionID:   e.TransactionID,
		AccountID:       e.AccountID,
		Currency:        e.Currency,
		Kind:            string(e.Kind),
		Amount:          e.Amount.String(),
		AvailableBefore: e.AvailableBefore.String(),
		AvailableAfter:  e.AvailableAfter.String(),
		FrozenBefore:    e.FrozenBefore.String(),
		FrozenAfter:     e.FrozenAfter.String(),
		Status:          string(e.Status),
		ErrorMessage:    e.ErrorMessage,
		CreatedAt:       e.CreatedAt,
	}
}

func toAccountResponse(a *types.Account) accountResponse {
	return accountResponse{
		ID:         a.ID,
		AccountKey: a.AccountKey,
		ShardID:    a.ShardID,
		CreatedAt:  a.CreatedAt,
	}
}

package handlers

import (
	"github.com/amirphl/Susanoo/app/dto"
	businessflow "github.com/amirphl/Susanoo/business_flow"
	"github.com/gofiber/fiber/v3"
)

// AccountHandlerInterface defines the contract for CRM account handlers
type AccountHandlerInterface interface {
	Register(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Deactivate(c fiber.Ctx) error
}

// AccountHandler handles connected CRM account requests
type AccountHandler struct {
	responder
	flow businessflow.AccountFlow
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(flow businessflow.AccountFlow) *AccountHandler {
	return &AccountHandler{
		responder: newResponder(),
		flow:      flow,
	}
}

// Register connects a CRM account by its OAuth client registration
// @Router /api/v1/accounts [post]
func (h *AccountHandler) Register(c fiber.Ctx) error {
	var req dto.RegisterAccountRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.RegisterAccount(ctx, &req, clientMetadata(c))
	if err != nil {
		if businessflow.IsAccountAlreadyExists(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Account already exists", "ACCOUNT_ALREADY_EXISTS", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to register account", "CREATE_ACCOUNT_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Account registered successfully", result)
}

// List returns all connected accounts
// @Router /api/v1/accounts [get]
func (h *AccountHandler) List(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.ListAccounts(ctx)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list accounts", "FETCH_ACCOUNTS_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Accounts retrieved successfully", result)
}

// Get returns one connected account
// @Router /api/v1/accounts/{account} [get]
func (h *AccountHandler) Get(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.GetAccount(ctx, c.Params("account"))
	if err != nil {
		if businessflow.IsAccountNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Account not found", "ACCOUNT_NOT_FOUND", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch account", "FETCH_ACCOUNT_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Account retrieved successfully", result)
}

// Deactivate disables an account so new dispatches fail to resolve it
// @Router /api/v1/accounts/{account} [delete]
func (h *AccountHandler) Deactivate(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	if err := h.flow.DeactivateAccount(ctx, c.Params("account"), clientMetadata(c)); err != nil {
		if businessflow.IsAccountNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Account not found", "ACCOUNT_NOT_FOUND", nil)
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to deactivate account", "UPDATE_ACCOUNT_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Account deactivated", nil)
}

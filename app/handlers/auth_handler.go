package handlers

import (
	"github.com/amirphl/Susanoo/app/dto"
	businessflow "github.com/amirphl/Susanoo/business_flow"
	"github.com/gofiber/fiber/v3"
)

// AuthHandlerInterface defines the contract for operator token handlers
type AuthHandlerInterface interface {
	Refresh(c fiber.Ctx) error
}

// AuthHandler handles operator token rotation
type AuthHandler struct {
	responder
	flow businessflow.AuthFlow
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(flow businessflow.AuthFlow) *AuthHandler {
	return &AuthHandler{
		responder: newResponder(),
		flow:      flow,
	}
}

// Refresh exchanges a refresh token for a new token pair
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	var req dto.RefreshTokenRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.RefreshTokens(ctx, &req, clientMetadata(c))
	if err != nil {
		if businessflow.IsOperatorTokenExpired(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Refresh token has expired", "TOKEN_EXPIRED", nil)
		}
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", "TOKEN_INVALID", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Tokens refreshed successfully", result)
}

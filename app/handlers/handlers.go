// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/Susanoo/app/dto"
	"github.com/amirphl/Susanoo/app/middleware"
	businessflow "github.com/amirphl/Susanoo/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
)

const defaultRequestTimeout = 30 * time.Second

// responder renders the shared APIResponse envelope
type responder struct {
	validator *validator.Validate
}

func newResponder() responder {
	return responder{validator: validator.New()}
}

func (r responder) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (r responder) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes the 400 response on failure
func (r responder) validate(c fiber.Ctx, req any) (bool, error) {
	err := r.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var validationErrors []string
	if fieldErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrors {
			validationErrors = append(validationErrors, getValidationErrorMessage(fe))
		}
	} else {
		validationErrors = append(validationErrors, err.Error())
	}
	return false, r.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
}

func createRequestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// clientMetadata collects caller details for audit logging
func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	if id := requestid.FromContext(c); id != "" {
		metadata.SetRequestID(id)
	} else {
		metadata.SetRequestID(c.Get(businessflow.RequestIDKey))
	}
	if operatorID, ok := middleware.GetOperatorIDFromContext(c); ok {
		metadata.SetOperatorID(operatorID)
	}
	return metadata
}

func jobKeyRequest(c fiber.Ctx) *dto.JobKeyRequest {
	return &dto.JobKeyRequest{
		Platform:  c.Params("platform"),
		AccountID: c.Params("account"),
	}
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return err.Field() + " must be a valid email address"
	case "url":
		return err.Field() + " must be a valid URL"
	case "min":
		return err.Field() + " must contain at least " + err.Param() + " entries"
	case "max":
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

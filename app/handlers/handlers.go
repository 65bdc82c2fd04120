// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/pallet-allocator/app/dto"
	businessflow "github.com/amirphl/pallet-allocator/business_flow"
	"github.com/amirphl/pallet-allocator/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
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

func validationMessages(err error) []string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return messages
}

func errorResponse(c fiber.Ctx, statusCode int, message, code string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    code,
			Details: details,
		},
	})
}

func successResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// allocatorErrorResponse maps allocation failures to HTTP responses
func allocatorErrorResponse(c fiber.Ctx, err error, fallbackMessage string) error {
	var bounds *businessflow.BoundsError
	var exhausted *businessflow.ExhaustionError
	var partial *businessflow.PartialBatchError
	var businessErr *businessflow.BusinessError

	switch {
	case errors.As(err, &bounds):
		return errorResponse(c, fiber.StatusBadRequest, bounds.Error(), "COUNT_OUT_OF_BOUNDS", fiber.Map{
			"count": bounds.Count,
			"max":   bounds.Max,
		})
	case businessflow.IsStoreUnavailable(err):
		return errorResponse(c, fiber.StatusServiceUnavailable, "Allocator store is unavailable, please retry", "ALLOCATOR_UNAVAILABLE", nil)
	case errors.As(err, &exhausted):
		return errorResponse(c, fiber.StatusConflict, "No free series code could be found, please retry", "SERIES_EXHAUSTED", fiber.Map{
			"attempts": exhausted.Attempts,
		})
	case errors.As(err, &partial):
		return errorResponse(c, fiber.StatusConflict, "Series batch could not be completed, please retry", "SERIES_BATCH_SHORT", fiber.Map{
			"requested": partial.Requested,
			"produced":  partial.Produced,
			"attempts":  partial.Attempts,
		})
	case businessflow.IsReservationNotFound(err):
		return errorResponse(c, fiber.StatusNotFound, "Reservation not found", "RESERVATION_NOT_FOUND", nil)
	case errors.As(err, &businessErr):
		return errorResponse(c, fiber.StatusBadRequest, businessErr.Message, businessErr.Code, nil)
	default:
		return errorResponse(c, fiber.StatusInternalServerError, fallbackMessage, "INTERNAL_ERROR", nil)
	}
}

func clientMetadata(c fiber.Ctx, sessionID string) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(requestIDFrom(c))
	if sessionID == "" {
		sessionID = c.Get("X-Session-ID")
	}
	metadata.SetSessionID(sessionID)
	return metadata
}

func requestIDFrom(c fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	if id := c.GetRespHeader("X-Request-ID"); id != "" {
		return id
	}
	return c.Get("X-Request-ID")
}

// createRequestContext builds a detached context carrying request identity. The allocator
// call must run to completion once started, so the client connection does not cancel it.
func createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, requestIDFrom(c))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	return ctx, cancel
}

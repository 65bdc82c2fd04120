package handlers

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/pallet-allocator/app/dto"
	businessflow "github.com/amirphl/pallet-allocator/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// PalletHandlerInterface defines the identifier allocation endpoints
type PalletHandlerInterface interface {
	Reserve(c fiber.Ctx) error
	Confirm(c fiber.Ctx) error
	Release(c fiber.Ctx) error
	GenerateSeries(c fiber.Ctx) error
	GetReservation(c fiber.Ctx) error
	Diagnostics(c fiber.Ctx) error
}

// PalletHandler serves reserve/confirm/release for label printing clients
type PalletHandler struct {
	reservationFlow businessflow.ReservationFlow
	validator       *validator.Validate
	requestTimeout  time.Duration
}

func NewPalletHandler(reservationFlow businessflow.ReservationFlow, requestTimeout time.Duration) PalletHandlerInterface {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &PalletHandler{
		reservationFlow: reservationFlow,
		validator:       validator.New(),
		requestTimeout:  requestTimeout,
	}
}

// Reserve allocates pallet numbers and/or series codes
// @Summary Reserve identifiers
// @Tags Pallets
// @Accept json
// @Produce json
// @Param request body dto.ReserveRequest true "Count, session and identifier kind"
// @Success 200 {object} dto.APIResponse{data=dto.ReserveResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 409 {object} dto.APIResponse
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/pallets/reserve [post]
func (h *PalletHandler) Reserve(c fiber.Ctx) error {
	var req dto.ReserveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/pallets/reserve", h.requestTimeout)
	defer cancel()

	result, err := h.reservationFlow.Reserve(ctx, &req, clientMetadata(c, req.SessionID))
	if err != nil {
		log.Printf("Reserve failed (session %s): %v", req.SessionID, err)
		return allocatorErrorResponse(c, err, "Failed to reserve identifiers")
	}

	return successResponse(c, fiber.StatusOK, result.Message, result)
}

// Confirm marks identifiers as used
// @Summary Confirm reserved identifiers
// @Tags Pallets
// @Accept json
// @Produce json
// @Param request body dto.ReservationTransitionRequest true "Identifiers to confirm"
// @Success 200 {object} dto.APIResponse{data=dto.ReservationTransitionResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/pallets/confirm [post]
func (h *PalletHandler) Confirm(c fiber.Ctx) error {
	return h.transition(c, "/api/v1/pallets/confirm", h.reservationFlow.Confirm)
}

// Release marks identifiers as abandoned; their numbers are never reissued
// @Summary Release reserved identifiers
// @Tags Pallets
// @Accept json
// @Produce json
// @Param request body dto.ReservationTransitionRequest true "Identifiers to release"
// @Success 200 {object} dto.APIResponse{data=dto.ReservationTransitionResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/pallets/release [post]
func (h *PalletHandler) Release(c fiber.Ctx) error {
	return h.transition(c, "/api/v1/pallets/release", h.reservationFlow.Release)
}

type transitionFunc func(ctx context.Context, req *dto.ReservationTransitionRequest, metadata *businessflow.ClientMetadata) (*dto.ReservationTransitionResponse, error)

func (h *PalletHandler) transition(c fiber.Ctx, endpoint string, fn transitionFunc) error {
	var req dto.ReservationTransitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, endpoint, h.requestTimeout)
	defer cancel()

	result, err := fn(ctx, &req, clientMetadata(c, req.SessionID))
	if err != nil {
		log.Printf("%s failed (session %s): %v", endpoint, req.SessionID, err)
		return allocatorErrorResponse(c, err, "Failed to update reservation")
	}

	return successResponse(c, fiber.StatusOK, result.Message, result)
}

// GenerateSeries returns series codes without reservation bookkeeping
// @Summary Generate series codes
// @Tags Pallets
// @Accept json
// @Produce json
// @Param request body dto.GenerateSeriesRequest true "Count"
// @Success 200 {object} dto.APIResponse{data=dto.GenerateSeriesResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 409 {object} dto.APIResponse
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/pallets/series [post]
func (h *PalletHandler) GenerateSeries(c fiber.Ctx) error {
	var req dto.GenerateSeriesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/pallets/series", h.requestTimeout)
	defer cancel()

	result, err := h.reservationFlow.GenerateSeries(ctx, &req, clientMetadata(c, ""))
	if err != nil {
		log.Println("Series generation failed:", err)
		return allocatorErrorResponse(c, err, "Failed to generate series codes")
	}

	return successResponse(c, fiber.StatusOK, result.Message, result)
}

// GetReservation returns the state of every identifier in a reservation
// @Summary Get reservation
// @Tags Pallets
// @Produce json
// @Param id path string true "Reservation ID"
// @Success 200 {object} dto.APIResponse{data=dto.ReservationDetailResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/pallets/reservations/{id} [get]
func (h *PalletHandler) GetReservation(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/pallets/reservations", h.requestTimeout)
	defer cancel()

	result, err := h.reservationFlow.GetReservation(ctx, c.Params("id"))
	if err != nil {
		return allocatorErrorResponse(c, err, "Failed to retrieve reservation")
	}

	return successResponse(c, fiber.StatusOK, result.Message, result)
}

// Diagnostics reports today's counter and reservation totals
// @Summary Allocator diagnostics
// @Tags Pallets
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.AllocatorDiagnosticsResponse}
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/pallets/diagnostics [get]
func (h *PalletHandler) Diagnostics(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/pallets/diagnostics", h.requestTimeout)
	defer cancel()

	result, err := h.reservationFlow.Diagnostics(ctx)
	if err != nil {
		log.Println("Diagnostics failed:", err)
		return allocatorErrorResponse(c, err, "Failed to load diagnostics")
	}

	return successResponse(c, fiber.StatusOK, result.Message, result)
}

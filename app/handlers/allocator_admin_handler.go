package handlers

import (
	"log"
	"time"

	"github.com/amirphl/pallet-allocator/app/dto"
	businessflow "github.com/amirphl/pallet-allocator/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// AllocatorAdminHandlerInterface defines operational endpoints for the allocator
type AllocatorAdminHandlerInterface interface {
	RunStressTest(c fiber.Ctx) error
}

// AllocatorAdminHandler runs the concurrency verification harness on demand
type AllocatorAdminHandler struct {
	harness       businessflow.ConcurrencyHarness
	validator     *validator.Validate
	defaultFormat string
	timeout       time.Duration
}

func NewAllocatorAdminHandler(harness businessflow.ConcurrencyHarness, defaultFormat string, timeout time.Duration) AllocatorAdminHandlerInterface {
	if defaultFormat == "" {
		defaultFormat = "json"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &AllocatorAdminHandler{
		harness:       harness,
		validator:     validator.New(),
		defaultFormat: defaultFormat,
		timeout:       timeout,
	}
}

// RunStressTest fires concurrent reservations and reports uniqueness and latency
// @Summary Allocator stress test
// @Tags Admin Allocator
// @Accept json
// @Produce json
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param request body dto.StressTestRequest true "Callers and count per caller"
// @Success 200 {object} dto.APIResponse{data=dto.StressReport}
// @Failure 400 {object} dto.APIResponse
// @Failure 500 {object} dto.APIResponse
// @Router /api/v1/admin/allocator/stress [post]
func (h *AllocatorAdminHandler) RunStressTest(c fiber.Ctx) error {
	var req dto.StressTestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/admin/allocator/stress", h.timeout)
	defer cancel()

	report, err := h.harness.Run(ctx, &req)
	if err != nil {
		log.Println("Allocator stress test failed:", err)
		return allocatorErrorResponse(c, err, "Failed to run stress test")
	}

	format := req.Format
	if format == "" {
		format = h.defaultFormat
	}
	if format == "xlsx" {
		filename, data, err := businessflow.ExportStressReportXLSX(report)
		if err != nil {
			log.Println("Allocator stress report export failed:", err)
			return errorResponse(c, fiber.StatusInternalServerError, "Failed to export report", "EXPORT_FAILED", nil)
		}
		c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Set("Content-Disposition", "attachment; filename="+filename)
		return c.Send(data)
	}

	message := "Stress test passed"
	if !report.Passed {
		message = "Stress test detected duplicate or missing identifiers"
	}
	return successResponse(c, fiber.StatusOK, message, report)
}

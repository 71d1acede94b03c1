package handlers

import (
	"errors"
	"net/url"

	"github.com/amirphl/Susanoo/app/dto"
	businessflow "github.com/amirphl/Susanoo/business_flow"
	"github.com/gofiber/fiber/v3"
)

// JobHandlerInterface defines the contract for job control handlers
type JobHandlerInterface interface {
	Start(c fiber.Ctx) error
	Pause(c fiber.Ctx) error
	Resume(c fiber.Ctx) error
	Stop(c fiber.Ctx) error
	Reset(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Export(c fiber.Ctx) error
	LatestRun(c fiber.Ctx) error
}

// JobHandler handles job control HTTP requests
type JobHandler struct {
	responder
	flow businessflow.JobFlow
}

// NewJobHandler creates a new job handler
func NewJobHandler(flow businessflow.JobFlow) *JobHandler {
	return &JobHandler{
		responder: newResponder(),
		flow:      flow,
	}
}

// Start begins paced processing of the posted items for one account
// @Router /api/v1/jobs/{platform}/{account}/start [post]
func (h *JobHandler) Start(c fiber.Ctx) error {
	var req dto.StartJobRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.Platform = c.Params("platform")
	req.AccountID = c.Params("account")

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.StartJob(ctx, &req, clientMetadata(c))
	if err != nil {
		return h.jobError(c, err, "Failed to start job", "START_JOB_FAILED")
	}
	if !result.Accepted {
		return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
	}
	return h.SuccessResponse(c, fiber.StatusAccepted, result.Message, result)
}

// Pause holds a processing job before its next item
// @Router /api/v1/jobs/{platform}/{account}/pause [post]
func (h *JobHandler) Pause(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.PauseJob(ctx, jobKeyRequest(c), clientMetadata(c))
	if err != nil {
		return h.jobError(c, err, "Failed to pause job", "CONTROL_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, ackMessage(result, "Job paused"), result)
}

// Resume continues a paused job after a full delay
// @Router /api/v1/jobs/{platform}/{account}/resume [post]
func (h *JobHandler) Resume(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.ResumeJob(ctx, jobKeyRequest(c), clientMetadata(c))
	if err != nil {
		return h.jobError(c, err, "Failed to resume job", "CONTROL_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, ackMessage(result, "Job resumed"), result)
}

// Stop ends a job; results so far are kept
// @Router /api/v1/jobs/{platform}/{account}/stop [post]
func (h *JobHandler) Stop(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.StopJob(ctx, jobKeyRequest(c), clientMetadata(c))
	if err != nil {
		return h.jobError(c, err, "Failed to stop job", "CONTROL_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, ackMessage(result, "Job stopped"), result)
}

// Reset removes a job record that is not processing
// @Router /api/v1/jobs/{platform}/{account} [delete]
func (h *JobHandler) Reset(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.ResetJob(ctx, jobKeyRequest(c), clientMetadata(c))
	if err != nil {
		return h.jobError(c, err, "Failed to reset job", "RESET_JOB_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Job reset", result)
}

// List returns every job keyed by "{platform}-{account}"
// @Router /api/v1/jobs [get]
func (h *JobHandler) List(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.ListJobs(ctx)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list jobs", "LIST_JOBS_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Jobs retrieved successfully", result)
}

// Get returns one job
// @Router /api/v1/jobs/{platform}/{account} [get]
func (h *JobHandler) Get(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.GetJob(ctx, jobKeyRequest(c))
	if err != nil {
		return h.jobError(c, err, "Failed to fetch job", "FETCH_JOB_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Job retrieved successfully", result)
}

// Export downloads the job results as an XLSX workbook
// @Router /api/v1/jobs/{platform}/{account}/export [get]
func (h *JobHandler) Export(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	filename, data, err := h.flow.ExportJob(ctx, jobKeyRequest(c))
	if err != nil {
		return h.jobError(c, err, "Failed to generate Excel file", "DOWNLOAD_FAILED")
	}
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+url.PathEscape(filename))
	return c.Send(data)
}

// LatestRun returns the most recent archived terminal run of a job
// @Router /api/v1/jobs/{platform}/{account}/runs/latest [get]
func (h *JobHandler) LatestRun(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.LatestRun(ctx, jobKeyRequest(c))
	if err != nil {
		return h.jobError(c, err, "Failed to fetch job run", "FETCH_JOB_RUN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Job run retrieved successfully", result)
}

func (h *JobHandler) jobError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	switch {
	case businessflow.IsUnknownPlatform(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown platform", "UNKNOWN_PLATFORM", c.Params("platform"))
	case businessflow.IsJobNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Job not found", "JOB_NOT_FOUND", nil)
	case businessflow.IsJobRunNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "No archived run for this job", "JOB_RUN_NOT_FOUND", nil)
	case businessflow.IsJobActive(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Job is processing", "JOB_ACTIVE", nil)
	case businessflow.IsSchedulerNotRunning(err):
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Scheduler is shutting down", "SCHEDULER_NOT_RUNNING", nil)
	}

	var be *businessflow.BusinessError
	if errors.As(err, &be) && businessflow.IsValidationError(err) {
		return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, nil)
	}
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

func ackMessage(result *dto.JobControlResponse, changed string) string {
	if result.Changed {
		return changed
	}
	return "No change"
}

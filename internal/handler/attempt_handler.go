package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// AttemptHandler handles the attempt lifecycle endpoints.
type AttemptHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// Start godoc
// POST /api/v1/attempts/start/:exam_id
// Creates the student's attempt, or returns the open one (idempotent).
func (h *AttemptHandler) Start(c *gin.Context) {
	student, ok := middleware.CurrentUser(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID := c.Param("exam_id")
	if _, err := uuid.Parse(examID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	resp, err := h.attempts.Start(c.Request.Context(), examID, student)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, resp)
}

// Autosave godoc
// PATCH /api/v1/attempts/:attempt_id/autosave
// Stores the latest snapshot of an open attempt.
func (h *AttemptHandler) Autosave(c *gin.Context) {
	student, ok := middleware.CurrentUser(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.AutosavePayload
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.attempts.Autosave(c.Request.Context(), c.Param("attempt_id"), student, req)
	switch {
	case errors.Is(err, service.ErrStaleSnapshot):
		// Nothing to retry: the server already holds newer answers.
		response.Success(c, http.StatusOK, gin.H{"status": "superseded"})
	case err != nil:
		h.fail(c, err)
	default:
		response.Success(c, http.StatusOK, gin.H{"status": "saved"})
	}
}

// Submit godoc
// POST /api/v1/attempts/submit/:attempt_id
// Finalizes the attempt. A second submission returns 409.
func (h *AttemptHandler) Submit(c *gin.Context) {
	student, ok := middleware.CurrentUser(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitPayload
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.attempts.Submit(c.Request.Context(), c.Param("attempt_id"), student, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrNotAttemptOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotAttemptOwner)
	case errors.Is(err, service.ErrAttemptSubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAttemptSubmitted)
	case errors.Is(err, service.ErrUnknownQuestion):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrUnknownQuestion)
	case errors.Is(err, service.ErrInvalidAnswer):
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation,
			map[string]string{"answers": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Attempt request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

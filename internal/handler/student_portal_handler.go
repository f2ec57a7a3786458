package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// StudentPortalHandler handles student-facing exam endpoints.
type StudentPortalHandler struct {
	exams service.ExamProvider
	log   zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(exams service.ExamProvider, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		exams: exams,
		log:   log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// GetExam godoc
// GET /api/v1/student/exams/:exam_id
// Returns the exam with its questions. Answer keys are never included.
func (h *StudentPortalHandler) GetExam(c *gin.Context) {
	if _, ok := middleware.CurrentUser(c); !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID := c.Param("exam_id")
	if _, err := uuid.Parse(examID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.exams.GetExam(c.Request.Context(), examID)
	if err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
			return
		}
		h.log.Error().Err(err).Str("exam_id", examID).Msg("Get exam failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	// The owner is not student-facing.
	out := *exam
	out.TeacherID = ""
	response.Success(c, http.StatusOK, gin.H{"exam": out})
}

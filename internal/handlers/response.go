package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondDomainError maps the pipeline's typed failures onto HTTP statuses.
func RespondDomainError(c *gin.Context, err error) {
	var (
		dup       *apperrors.DuplicateDataError
		format    *apperrors.DataFormatError
		validate  *apperrors.DataValidationError
		unsched   *apperrors.UnschedulableJobTypeError
		scheduled *apperrors.JobAlreadyScheduledError
		preflight *apperrors.PreflightCheckError
	)
	switch {
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{
			"error":     APIError{Message: err.Error(), Code: "duplicate_data"},
			"report_id": dup.ReportID,
		})
	case errors.As(err, &format):
		RespondError(c, http.StatusBadRequest, "invalid_data", err)
	case errors.As(err, &validate):
		RespondError(c, http.StatusBadRequest, "invalid_data", err)
	case errors.As(err, &unsched):
		RespondError(c, http.StatusBadRequest, "unschedulable", err)
	case errors.As(err, &scheduled):
		RespondError(c, http.StatusConflict, "already_scheduled", err)
	case errors.As(err, &preflight):
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"error":         APIError{Message: err.Error(), Code: "preflight_failed"},
			"missing_files": preflight.MissingFiles,
		})
	case apperrors.Is(err, apperrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}

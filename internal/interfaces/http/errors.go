package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// StatusFor maps a domain error to its HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrValidation), errors.Is(err, entity.ErrUnknownAgentType):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrAlreadyResolved), errors.Is(err, entity.ErrApprovalExpired):
		return http.StatusConflict
	case errors.Is(err, entity.ErrAutonomyExceeded):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrBrakeActive):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		msg = "internal error"
	}
	c.JSON(status, Response{Success: false, Error: msg})
}

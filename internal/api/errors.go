package api

import (
	"github.com/gin-gonic/gin"

	"github.com/persistorai/docmigrate/internal/httputil"
	"github.com/persistorai/docmigrate/internal/metrics"
)

// Error codes for API responses.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "verification_in_progress"
	ErrCodeInternalError  = "internal_error"
	ErrCodeUnavailable    = "unavailable"
)

func respondError(c *gin.Context, status int, code, message string) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	httputil.RespondError(c, status, code, message)
}

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"interviewly/internal/upload"
)

// writeUploadError maps upload validation and scan failures. It reports false
// when err is not an upload error.
func writeUploadError(c *gin.Context, logger *slog.Logger, err error) bool {
	switch {
	case errors.Is(err, upload.ErrUnsupportedType):
		BadRequest(c, "File type not supported. Allowed: "+strings.Join(upload.DocumentExts, ", "))
	case errors.Is(err, upload.ErrTooLarge):
		Error(c, http.StatusRequestEntityTooLarge, "File too large. Maximum size is 10MB")
	case errors.Is(err, upload.ErrEmpty):
		BadRequest(c, "Uploaded file is empty")
	case errors.Is(err, upload.ErrInfected):
		logger.Warn("infected upload rejected", slog.Any("error", err))
		BadRequest(c, "File rejected by virus scan")
	default:
		return false
	}
	return true
}

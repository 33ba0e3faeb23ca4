package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/pkg/logger"
)

// Error codes used by handlers that are not carried by a domain error
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Error messages as constants for consistency
const (
	MsgInvalidRequest = "Invalid request payload"
	MsgInternalError  = "Internal server error"
)

// statusFor maps a domain error onto an HTTP status
func statusFor(err error) int {
	switch {
	case apperrors.IsInvalidInput(err):
		return http.StatusBadRequest
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsForbidden(err):
		return http.StatusForbidden
	case apperrors.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrInsufficientBalance), errors.Is(err, apperrors.ErrTransactionReverted):
		return http.StatusUnprocessableEntity
	case apperrors.IsServiceUnavailable(err):
		return http.StatusServiceUnavailable
	case apperrors.IsChainError(err), apperrors.IsAttestationError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, entities.ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: getRequestID(c),
	})
}

// respondBadRequest sends a bad request error
func respondBadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, message, nil)
}

// handleError renders err. Unclassified errors are logged and their text is withheld.
func handleError(c *gin.Context, log *logger.Logger, err error) {
	_ = c.Error(err)

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			"request_id", getRequestID(c),
			"path", c.FullPath(),
			"error", err)
		respondError(c, status, ErrCodeInternalError, MsgInternalError, nil)
		return
	}

	respondError(c, status, apperrors.GetErrorCode(err), err.Error(), apperrors.GetErrorDetails(err))
}

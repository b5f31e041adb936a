// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/tunevault-backend/internal/services"
	"github.com/javajoker/tunevault-backend/internal/utils"
)

// respondError maps a service error kind to its HTTP status. details, when
// not nil, travels in the error envelope.
func respondError(c *gin.Context, err error, details interface{}) {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &validationErrs):
		utils.ValidationErrorResponse(c, utils.GetValidationErrors(validationErrs))
	case errors.Is(err, services.ErrValidation):
		utils.ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST", err.Error(), details)
	case errors.Is(err, services.ErrNotFound):
		utils.ErrorResponse(c, http.StatusNotFound, "NOT_FOUND", err.Error(), details)
	case errors.Is(err, services.ErrOwnership):
		utils.ErrorResponse(c, http.StatusForbidden, "FORBIDDEN", err.Error(), details)
	case errors.Is(err, services.ErrStateConflict):
		utils.ErrorResponse(c, http.StatusConflict, "CONFLICT", err.Error(), details)
	case errors.Is(err, services.ErrRemoteTransient):
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", err.Error(), details)
	case errors.Is(err, services.ErrRemoteRejected):
		utils.ErrorResponse(c, http.StatusBadGateway, "LEDGER_REJECTED", err.Error(), details)
	default:
		logrus.WithFields(logrus.Fields{
			"request_id": c.GetString(utils.ContextRequestID),
			"method":     c.Request.Method,
			"path":       c.FullPath(),
		}).WithError(err).Error("Request failed")
		utils.InternalErrorResponse(c, "")
	}
}

// currentUserID reads the authenticated user. It writes the 401 itself when
// the context carries no valid user.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}
	return userID, true
}

func pathID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+what+" ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

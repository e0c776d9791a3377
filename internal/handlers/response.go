package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxbridge/voxbridge-backend/internal/requestdata"
	"github.com/voxbridge/voxbridge-backend/internal/services"
)

// authedRequestData returns the identity the auth middleware attached to
// the request, failing the request when it is absent.
func authedRequestData(c *gin.Context) (*requestdata.RequestData, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return nil, false
	}
	return rd, true
}

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

// RespondServiceError maps the service-layer error kinds onto the HTTP
// codes of the API contract. Anything unrecognised is a 500: transient
// faults surface here after the adapters exhausted their retries.
func RespondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		RespondError(c, http.StatusBadRequest, "validation", err)
	case errors.Is(err, services.ErrUnauthorized):
		RespondError(c, http.StatusUnauthorized, "unauthorized", err)
	case errors.Is(err, services.ErrSessionMismatch):
		RespondError(c, http.StatusForbidden, "session_mismatch", err)
	case errors.Is(err, services.ErrForbidden):
		RespondError(c, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, services.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, services.ErrConflict):
		RespondError(c, http.StatusBadRequest, "conflict", err)
	case errors.Is(err, services.ErrAlreadyOnline):
		RespondError(c, http.StatusForbidden, "already_online", err)
	case errors.Is(err, services.ErrNoAssignment):
		RespondError(c, http.StatusBadRequest, "no_assignment", err)
	case errors.Is(err, services.ErrNotInProgress):
		RespondError(c, http.StatusBadRequest, "not_in_progress", err)
	case errors.Is(err, services.ErrJobAborting):
		RespondError(c, http.StatusMethodNotAllowed, "job_aborting", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", errors.New("try again shortly"))
	}
}

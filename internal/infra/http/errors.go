package http

import (
	"errors"
	"net/http"

	"octo/internal/domain"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps domain errors to status codes. Policy rejections are checked first since they wrap their cause.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrPolicyRejected):
		status, code = http.StatusUnauthorized, "POLICY_REJECTED"
	case errors.Is(err, domain.ErrFederationDisabled):
		status, code = http.StatusServiceUnavailable, "FEDERATION_DISABLED"
	case errors.Is(err, domain.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrSigningKeyMissing):
		status, code = http.StatusServiceUnavailable, "SIGNING_KEY_MISSING"
	case errors.Is(err, domain.ErrUnknownNode):
		status, code = http.StatusUnauthorized, "UNKNOWN_NODE"
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/assetforge/assetforge-backend/internal/pkg/apierr"
)

type APIError struct {
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError maps any error onto the JSON envelope; the machine code comes
// from the classified apierr, never from message text.
func RespondError(c *gin.Context, err error) {
	ae := apierr.From(err)
	c.JSON(ae.HTTPStatusCode(), ErrorEnvelope{
		Error: APIError{
			Message: ae.Message,
			Code:    ae.Code,
			Detail:  ae.Extra,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

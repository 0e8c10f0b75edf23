package response

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/threshold-orchestrator/internal/platform/apierr"
	"github.com/yungbote/threshold-orchestrator/internal/platform/ctxutil"
)

type APIError struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	RespondAPIError(c, apierr.New(status, code, err))
}

// RespondAPIError renders err with the status and code it carries, 500 otherwise.
func RespondAPIError(c *gin.Context, err error) {
	ae := apierr.From(err)
	if ae.Err != nil {
		_ = c.Error(ae.Err)
	}
	if ae.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(ae.RetryAfter.Seconds()))))
	}
	body := APIError{Message: ae.Message(), Code: ae.Code}
	if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil {
		body.RequestID = rd.RequestID
	}
	if body.Message == "" {
		body.Message = "unknown error"
	}
	c.AbortWithStatusJSON(ae.Status, ErrorEnvelope{Error: body})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}

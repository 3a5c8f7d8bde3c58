package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobsched/internal/shared"
)

// envelope is the shape of every response body.
type envelope struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondOK(c *gin.Context, data any) {
	respond(c, http.StatusOK, data, nil)
}

func respondCreated(c *gin.Context, data any) {
	respond(c, http.StatusCreated, data, nil)
}

// respondError maps the error kind to a status code.
func respondError(c *gin.Context, err error) {
	kind := shared.KindOf(err)
	respond(c, statusOf(kind), nil, &apiError{Code: kind.String(), Message: err.Error()})
}

func respond(c *gin.Context, status int, data any, apiErr *apiError) {
	resp := envelope{
		Status:    "ok",
		RequestID: c.GetString(requestIDKey),
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	}
	c.JSON(status, resp)
}

func statusOf(kind shared.Kind) int {
	switch kind {
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindConflict, shared.KindInvalidTransition:
		return http.StatusConflict
	case shared.KindDependencyFailure:
		return http.StatusServiceUnavailable
	case shared.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

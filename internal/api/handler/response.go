package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/docpipe/internal/api/middleware"
	"github.com/timmy/docpipe/internal/auth"
	"github.com/timmy/docpipe/internal/service"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Status     string      `json:"status"`
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Envelope{Status: "success", StatusCode: status, Message: message, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{Status: "error", StatusCode: status, Message: message})
}

// writeError maps service errors to HTTP statuses. Unknown errors are logged
// and reported without detail.
func writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyInProgress), errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		status = http.StatusUnauthorized
	default:
		middleware.GetLogger(c).WithError(err).Error("Request failed")
		fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	fail(c, status, err.Error())
}

// pageParams reads ?page and ?limit; invalid values fall back to defaults downstream.
func pageParams(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.Query("page"))
	limit, _ = strconv.Atoi(c.Query("limit"))
	return page, limit
}

// requirePrincipal returns the caller or writes 401.
func requirePrincipal(c *gin.Context) (*auth.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Authentication required")
	}
	return p, ok
}

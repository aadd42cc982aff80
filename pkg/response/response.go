package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Body is the envelope every JSON endpoint returns.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Body{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Body{Success: false, Error: msg})
}

// OK sends 200 with data.
func OK(c *gin.Context, data interface{}) { ok(c, http.StatusOK, data) }

// Created sends 201 with data.
func Created(c *gin.Context, data interface{}) { ok(c, http.StatusCreated, data) }

// NoContent sends 204.
func NoContent(c *gin.Context) { c.Status(http.StatusNoContent) }

// BadRequest sends 400.
func BadRequest(c *gin.Context, msg string) { fail(c, http.StatusBadRequest, msg) }

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, msg string) { fail(c, http.StatusUnauthorized, msg) }

// NotFound sends 404.
func NotFound(c *gin.Context, msg string) { fail(c, http.StatusNotFound, msg) }

// Conflict sends 409.
func Conflict(c *gin.Context, msg string) { fail(c, http.StatusConflict, msg) }

// TooManyRequests sends 429 and sets Retry-After when a positive
// number of seconds is known.
func TooManyRequests(c *gin.Context, msg string, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	fail(c, http.StatusTooManyRequests, msg)
}

// Internal sends 500.
func Internal(c *gin.Context, msg string) { fail(c, http.StatusInternalServerError, msg) }

package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/jobdesk-go/internal/jobs"
)

// Error represents a structured error response.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Envelope wraps successful data or an error.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// AbortError records an error and aborts the handler. The response will be
// rendered by the Errors middleware.
func AbortError(c *gin.Context, status int, code, message string, fields map[string]string) {
	c.Set("app_error", &Error{Code: code, Message: message, FieldErrors: fields})
	c.AbortWithStatus(status)
}

// RenderError maps a job or catalog error onto an HTTP status and records it
// for the Errors middleware. The cause is logged, never sent.
func RenderError(c *gin.Context, err error) {
	c.Set("app_cause", err)
	kind := jobs.Kind(err)
	switch kind {
	case jobs.KindNotFound:
		AbortError(c, http.StatusNotFound, kind, "not found", nil)
	case jobs.KindValidation:
		var ve *jobs.ValidationError
		errors.As(err, &ve)
		AbortError(c, http.StatusBadRequest, kind, "invalid input", ve.Fields)
	case jobs.KindConflict:
		AbortError(c, http.StatusConflict, kind, "already exists", nil)
	case jobs.KindInconsistentState:
		AbortError(c, http.StatusInternalServerError, kind, "inconsistent state", nil)
	case jobs.KindStore:
		AbortError(c, http.StatusInternalServerError, kind, "store unavailable", nil)
	default:
		AbortError(c, http.StatusInternalServerError, jobs.KindInternal, "internal error", nil)
	}
}

// BindJSON decodes the request body into dst, rendering a 400 on failure.
func BindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := map[string]string{}
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		AbortError(c, http.StatusBadRequest, jobs.KindValidation, "invalid input", fields)
		return false
	}
	AbortError(c, http.StatusBadRequest, jobs.KindValidation, "invalid json", nil)
	return false
}

// Errors emits a JSON error envelope and structured log entry when an error
// was recorded via AbortError.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		v, ok := c.Get("app_error")
		if !ok {
			return
		}
		err, ok := v.(*Error)
		if !ok {
			return
		}
		status := c.Writer.Status()
		ev := log.Ctx(c.Request.Context()).Warn()
		if status >= http.StatusInternalServerError {
			ev = log.Ctx(c.Request.Context()).Error()
		}
		ev = ev.Str("code", err.Code)
		if cause, ok := c.Get("app_cause"); ok {
			if e, ok := cause.(error); ok {
				ev = ev.Err(e)
			}
		}
		for k, v := range err.FieldErrors {
			ev = ev.Str("field_"+k, v)
		}
		ev.Msg(err.Message)
		c.JSON(status, Envelope{Error: err})
	}
}

package middleware

import (
	"net/http"

	apperrors "hubcom/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error. Responses already on the wire, including upgraded relay sockets,
// are only logged.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			appErr = apperrors.NewInternalError(err, "internal server error")
		}

		log := logger.With("path", c.Request.URL.Path, "method", c.Request.Method, "code", appErr.Code)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.Errorw(appErr.Message, "error", err, "context", appErr.Context)
		} else {
			log.Infow(appErr.Message, "context", appErr.Context)
		}

		if c.Writer.Written() {
			return
		}
		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 for the request and
// keeps the relay process alive.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Errorw("panic recovered", "panic", rec, "path", c.Request.URL.Path, "method", c.Request.Method)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   string(apperrors.ErrCodeInternal),
				"message": "internal server error",
			})
		}()
		c.Next()
	}
}

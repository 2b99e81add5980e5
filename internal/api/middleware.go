package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500
)

// quietPaths are polled by infrastructure and logged at debug level only.
var quietPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// ZerologLogger is a Gin middleware that logs requests using zerolog.
func ZerologLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		method := c.Request.Method

		// deferred so a request unwound by http.ErrAbortHandler is still logged
		defer logRequest(c, start, path, raw, method)

		c.Next()
	}
}

func logRequest(c *gin.Context, start time.Time, path, raw, method string) {
	status := c.Writer.Status()
	var evt *zerolog.Event
	switch {
	case status >= statusErrorThreshold:
		evt = log.Error()
	case status >= statusWarnThreshold:
		evt = log.Warn()
	default:
		evt = log.Info()
		if _, quiet := quietPaths[path]; quiet {
			evt = log.Debug()
		}
	}

	if raw != "" {
		path = path + "?" + raw
	}
	if taskID := c.Param("taskId"); taskID != "" {
		evt = evt.Str("task_id", taskID)
	}

	evt.
		Int("status", status).
		Str("method", method).
		Str("path", path).
		Dur("latency", time.Since(start)).
		Str("client_ip", c.ClientIP()).
		Int("bytes", c.Writer.Size()).
		Str("user_agent", c.Request.UserAgent()).
		Msg("http request completed")
}

// ZerologRecovery turns handler panics into a logged 500. http.ErrAbortHandler is re-raised
// so net/http can drop the connection of a response that was already partially sent.
func ZerologRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(recovered)
			}
			log.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("handler panic recovered")
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}()
		c.Next()
	}
}

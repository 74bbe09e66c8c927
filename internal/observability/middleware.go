package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RequestIDHeader = "X-Request-ID"

	// Context keys handlers may set to annotate the access log.
	KeyRequestID = "request_id"
	KeyTaskKind  = "task_kind"
	KeyTrigger   = "trigger_result"

	unmatchedRoute = "unmatched"
)

// HTTPMiddleware logs and counts every request against serviceID. Requests
// carry an X-Request-ID, taken from the caller or generated, which is echoed
// on the response and attached to the access log.
func HTTPMiddleware(serviceID string) gin.HandlerFunc {
	logger := ComponentLogger("http", serviceID)
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(KeyRequestID, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		// Unrouted paths share one label so scanners cannot grow the series.
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		elapsed := time.Since(start)
		RecordHTTPRequest(serviceID, c.Request.Method, route, status, elapsed)

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event = event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size())
		if route == unmatchedRoute {
			event = event.Str("path", c.Request.URL.Path)
		}
		event = withTask(event, c)
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("http_request")
	}
}

func withTask(event *zerolog.Event, c *gin.Context) *zerolog.Event {
	if kind := c.GetString(KeyTaskKind); kind != "" {
		event = event.Str("task_kind", kind)
		if trigger, ok := c.Get(KeyTrigger); ok {
			event = event.Interface("trigger_result", trigger)
		}
	}
	return event
}

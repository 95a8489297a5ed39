package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Request context keys set by the peer once a socket hello is admitted.
const (
	HostIDKey    = "peerlink.host_id"
	SessionIDKey = "peerlink.session_id"
)

// RequestLogger logs each peer HTTP request tagged with peerID. Socket
// upgrades also carry the admitted host and session, or the handshake error.
func RequestLogger(logger zerolog.Logger, peerID string) gin.HandlerFunc {
	logger = logger.With().Str("peer_id", peerID).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Debug()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400 || len(c.Errors) > 0:
			event = logger.Warn()
		}
		if host := c.GetString(HostIDKey); host != "" {
			event = event.Str("host_id", host).Str("session_id", c.GetString(SessionIDKey))
		}
		if last := c.Errors.Last(); last != nil {
			event = event.Str("error", last.Error())
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("peer_request")
	}
}

func RequestMetricsMiddleware(peerID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		RecordHTTPRequest(peerID, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request. Health probes log at debug.
func RequestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})

		if rid := GetRequestID(c); rid != "" {
			entry = entry.WithField("request_id", rid)
		}

		if cid := c.GetString("client_request_id"); cid != "" {
			entry = entry.WithField("client_request_id", cid)
		}

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request")
		case c.FullPath() == "/api/v1/health" || c.FullPath() == "/metrics":
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}

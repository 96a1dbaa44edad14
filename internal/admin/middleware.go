package admin

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/metrics"
)

// requestLogger logs one line per request. Server errors log at error
// level, client errors at warn, everything else at debug so scrapes do not
// flood the log.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		logf := clog.Debug
		switch {
		case status >= 500:
			logf = clog.Error
		case status >= 400:
			logf = clog.Warn
		}
		logf("admin: %s %s %d %s from %s (%d bytes)",
			c.Request.Method, routePath(c), status, time.Since(start), c.ClientIP(), c.Writer.Size())
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.RecordHTTPRequest(c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

// routePath prefers the matched route template so unknown paths do not
// create unbounded label values.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

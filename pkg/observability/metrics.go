package observability

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PrometheusHandler returns a Gin handler for Prometheus metrics
func PrometheusHandler(handler http.Handler) gin.HandlerFunc {
	if handler == nil {
		return func(c *gin.Context) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "metrics_unavailable",
				"message": "metrics handler not initialized",
			})
		}
	}
	return gin.WrapH(handler)
}

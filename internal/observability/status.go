package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusSource is what the debug surface reports about a running node.
type StatusSource interface {
	NodeID() uint32
	NumNodes() int
	Started() time.Time
	ShuttingDown() bool
}

// NewStatusRouter builds the node's debug HTTP surface: health, readiness,
// the cluster shape, and the Prometheus scrape endpoint.
func NewStatusRouter(src StatusSource) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"node":   src.NodeID(),
			"uptime": time.Since(src.Started()).String(),
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		ready := !src.ShuttingDown()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready": ready,
			"node":  src.NodeID(),
		})
	})
	r.GET("/nodes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"self":  src.NodeID(),
			"count": src.NumNodes(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ServeStatus runs the debug surface in the background. Failures are logged
// and otherwise ignored: the runtime does not depend on its debug port.
func ServeStatus(addr string, src StatusSource) {
	if addr == "" {
		return
	}
	router := NewStatusRouter(src)
	go func() {
		if err := router.Run(addr); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("status server exited")
		}
	}()
}

package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/ulists/internal/registry/route"
)

const (
	phaseStarting int32 = iota
	phaseReady
	phaseDraining
)

var phase atomic.Int32

// MarkReady signals that the service has finished initializing and is ready to
// serve traffic. Call this once StartServer has completed successfully.
func MarkReady() {
	phase.Store(phaseReady)
}

// MarkDraining makes /ready fail so load balancers stop routing new list
// subscriptions here while open change streams are being closed.
func MarkDraining() {
	phase.Store(phaseDraining)
}

func readiness() (int, string) {
	switch phase.Load() {
	case phaseReady:
		return http.StatusOK, "ready"
	case phaseDraining:
		return http.StatusServiceUnavailable, "draining"
	default:
		return http.StatusServiceUnavailable, "starting"
	}
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "system",
		Order: 0,
		Loader: func(r *gin.Engine) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			r.GET("/ready", func(c *gin.Context) {
				code, status := readiness()
				c.JSON(code, gin.H{"status": status})
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}

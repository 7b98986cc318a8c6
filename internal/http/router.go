// Package http wires the engine's control plane: thin gin handlers over the
// store's resolve/reject/health primitives, with a small ambient
// middleware chain (trace context, request logging, metrics, CORS) ahead
// of the routes themselves.
package http

import (
	httpH "github.com/lprior-repo/nuoc-sub001/internal/http/handlers"
	httpMW "github.com/lprior-repo/nuoc-sub001/internal/http/middleware"
	"github.com/lprior-repo/nuoc-sub001/internal/observability"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/logger"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterConfig wires the handlers and ambient middleware NewRouter composes.
type RouterConfig struct {
	AwakeableHandler *httpH.AwakeableHandler
	HealthHandler    *httpH.HealthHandler
	JobHandler       *httpH.JobHandler

	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
}

// NewRouter builds the engine's HTTP control plane: health check, the job
// status endpoint, and the two awakeable-settlement endpoints. No agent
// HTTP clients here — those are external collaborators; enginectl talks to
// the same store functions directly rather than through this router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "workflow-engine"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}

	if cfg.AwakeableHandler != nil {
		r.POST("/awakeables/:id/resolve", cfg.AwakeableHandler.Resolve)
		r.POST("/awakeables/:id/reject", cfg.AwakeableHandler.Reject)
	}

	if cfg.JobHandler != nil {
		r.GET("/jobs/:id", cfg.JobHandler.Get)
	}

	return r
}

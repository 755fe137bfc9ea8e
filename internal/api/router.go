package api

import (
	"github.com/gin-gonic/gin"

	"github.com/stackwatch/sentinel/internal/alerting"
	"github.com/stackwatch/sentinel/internal/supervisor"
	"github.com/stackwatch/sentinel/pkg/config"
	"github.com/stackwatch/sentinel/pkg/metrics"
	"github.com/stackwatch/sentinel/pkg/resilience"
	"github.com/stackwatch/sentinel/pkg/tracing"
)

// Deps collects the collaborators the status API reads from. Alerts and
// Tracer may be nil when those subsystems are disabled.
type Deps struct {
	Supervisor *supervisor.Supervisor
	Breakers   *resilience.Registry
	Alerts     *alerting.Manager
	Metrics    *metrics.Metrics
	Tracer     *tracing.TracingService
}

// NewRouter creates and configures the status API router
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(CORSMiddleware())
	if deps.Tracer != nil {
		router.Use(deps.Tracer.TracingMiddleware())
	}

	handler := NewStatusHandler(deps)

	router.GET("/healthz", handler.Healthz)
	router.GET("/readyz", handler.Readyz)
	if deps.Metrics != nil && deps.Metrics.Enabled() {
		router.GET("/metrics", deps.Metrics.Handler())
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/instances", handler.ListInstances)
		v1.GET("/instances/:id", handler.GetInstance)
		v1.DELETE("/instances/:id/escalation", handler.ClearEscalation)
		v1.GET("/breakers", handler.ListBreakers)
		v1.GET("/alerts", handler.ListAlerts)
	}

	return router
}

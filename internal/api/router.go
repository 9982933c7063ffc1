package api

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/pipeline-doctor/internal/incident"
	"github.com/NikhilSetiya/pipeline-doctor/internal/middleware"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/health"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/metrics"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/tracing"
)

// RouterDeps are the collaborators served by the router. Metrics, Tracing
// and Redis are optional. Redis shares rate limit counters across replicas.
type RouterDeps struct {
	Config    *config.Config
	Processor EventProcessor
	Store     incident.Store
	Health    *health.Service
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Tracing   *tracing.TracingService
	Redis     *redis.Client
}

// NewRouter creates and configures the API router
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger, deps.Metrics))
	router.Use(middleware.ErrorLoggingMiddleware(logger))
	router.Use(CORSMiddleware())
	router.Use(SecurityHeadersMiddleware())
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}

	if deps.Health != nil {
		router.GET("/health", deps.Health.Handler())
		router.GET("/health/live", deps.Health.LivenessHandler())
		router.GET("/health/ready", deps.Health.ReadinessHandler())
	}
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	router.GET("/api/v1", func(c *gin.Context) {
		SuccessResponse(c, map[string]interface{}{
			"name":    "pipeline-doctor",
			"version": "1.0.0",
			"status":  "ok",
		})
	})

	eventHandler := NewEventHandler(deps.Processor, deps.Store, logger, deps.Metrics)

	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(deps.Config.Auth.JWTSecret))
	{
		ingest := []gin.HandlerFunc{eventHandler.IngestEvent}
		if deps.Config.Limits.Requests > 0 {
			limiter := NewRateLimiter(deps.Config.Limits, deps.Redis, logger)
			ingest = append([]gin.HandlerFunc{limiter.Middleware()}, ingest...)
		}
		v1.POST("/events", ingest...)
		v1.GET("/incidents/*identity", eventHandler.GetIncident)
	}

	return router
}

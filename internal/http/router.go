package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/threshold-orchestrator/internal/http/handlers"
	httpMW "github.com/yungbote/threshold-orchestrator/internal/http/middleware"
	"github.com/yungbote/threshold-orchestrator/internal/observability"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

type RouterConfig struct {
	ServiceName     string
	Log             *logger.Logger
	Metrics         *observability.Metrics
	AllowOrigins    []string
	MaxRequestBytes int64

	HealthHandler    *httpH.HealthHandler
	OperationHandler *httpH.OperationHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.RequestIDs())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowOrigins))
	r.Use(httpMW.BodyLimit(cfg.MaxRequestBytes))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	v1 := r.Group("/v1")
	{
		if cfg.OperationHandler != nil {
			v1.POST("/operations/:operation/requests", cfg.OperationHandler.Request)
			v1.POST("/operations/:operation/submissions", cfg.OperationHandler.Submit)
			v1.GET("/operations/:operation/submissions/:key", cfg.OperationHandler.GetSubmission)
		}
	}

	return r
}

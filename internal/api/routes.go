package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/api/handlers"
	"github.com/rajinweb/contract-esign/internal/api/middleware"
	"github.com/rajinweb/contract-esign/internal/services"
	"github.com/rajinweb/contract-esign/pkg/metrics"
)

type Router struct {
	engine         *gin.Engine
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	signingHandler *handlers.SigningHandler
	docHandler     *handlers.DocumentHandler
	authMiddleware *middleware.AuthMiddleware
	reqMiddleware  *middleware.RequestMiddleware
}

func NewRouter(
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
	versionService *services.VersionService,
	signingService *services.SigningService,
	tokenService *services.TokenService,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	limiter := middleware.NewIPAttemptTracker(30, time.Minute)
	reqMiddleware := middleware.NewRequestMiddleware(logger, limiter)
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())

	return &Router{
		engine:         engine,
		logger:         logger,
		metrics:        collector,
		signingHandler: handlers.NewSigningHandler(signingService, logger),
		docHandler:     handlers.NewDocumentHandler(versionService, signingService, tokenService, logger),
		authMiddleware: authMiddleware,
		reqMiddleware:  reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "contract-esign"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	// Token-bearing signing surface, rate limited per client.
	signing := r.engine.Group("/")
	signing.Use(r.reqMiddleware.LimitSigningAttempts())
	{
		signing.GET("/signing/:token", r.signingHandler.View)
		signing.POST("/sign", r.signingHandler.Sign)
		signing.POST("/signed-document-action", r.signingHandler.Action)
	}

	// Owner-facing document lifecycle.
	documents := r.engine.Group("/documents")
	documents.Use(r.authMiddleware.RequireOwner())
	{
		documents.POST("", r.docHandler.Create)
		documents.GET("", r.docHandler.List)
		documents.GET("/:id", r.docHandler.Get)
		documents.POST("/:id/prepare", r.docHandler.Prepare)
		documents.POST("/:id/send", r.docHandler.Send)
		documents.POST("/:id/derive", r.docHandler.Derive)
		documents.GET("/:id/integrity", r.docHandler.Integrity)
		documents.GET("/:id/events", r.docHandler.Events)
		documents.POST("/:id/void", r.docHandler.Void)
		documents.DELETE("/:id", r.docHandler.Delete)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/idempotency"
	"ledgercore/internal/domain/batch"
	"ledgercore/internal/domain/expiry"
	"ledgercore/internal/domain/sale"
	"ledgercore/internal/domain/sequence"
	"ledgercore/internal/domain/variance"
	"ledgercore/internal/infrastructure/http/v1/handlers"
	"ledgercore/internal/infrastructure/http/v1/middleware"
	"ledgercore/pkg/logger"
)

// DefaultActor is recorded for requests without an X-Actor header.
const DefaultActor = "ops"

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// Clock drives report defaults
	Clock clock.Clock

	Sequences *sequence.Service
	Batches   *batch.Service
	Sales     *sale.Service
	Expiry    *expiry.Service
	Variance  *variance.Detector

	// Idempotency replays POST responses carrying X-Idempotency-Key; optional
	Idempotency idempotency.Store

	// Store names the backend for /health/info
	Store string

	// Pinger checks the database on /health/ready; nil for the memory store
	Pinger handlers.Pinger

	// PoolStats feeds /health/info; optional
	PoolStats func() any
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Store, cfg.Pinger, cfg.PoolStats)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Actor(DefaultActor))
	if cfg.Idempotency != nil {
		v1.Use(middleware.Idempotency(cfg.Idempotency))
	}
	{
		base := handlers.NewBaseHandler()
		registerSequenceRoutes(v1, base, cfg)
		registerBatchRoutes(v1, base, cfg)
		registerSaleRoutes(v1, base, cfg)
		registerJobRoutes(v1, base, cfg)
		registerReportRoutes(v1, base, cfg)
	}

	return router
}

func registerSequenceRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Sequences == nil {
		return
	}
	h := handlers.NewSequenceHandler(base, cfg.Sequences)

	seq := rg.Group("/sequences/:series")
	{
		seq.GET("/current", h.Current)
		seq.GET("/periods", h.Periods)
		seq.POST("/periods", h.Provision)
		seq.PUT("/last-issued", h.SetLastIssued)
	}
}

func registerBatchRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Batches == nil {
		return
	}
	h := handlers.NewBatchHandler(base, cfg.Batches)

	batches := rg.Group("/batches")
	{
		batches.GET("", h.List)
		batches.POST("", h.Receive)
		batches.GET("/:id", h.Get)
		batches.GET("/:id/history", h.History)
		batches.POST("/:id/adjust", h.Adjust)
		batches.POST("/:id/write-off", h.WriteOff)
		batches.POST("/:id/retire", h.Retire)
	}
	rg.GET("/products/:id/stock", h.ProductStock)
}

func registerSaleRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Sales == nil {
		return
	}
	h := handlers.NewSaleHandler(base, cfg.Sales)

	rg.POST("/sales", h.Post)
	rg.POST("/returns", h.Return)
}

func registerJobRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Expiry == nil || cfg.Variance == nil {
		return
	}
	h := handlers.NewJobsHandler(base, cfg.Expiry, cfg.Variance)

	jobs := rg.Group("/jobs")
	{
		jobs.POST("/expiry/run", h.RunExpiry)
		jobs.POST("/variance-summary/run", h.RunVarianceSummary)
	}
}

func registerReportRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Expiry == nil || cfg.Variance == nil {
		return
	}
	h := handlers.NewReportsHandler(base, cfg.Expiry, cfg.Variance, cfg.Clock)

	reports := rg.Group("/reports")
	{
		reports.GET("/near-expiry", h.NearExpiry)
		reports.GET("/variance", h.VarianceSummaries)
		reports.GET("/variance/:date", h.VarianceSummary)
	}
}

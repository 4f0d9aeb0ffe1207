package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propval/internal/metrics"
)

// NewRouter builds the engine with recovery, request logging, CORS and the
// /metrics and /healthz endpoints.
func NewRouter(h *Handler, m *metrics.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))

	corsConfig := cors.Config{
		AllowOrigins:     h.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	SetupRoutes(router, h)
	return router
}

func SetupRoutes(router *gin.Engine, h *Handler) {
	api := router.Group("/api")
	{
		api.GET("/properties", h.GetProperties)
		api.POST("/properties", h.IngestProperties)
		api.GET("/properties/:id", h.GetProperty)
		api.GET("/stats", h.GetPropertyStats)
		api.GET("/ingest/stats", h.GetIngestStats)
		api.POST("/update-coordinates", h.UpdateCoordinates)

		api.POST("/models/:kind/train", h.TrainModel)
		api.GET("/models/:kind", h.GetModel)
		api.GET("/models/:kind/importance", h.GetFeatureImportance)
		api.POST("/valuations", h.Valuate)
		api.POST("/comparables", h.FindComparables)

		api.POST("/investment", h.EvaluateInvestment)
		api.POST("/investment/rank", h.RankInvestments)
		api.GET("/market/forecast", h.GetForecast)
		api.GET("/market/areas", h.GetMarketAreas)
	}

	if h.Markets != nil {
		markets := api.Group("/markets")
		markets.GET("", h.ListMarkets)
		markets.POST("", h.CreateMarket)
		markets.GET("/:name", h.GetMarket)
		markets.PUT("/:name", h.UpdateMarket)
		markets.DELETE("/:name", h.DeleteMarket)
		markets.POST("/:name/geocode", h.GeocodeMarket)
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   status,
			"duration": time.Since(start).String(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Debug("Request served")
		}
	}
}

// Package api exposes the leadflow HTTP surface: the webhook intake, job
// status polling, the lead claim protocol, and dead-letter operations.
package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/leadflow/internal/logger"
)

const corsMaxAgeHours = 12

// NewRouter wires all routes onto a gin engine
func NewRouter(h *Handlers, metricsHandler http.Handler, debug bool, log logger.Logger) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// CORS middleware - must be first
	router.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins(),
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Content-Length", "Accept-Encoding",
			"X-CSRF-Token", "Authorization", "accept", "origin",
			"Cache-Control", "X-Requested-With",
		},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           corsMaxAgeHours * time.Hour,
	}))

	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	router.POST("/webhooks/lead", h.IngestLead)

	v1 := router.Group("/api/v1")

	jobs := v1.Group("/jobs")
	jobs.GET("", h.ListJobs)
	jobs.GET("/:id", h.GetJob)

	leadRoutes := v1.Group("/leads")
	leadRoutes.GET("/:id", h.GetLead)
	leadRoutes.POST("/:id/claim", h.ClaimLead)
	leadRoutes.PATCH("/:id/status", h.UpdateLeadStatus)

	deadLetters := v1.Group("/dlq")
	deadLetters.GET("", h.ListDeadLetters)
	deadLetters.GET("/stats", h.DeadLetterStats)
	deadLetters.GET("/retryable", h.RetryableDeadLetters)
	deadLetters.GET("/export", h.ExportDeadLetters)
	deadLetters.POST("/import", h.ImportDeadLetters)
	deadLetters.DELETE("/:id", h.DeleteDeadLetter)
	deadLetters.DELETE("", h.ClearDeadLetters)

	breakers := v1.Group("/breakers")
	breakers.GET("", h.ListBreakers)
	breakers.POST("/:name/reset", h.ResetBreaker)

	return router
}

// corsOrigins returns the allowed CORS origins, environment first
func corsOrigins() []string {
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}
	return []string{"http://localhost:3000"}
}

func ginLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Info("HTTP request",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status_code", c.Writer.Status()),
			logger.String("client_ip", c.ClientIP()),
			logger.Duration("duration", time.Since(start)),
		)
	}
}

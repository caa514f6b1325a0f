package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Router assembles the gin.Engine serving every REST endpoint.
// Authentication and rate limiting apply to every route except the
// unauthenticated liveness and metrics probes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(accessLogMiddleware(s.Logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE"},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", metricsHandler())

	authed := r.Group("/")
	authed.Use(authMiddleware(s.Auth))
	authed.Use(rateLimitMiddleware(s.Limiter))

	authed.POST("/v1/scrape", s.handleCreateScrape)
	authed.GET("/v1/scrape/:id", s.handleGetScrape)

	authed.POST("/v1/crawl", s.handleCreateCrawl)
	authed.GET("/v1/crawl/:id", s.handleGetCrawl)
	authed.GET("/v1/crawl/:id/results", s.handleCrawlResults)
	authed.DELETE("/v1/crawl/:id", s.handleCancelCrawl)

	authed.POST("/v1/search", s.handleCreateSearch)

	authed.POST("/v2/tasks/query", s.handleQueryTasks)
	authed.POST("/v2/tasks/cancel", s.handleCancelTasks)

	return r
}

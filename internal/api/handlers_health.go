package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jamie-anson/placeflow-ingestor/internal/external"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	healthChecker  *external.HealthChecker
	db             *sql.DB
	runningWorkers func() int
}

// NewHealthHandler creates a new health handler over the crawl, description
// and image-processor collaborators plus the shared database and Redis
// handles. runningWorkers reports the live engine count for the aggregate
// in GET /health; nil means no job controller is wired.
func NewHealthHandler(crawlerURL, descriptionURL, imageProcessorURL string, db *sql.DB, rdb *redis.Client, runningWorkers func() int) *HealthHandler {
	return &HealthHandler{
		healthChecker:  external.NewHealthChecker(crawlerURL, descriptionURL, imageProcessorURL, db, rdb),
		db:             db,
		runningWorkers: runningWorkers,
	}
}

// GetHealth returns the health status of all services
func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()
	
	services := h.healthChecker.CheckAllServices(ctx)
	
	// Determine overall health
	overallStatus := "healthy"
	for _, service := range services {
		if service.Status == "unhealthy" {
			overallStatus = "unhealthy"
			break
		} else if service.Status == "degraded" && overallStatus == "healthy" {
			overallStatus = "degraded"
		}
	}
	
	running := 0
	if h.runningWorkers != nil {
		running = h.runningWorkers()
	}
	response := gin.H{
		"status":          overallStatus,
		"running_workers": running,
		"services":        services,
	}
	
	// Set appropriate HTTP status code
	var statusCode int
	switch overallStatus {
	case "degraded":
		statusCode = http.StatusOK // Still OK, but with warnings
	case "unhealthy":
		statusCode = http.StatusServiceUnavailable
	default:
		statusCode = http.StatusOK
	}
	
	c.JSON(statusCode, response)
}

// GetHealthLiveness returns a simple liveness check
func (h *HealthHandler) GetHealthLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

// GetHealthReadiness returns readiness status based on circuit breakers
func (h *HealthHandler) GetHealthReadiness(c *gin.Context) {
	ctx := c.Request.Context()
	
	services := h.healthChecker.CheckAllServices(ctx)
	
	// Service is ready if no critical services have open circuit breakers
	ready := true
	criticalServices := []string{"database", "redis"} // Define critical services
	
	for _, service := range services {
		for _, critical := range criticalServices {
			if service.Name == critical && service.Status == "unhealthy" {
				ready = false
				break
			}
		}
		if !ready {
			break
		}
	}
	// DB ping for concrete readiness
	if h.db != nil && ready {
		if err := h.db.PingContext(ctx); err != nil {
			ready = false
		}
	}
	
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	
	c.JSON(statusCode, gin.H{
		"ready":    ready,
		"services": services,
	})
}

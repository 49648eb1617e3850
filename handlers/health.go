package handlers

import (
	"net/http"
	"time"

	"archivist/services"
	"archivist/types"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoints
var Version = "dev"

// HealthHandler handles health check endpoints
type HealthHandler struct {
	jobs services.JobManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(jobs services.JobManager) *HealthHandler {
	return &HealthHandler{jobs: jobs}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "archivist",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the status of the API with job counts by status
func (h *HealthHandler) APIStatus(c *gin.Context) {
	counts := make(map[types.JobStatus]int)
	for _, job := range h.jobs.All() {
		counts[job.Status]++
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "archivist API is running",
		"jobs":    counts,
	})
}

package handlers

import (
	"net/http"

	"archivist/services"
	"archivist/types"
	"archivist/websocket"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// JobHandler starts, lists, cancels and streams jobs
type JobHandler struct {
	jobs   services.JobManager
	hub    websocket.Hub
	logger *log.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs services.JobManager, hub websocket.Hub, logger *log.Logger) *JobHandler {
	return &JobHandler{
		jobs:   jobs,
		hub:    hub,
		logger: logger,
	}
}

// create registers a job; it starts once a socket attaches to it
func (h *JobHandler) create(c *gin.Context, p services.Params) {
	job, err := h.jobs.Create(p)
	if err != nil {
		respondError(c, "failed to start job", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"jobId": job.ID,
		"job":   job,
	})
}

// Copy starts a copy or move
func (h *JobHandler) Copy(c *gin.Context) {
	var req types.CopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.create(c, services.CopyParams{CopyRequest: req})
}

// Duplicate starts a duplicate job
func (h *JobHandler) Duplicate(c *gin.Context) {
	var req types.DuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.create(c, services.DuplicateParams{DuplicateRequest: req})
}

// FolderSize starts a folder-size job
func (h *JobHandler) FolderSize(c *gin.Context) {
	var req types.SizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.create(c, services.SizeParams{SizeRequest: req})
}

// Compress starts a zip-compress job
func (h *JobHandler) Compress(c *gin.Context) {
	var req types.CompressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.create(c, services.CompressParams{CompressRequest: req})
}

// Decompress starts a zip-decompress job
func (h *JobHandler) Decompress(c *gin.Context) {
	var req types.DecompressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.create(c, services.DecompressParams{DecompressRequest: req})
}

// TestArchive starts an archive integrity test
func (h *JobHandler) TestArchive(c *gin.Context) {
	var req types.ArchiveTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.create(c, services.ArchiveTestParams{ArchiveTestRequest: req})
}

// GetPaths starts a get-paths job
func (h *JobHandler) GetPaths(c *gin.Context) {
	var req types.PathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.create(c, services.PathsParams{PathsRequest: req})
}

// GetAllJobs returns every job still held by the registry
func (h *JobHandler) GetAllJobs(c *gin.Context) {
	jobs := h.jobs.All()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// GetJob returns a specific job by ID
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("jobId"))
	if err != nil {
		respondError(c, "job not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job": job,
	})
}

// CancelJob cancels a job of any kind
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := h.jobs.Cancel(jobID); err != nil {
		respondError(c, "job not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "job cancelled",
		"jobId":   jobID,
	})
}

// HandleWebSocketConnection streams one job's events and starts the job
// when this is the first socket attached to it
func (h *JobHandler) HandleWebSocketConnection(c *gin.Context) {
	jobID := c.Param("jobId")
	if _, err := h.jobs.Get(jobID); err != nil {
		respondError(c, "job not found", err)
		return
	}

	conn, err := websocket.Upgrade(c.Writer, c.Request)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "job", jobID, "err", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, jobID, h.jobs, h.logger)
	h.hub.RegisterClient(client)
	client.StartPumps()

	if err := h.jobs.Attach(jobID); err != nil {
		h.logger.Warn("attach failed", "job", jobID, "err", err)
	}
}

// HandleWebSocketAllConnection streams the events of every job
func (h *JobHandler) HandleWebSocketAllConnection(c *gin.Context) {
	conn, err := websocket.Upgrade(c.Writer, c.Request)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, websocket.AllJobs, h.jobs, h.logger)
	h.hub.RegisterClient(client)
	client.StartPumps()
}

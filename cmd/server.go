package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"archivist/config"
	"archivist/handlers"
	"archivist/middleware"
	"archivist/negotiate"
	"archivist/services"
	"archivist/websocket"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
)

// Server bundles the router with the job engine behind it
type Server struct {
	Router *gin.Engine
	Jobs   services.JobManager
	Hub    websocket.Hub
}

// NewServer wires the job engine, the WebSocket hub and every route
func NewServer(cfg *config.Config, fsys afero.Fs, logger *log.Logger) *Server {
	hub := websocket.NewHub(logger)
	go hub.Run()

	prompts := negotiate.NewRegistry(cfg.Jobs.PromptTimeout, logger.WithPrefix("prompts"))
	jobs := services.NewJobManager(fsys, hub, prompts, cfg.Jobs, logger.WithPrefix("jobs"))
	fileService := services.NewFileService(fsys, jobs)

	jobHandler := handlers.NewJobHandler(jobs, hub, logger.WithPrefix("http"))
	fileHandler := handlers.NewFileHandler(fileService)
	healthHandler := handlers.NewHealthHandler(jobs)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.Logging(logger.WithPrefix("http")))

	setupRoutes(r, jobHandler, fileHandler, healthHandler)
	return &Server{Router: r, Jobs: jobs, Hub: hub}
}

// Close cancels running jobs and disconnects every socket
func (s *Server) Close() {
	s.Jobs.Close()
	s.Hub.Stop()
}

// StartWebServer serves the API until ctx is cancelled
func StartWebServer(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := NewServer(cfg, afero.NewOsFs(), logger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Router,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("archivist server starting", "addr", httpServer.Addr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, jobHandler *handlers.JobHandler, fileHandler *handlers.FileHandler, healthHandler *handlers.HealthHandler) {
	r.GET("/health", healthHandler.HealthCheck)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", healthHandler.APIStatus)

		// Long-running operations
		apiGroup.POST("/copy", jobHandler.Copy)
		apiGroup.POST("/duplicate", jobHandler.Duplicate)
		apiGroup.POST("/folder-size", jobHandler.FolderSize)
		apiGroup.POST("/get-paths", jobHandler.GetPaths)

		zipGroup := apiGroup.Group("/zip")
		{
			zipGroup.POST("/compress", jobHandler.Compress)
			zipGroup.POST("/decompress", jobHandler.Decompress)
			zipGroup.POST("/test", jobHandler.TestArchive)
		}

		// File mutations, jobs when the path is inside an archive
		apiGroup.POST("/delete", fileHandler.Delete)
		apiGroup.POST("/rename", fileHandler.Rename)
		apiGroup.POST("/new-folder", fileHandler.NewFolder)
		apiGroup.POST("/new-file", fileHandler.NewFile)
		apiGroup.POST("/save-file", fileHandler.SaveFile)

		jobsGroup := apiGroup.Group("/jobs")
		{
			jobsGroup.GET("", jobHandler.GetAllJobs)
			jobsGroup.GET("/:jobId", jobHandler.GetJob)
			jobsGroup.POST("/:jobId/cancel", jobHandler.CancelJob)
			jobsGroup.DELETE("/:jobId", jobHandler.CancelJob)
		}

		wsGroup := apiGroup.Group("/ws")
		{
			wsGroup.GET("/jobs/:jobId", jobHandler.HandleWebSocketConnection)
			wsGroup.GET("/jobs", jobHandler.HandleWebSocketAllConnection)
		}
	}
}

package handlers

import (
	"net/http"

	"archivist/services"
	"archivist/types"

	"github.com/gin-gonic/gin"
)

// FileHandler handles file management endpoints. Paths inside archives
// become jobs; everything else completes within the request.
type FileHandler struct {
	fileService services.FileService
}

// NewFileHandler creates a new file handler
func NewFileHandler(fs services.FileService) *FileHandler {
	return &FileHandler{
		fileService: fs,
	}
}

func (h *FileHandler) reply(c *gin.Context, m *services.Mutation, err error) {
	if err != nil {
		respondError(c, "operation failed", err)
		return
	}
	if m.Job != nil {
		c.JSON(http.StatusCreated, gin.H{
			"jobId": m.Job.ID,
			"job":   m.Job,
		})
		return
	}
	c.JSON(http.StatusOK, m.Result)
}

// Delete removes files, folders or archive entries
func (h *FileHandler) Delete(c *gin.Context) {
	var req types.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.fileService.Delete(c.Request.Context(), req.Paths)
	h.reply(c, m, err)
}

// Rename renames a file, folder or archive entry
func (h *FileHandler) Rename(c *gin.Context) {
	var req types.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.fileService.Rename(c.Request.Context(), req.OldPath, req.NewName, req.Overwrite)
	h.reply(c, m, err)
}

// NewFolder creates an empty folder
func (h *FileHandler) NewFolder(c *gin.Context) {
	var req types.PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.fileService.NewFolder(c.Request.Context(), req.Path)
	h.reply(c, m, err)
}

// NewFile creates an empty file
func (h *FileHandler) NewFile(c *gin.Context) {
	var req types.PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.fileService.NewFile(c.Request.Context(), req.Path)
	h.reply(c, m, err)
}

// SaveFile writes text content to a file or archive entry
func (h *FileHandler) SaveFile(c *gin.Context) {
	var req types.SaveFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.fileService.SaveFile(c.Request.Context(), req.Path, []byte(req.Content))
	h.reply(c, m, err)
}

package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/logger"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/storage"
)

const maxUploadBytes = 32 << 20 // 32 MiB

// UploadHandler accepts CSV files and parks them in object storage. The
// returned object key goes into the sync job config as "object_key".
type UploadHandler struct {
	store storage.ObjectStorage
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(store storage.ObjectStorage) *UploadHandler {
	return &UploadHandler{store: store}
}

// Upload handles POST /api/v1/uploads with a multipart "file" field.
func (h *UploadHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	if ext := strings.ToLower(filepath.Ext(fileHeader.Filename)); ext != ".csv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .csv uploads are accepted"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	defer file.Close()

	key := fmt.Sprintf("uploads/%s.csv", uuid.New().String())
	if err := h.store.Upload(ctx, key, file, fileHeader.Size, "text/csv"); err != nil {
		logger.CtxError(ctx, "Upload to object storage failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "object storage unavailable"})
		return
	}

	logger.CtxInfo(ctx, "Uploaded source file: key=%s, size=%d", key, fileHeader.Size)
	c.JSON(http.StatusCreated, gin.H{
		"object_key": key,
		"url":        h.store.GetURL(key),
		"size":       fileHeader.Size,
	})
}

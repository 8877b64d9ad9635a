package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/blobstore"
	"github.com/yungbote/mnemosyne-backend/internal/docparse"
	"github.com/yungbote/mnemosyne-backend/internal/library"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
	"github.com/yungbote/mnemosyne-backend/internal/queue"
)

// JobProcessDocument is the queue function that runs library ingestion.
const JobProcessDocument = "process_document"

// DocumentHandler accepts uploads into the blob store and hands ingestion
// to the worker pool. All heavy lifting happens off the request path.
type DocumentHandler struct {
	log     *logger.Logger
	blobs   *blobstore.Store
	library *library.Service
	jobs    *queue.Client
}

func NewDocumentHandler(blobs *blobstore.Store, lib *library.Service, jobs *queue.Client, baseLog *logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		log:     baseLog.With("component", "DocumentHandler"),
		blobs:   blobs,
		library: lib,
		jobs:    jobs,
	}
}

// Upload stores the file and enqueues processing. Unsupported extensions
// are rejected before anything is written.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, string(apperr.CodeValidation),
			fmt.Errorf("multipart field %q is required: %w", "file", err))
		return
	}
	if !docparse.Supports(file.Filename) {
		RespondError(c, http.StatusBadRequest, string(apperr.CodeValidation),
			fmt.Errorf("unsupported file type %q", filepath.Ext(file.Filename)))
		return
	}

	src, err := file.Open()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	blobID, err := h.blobs.Save(data, file.Filename)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	jobID, err := h.jobs.Enqueue(c.Request.Context(), JobProcessDocument, map[string]any{"blob_id": blobID})
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"blob_id":  blobID,
		"job_id":   jobID,
		"filename": file.Filename,
	})
}

func (h *DocumentHandler) List(c *gin.Context) {
	blobs, err := h.blobs.List()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"documents": blobs})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	info, err := h.blobs.GetInfo(c.Param("blob_id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	chunks, err := h.library.BlobChunkCount(c.Request.Context(), info.BlobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"document": info, "chunk_count": chunks})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	deleted, err := h.library.DeleteBlob(c.Request.Context(), c.Param("blob_id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": deleted})
}

// JobStatus reads the job record for any queued function.
func (h *DocumentHandler) JobStatus(c *gin.Context) {
	record, err := h.jobs.Status(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			RespondError(c, http.StatusNotFound, string(apperr.CodeNotFound), err)
			return
		}
		RespondAppError(c, err)
		return
	}
	RespondOK(c, record)
}

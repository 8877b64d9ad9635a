package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/journal"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
	"github.com/yungbote/mnemosyne-backend/internal/queue"
	"github.com/yungbote/mnemosyne-backend/internal/sessionstore"
)

// JobIngestSession is the queue function that runs journal ingestion.
const JobIngestSession = "ingest_session"

type SessionHandler struct {
	log      *logger.Logger
	sessions *sessionstore.Store
	journal  *journal.Service
	jobs     *queue.Client
}

func NewSessionHandler(sessions *sessionstore.Store, jrn *journal.Service, jobs *queue.Client, baseLog *logger.Logger) *SessionHandler {
	return &SessionHandler{
		log:      baseLog.With("component", "SessionHandler"),
		sessions: sessions,
		journal:  jrn,
		jobs:     jobs,
	}
}

type createSessionRequest struct {
	SessionID string  `json:"session_id"`
	Name      *string `json:"name"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, string(apperr.CodeValidation), err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if err := h.sessions.UpsertSession(c.Request.Context(), req.SessionID, req.Name); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"session_id": req.SessionID})
}

func (h *SessionHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := h.sessions.ListSessions(c.Request.Context(), limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"sessions": sessions})
}

func (h *SessionHandler) Get(c *gin.Context) {
	data, err := h.sessions.GetSessionWithMessages(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, data)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	deleted, err := h.journal.DeleteSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": deleted})
}

type renameSessionRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *SessionHandler) Rename(c *gin.Context) {
	var req renameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, string(apperr.CodeValidation), err)
		return
	}
	if err := h.sessions.SetSessionName(c.Request.Context(), c.Param("session_id"), req.Name); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"session_id": c.Param("session_id"), "name": req.Name})
}

type addMessageRequest struct {
	Role      string     `json:"role" binding:"required"`
	Content   string     `json:"content" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
}

func (h *SessionHandler) AddMessage(c *gin.Context) {
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, string(apperr.CodeValidation), err)
		return
	}
	id, err := h.sessions.AddMessage(c.Request.Context(), c.Param("session_id"), req.Role, req.Content, req.Timestamp)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"message_id": id})
}

// Ingest enqueues the journal rebuild rather than running it inline.
func (h *SessionHandler) Ingest(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, err := h.sessions.GetSession(c.Request.Context(), sessionID); err != nil {
		RespondAppError(c, err)
		return
	}
	jobID, err := h.jobs.Enqueue(c.Request.Context(), JobIngestSession, map[string]any{"session_id": sessionID})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "job_id": jobID})
}

func (h *SessionHandler) IngestStatus(c *gin.Context) {
	status, err := h.journal.Status(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, status)
}

func (h *SessionHandler) NeedingIngest(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := h.journal.SessionsNeedingIngest(c.Request.Context(), limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"sessions": sessions})
}

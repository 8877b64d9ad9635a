package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/chat"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

type ChatHandler struct {
	log  *logger.Logger
	chat *chat.Service
}

func NewChatHandler(svc *chat.Service, baseLog *logger.Logger) *ChatHandler {
	return &ChatHandler{
		log:  baseLog.With("component", "ChatHandler"),
		chat: svc,
	}
}

type prepareRequest struct {
	Message        string   `json:"message" binding:"required"`
	SessionID      string   `json:"session_id"`
	UseLibrary     *bool    `json:"use_library"`
	UseJournal     *bool    `json:"use_journal"`
	LibraryTopK    *int     `json:"library_top_k"`
	JournalTopK    *int     `json:"journal_top_k"`
	Threshold      *float64 `json:"similarity_threshold"`
	PromptTemplate string   `json:"prompt_template"`
}

// Prepare assembles retrieval context for one chat turn. The caller sends
// the result to whatever model it talks to; no LLM lives here.
func (h *ChatHandler) Prepare(c *gin.Context) {
	var req prepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, string(apperr.CodeValidation), err)
		return
	}

	result, err := h.chat.PrepareMessage(c.Request.Context(), req.Message, chat.Options{
		UseLibrary:     req.UseLibrary,
		UseJournal:     req.UseJournal,
		SessionID:      req.SessionID,
		LibraryTopK:    req.LibraryTopK,
		JournalTopK:    req.JournalTopK,
		Threshold:      req.Threshold,
		PromptTemplate: req.PromptTemplate,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, result)
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/middleware"
	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/service"
	"github.com/aura-chat/peernet/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         logger.OrNop(log).Component("message_handler"),
	}
}

// List handles GET /api/messages/{conversationID}. Any failure yields an
// error status; peers treat that the same as an empty history.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "conversationID")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.messageService.List(ctx, conversationID)
	if err != nil {
		h.logger.Error("failed to list messages",
			zap.String("conversation_id", conversationID),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

// Create handles POST /api/messages. The body is a message plus its
// conversationId.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.StoredMessage
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessage(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := h.messageService.Append(ctx, req)
	if err != nil {
		h.logger.Error("failed to store message",
			zap.String("conversation_id", req.ConversationID),
			zap.String("message_id", req.ID),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

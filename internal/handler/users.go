package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/middleware"
	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/service"
	"github.com/aura-chat/peernet/pkg/logger"
)

// UserHandler handles user endpoints.
type UserHandler struct {
	userService *service.UserService
	logger      *logger.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(userSvc *service.UserService, log *logger.Logger) *UserHandler {
	return &UserHandler{
		userService: userSvc,
		logger:      logger.OrNop(log).Component("user_handler"),
	}
}

type syncUserRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// Sync handles POST /api/sync-user.
func (h *UserHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req syncUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateUserName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.userService.Sync(ctx, model.Identity{ID: req.ID, Name: req.Name, AvatarURL: req.AvatarURL})
	if err != nil {
		h.logger.Error("failed to sync user",
			zap.String("user_id", req.ID),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to sync user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

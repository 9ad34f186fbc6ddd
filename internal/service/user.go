// Package service provides the business logic of the persistence server.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/repository"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/tracing"
)

// UserService handles user operations.
type UserService struct {
	repo   repository.Repository
	tracer trace.Tracer
	now    func() time.Time
	logger *logger.Logger
}

// NewUserService creates a new user service.
func NewUserService(repo repository.Repository, log *logger.Logger) *UserService {
	return &UserService{
		repo:   repo,
		tracer: tracing.Tracer("service"),
		now:    time.Now,
		logger: logger.OrNop(log).Component("user_service"),
	}
}

// Sync creates the user if absent. An existing user keeps its name and
// avatar unless the request supplies new non-empty values; joinedAt is set
// once, on creation.
func (s *UserService) Sync(ctx context.Context, req model.Identity) (model.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "UserService.Sync",
		trace.WithAttributes(attribute.String("user.id", req.ID)))
	defer span.End()

	existing, err := s.repo.GetUser(ctx, req.ID)
	switch {
	case err == nil:
		if req.Name != "" {
			existing.Name = req.Name
		}
		if req.AvatarURL != "" {
			existing.AvatarURL = req.AvatarURL
		}
		if err := s.repo.PutUser(ctx, existing); err != nil {
			return model.Identity{}, fmt.Errorf("failed to update user: %w", err)
		}
		return existing, nil

	case errors.Is(err, repository.ErrNotFound):
		user := model.Identity{
			ID:        req.ID,
			Name:      req.Name,
			AvatarURL: req.AvatarURL,
			JoinedAt:  s.now().UnixMilli(),
		}
		if err := s.repo.PutUser(ctx, user); err != nil {
			return model.Identity{}, fmt.Errorf("failed to create user: %w", err)
		}
		s.logger.Info("user created", zap.String("user_id", user.ID))
		return user, nil

	default:
		return model.Identity{}, fmt.Errorf("failed to get user: %w", err)
	}
}

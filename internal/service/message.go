package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/repository"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/metrics"
	"github.com/aura-chat/peernet/pkg/tracing"
)

// MessageService handles message operations.
type MessageService struct {
	repo   repository.Repository
	tracer trace.Tracer
	logger *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(repo repository.Repository, log *logger.Logger) *MessageService {
	return &MessageService{
		repo:   repo,
		tracer: tracing.Tracer("service"),
		logger: logger.OrNop(log).Component("message_service"),
	}
}

// Append stores a message and returns the stored record.
func (s *MessageService) Append(ctx context.Context, msg model.StoredMessage) (model.StoredMessage, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.Append",
		trace.WithAttributes(
			attribute.String("conversation.id", msg.ConversationID),
			attribute.String("message.id", msg.ID),
		))
	defer span.End()

	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}
	// Delivery status is a per-viewer display concern and is not stored.
	msg.Status = ""

	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return model.StoredMessage{}, fmt.Errorf("failed to store message: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues("stored", "").Inc()
	return msg, nil
}

// List returns the stored messages of a conversation ordered by timestamp.
func (s *MessageService) List(ctx context.Context, conversationID string) ([]model.Message, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.List",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	msgs, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	span.SetAttributes(attribute.Int("messages.count", len(msgs)))
	return msgs, nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/repository"
	apperrors "github.com/utafrali/notifier/pkg/errors"
)

// NotificationService serves the read side of stored notifications. Delivery
// itself is owned by the dispatcher.
type NotificationService struct {
	repo   repository.NotificationRepository
	logger *slog.Logger
}

// NewNotificationService creates a new notification service.
func NewNotificationService(repo repository.NotificationRepository, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		repo:   repo,
		logger: logger,
	}
}

// GetNotification retrieves a notification by its ID.
func (s *NotificationService) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("id is required")
	}

	notification, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get notification by id: %w", err)
	}
	return notification, nil
}

// ListNotificationsByUser returns a paginated list of notifications for a user, newest first.
func (s *NotificationService) ListNotificationsByUser(ctx context.Context, userID string, page, perPage int) ([]domain.Notification, int, error) {
	if userID == "" {
		return nil, 0, apperrors.InvalidInput("user_id is required")
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	offset := (page - 1) * perPage

	notifications, total, err := s.repo.ListByUserID(ctx, userID, offset, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications by user: %w", err)
	}

	s.logger.DebugContext(ctx, "listed notifications",
		slog.String("user_id", userID),
		slog.Int("page", page),
		slog.Int("total", total),
	)

	return notifications, total, nil
}

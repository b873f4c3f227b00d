package repository

import (
	"context"
	"time"

	"github.com/utafrali/notifier/internal/domain"
)

// StatusUpdate carries the fields written when a notification changes status.
type StatusUpdate struct {
	Status           domain.Status
	DeliveryAttempts int
	ErrorMessage     string
	SentAt           *time.Time
	UpdatedAt        time.Time
}

// StatusUpdateFrom captures the delivery state of n.
func StatusUpdateFrom(n *domain.Notification) StatusUpdate {
	return StatusUpdate{
		Status:           n.Status,
		DeliveryAttempts: n.DeliveryAttempts,
		ErrorMessage:     n.ErrorMessage,
		SentAt:           n.SentAt,
		UpdatedAt:        n.UpdatedAt,
	}
}

// Filter narrows a notification listing. Zero values mean "no constraint".
type Filter struct {
	Status        domain.Status
	UserID        string
	AttemptsBelow int
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
}

// NotificationRepository defines the interface for notification persistence operations.
type NotificationRepository interface {
	// Create inserts a new notification into the store.
	Create(ctx context.Context, notification *domain.Notification) error

	// UpdateStatus writes the delivery state of a notification.
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error

	// GetByID retrieves a notification by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Notification, error)

	// List returns notifications matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]domain.Notification, error)

	// ListByUserID returns notifications for a specific user with pagination, newest first.
	ListByUserID(ctx context.Context, userID string, offset, limit int) ([]domain.Notification, int, error)
}

// PreferenceRepository defines the interface for notification preference persistence.
type PreferenceRepository interface {
	// Get returns the preference for a user and notification type, or a not found error.
	Get(ctx context.Context, userID, notificationType string) (*domain.Preference, error)

	// Create inserts a new preference.
	Create(ctx context.Context, pref *domain.Preference) error

	// Update overwrites an existing preference.
	Update(ctx context.Context, pref *domain.Preference) error

	// ListByUser returns every stored preference of a user.
	ListByUser(ctx context.Context, userID string) ([]domain.Preference, error)
}

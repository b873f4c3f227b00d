// Package memory provides in-process implementations of the repository
// interfaces. They back the "memory" store driver and the dispatcher tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/repository"
	apperrors "github.com/utafrali/notifier/pkg/errors"
)

// NotificationRepository implements repository.NotificationRepository using an in-memory map.
type NotificationRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Notification
}

// NewNotificationRepository creates an empty in-memory notification store.
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{items: make(map[string]*domain.Notification)}
}

// Create stores a copy of the notification.
func (r *NotificationRepository) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[n.ID]; exists {
		return apperrors.AlreadyExists("notification", "id", n.ID)
	}
	r.items[n.ID] = cloneNotification(n)
	return nil
}

// UpdateStatus writes the delivery state of a stored notification.
func (r *NotificationRepository) UpdateStatus(_ context.Context, id string, u repository.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.items[id]
	if !ok {
		return apperrors.NotFound("notification", id)
	}
	n.Status = u.Status
	n.DeliveryAttempts = u.DeliveryAttempts
	n.ErrorMessage = u.ErrorMessage
	n.SentAt = copyPtr(u.SentAt)
	n.UpdatedAt = u.UpdatedAt
	return nil
}

// GetByID returns a copy of the stored notification.
func (r *NotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.items[id]
	if !ok {
		return nil, apperrors.NotFound("notification", id)
	}
	return cloneNotification(n), nil
}

// List returns notifications matching the filter, oldest first.
func (r *NotificationRepository) List(_ context.Context, f repository.Filter) ([]domain.Notification, error) {
	r.mu.RLock()
	matched := make([]domain.Notification, 0)
	for _, n := range r.items {
		if matches(n, f) {
			matched = append(matched, *cloneNotification(n))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	return page(matched, f.Offset, f.Limit), nil
}

// ListByUserID returns a page of a user's notifications, newest first, and the total count.
func (r *NotificationRepository) ListByUserID(_ context.Context, userID string, offset, limit int) ([]domain.Notification, int, error) {
	r.mu.RLock()
	matched := make([]domain.Notification, 0)
	for _, n := range r.items {
		if n.UserID == userID {
			matched = append(matched, *cloneNotification(n))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return page(matched, offset, limit), len(matched), nil
}

func matches(n *domain.Notification, f repository.Filter) bool {
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.UserID != "" && n.UserID != f.UserID {
		return false
	}
	if f.AttemptsBelow > 0 && n.DeliveryAttempts >= f.AttemptsBelow {
		return false
	}
	if f.UpdatedBefore != nil && !n.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	return true
}

func page(items []domain.Notification, offset, limit int) []domain.Notification {
	if offset >= len(items) {
		return []domain.Notification{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// PreferenceRepository implements repository.PreferenceRepository using an in-memory map.
type PreferenceRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Preference
}

// NewPreferenceRepository creates an empty in-memory preference store.
func NewPreferenceRepository() *PreferenceRepository {
	return &PreferenceRepository{items: make(map[string]*domain.Preference)}
}

func preferenceKey(userID, notificationType string) string {
	return userID + "/" + notificationType
}

// Get returns a copy of the stored preference.
func (r *PreferenceRepository) Get(_ context.Context, userID, notificationType string) (*domain.Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[preferenceKey(userID, notificationType)]
	if !ok {
		return nil, apperrors.NotFound("preference", preferenceKey(userID, notificationType))
	}
	return clonePreference(p), nil
}

// Create stores a new preference. A second preference for the same user and type is rejected.
func (r *PreferenceRepository) Create(_ context.Context, p *domain.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := preferenceKey(p.UserID, p.NotificationType)
	if _, exists := r.items[key]; exists {
		return apperrors.AlreadyExists("preference", "notification_type", p.NotificationType)
	}
	r.items[key] = clonePreference(p)
	return nil
}

// Update overwrites an existing preference.
func (r *PreferenceRepository) Update(_ context.Context, p *domain.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := preferenceKey(p.UserID, p.NotificationType)
	existing, ok := r.items[key]
	if !ok {
		return apperrors.NotFound("preference", key)
	}
	updated := clonePreference(p)
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	r.items[key] = updated
	return nil
}

// ListByUser returns every stored preference of a user ordered by type.
func (r *PreferenceRepository) ListByUser(_ context.Context, userID string) ([]domain.Preference, error) {
	r.mu.RLock()
	prefs := make([]domain.Preference, 0)
	for _, p := range r.items {
		if p.UserID == userID {
			prefs = append(prefs, *clonePreference(p))
		}
	}
	r.mu.RUnlock()

	sort.Slice(prefs, func(i, j int) bool {
		return prefs[i].NotificationType < prefs[j].NotificationType
	})
	return prefs, nil
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	c := *n
	if n.Data != nil {
		c.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	c.Channels = append([]domain.Channel(nil), n.Channels...)
	c.ScheduledFor = copyPtr(n.ScheduledFor)
	c.SentAt = copyPtr(n.SentAt)
	return &c
}

func clonePreference(p *domain.Preference) *domain.Preference {
	c := *p
	if p.Channels != nil {
		c.Channels = make(map[domain.Channel]bool, len(p.Channels))
		for ch, on := range p.Channels {
			c.Channels[ch] = on
		}
	}
	if p.QuietHours != nil {
		qh := *p.QuietHours
		c.QuietHours = &qh
	}
	return &c
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

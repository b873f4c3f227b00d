package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/repository"
	apperrors "github.com/utafrali/notifier/pkg/errors"
)

// PreferenceService manages per-user, per-type delivery preferences on top of a
// preference store. Missing preferences are created from the type defaults on
// first read.
type PreferenceService struct {
	repo   repository.PreferenceRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewPreferenceService creates a new preference service.
func NewPreferenceService(repo repository.PreferenceRepository, logger *slog.Logger) *PreferenceService {
	return &PreferenceService{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the preference of a user for a notification type. When none is
// stored, the type default is persisted and returned.
func (s *PreferenceService) Get(ctx context.Context, userID, notificationType string) (*domain.Preference, error) {
	if err := validateKey(userID, notificationType); err != nil {
		return nil, err
	}

	pref, err := s.repo.Get(ctx, userID, notificationType)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("get preference: %w", err)
	}

	pref = domain.DefaultPreference(userID, notificationType, s.now())
	pref.ID = uuid.New().String()

	if err := s.repo.Create(ctx, pref); err != nil {
		// Another caller created it first.
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return s.repo.Get(ctx, userID, notificationType)
		}
		return nil, fmt.Errorf("create default preference: %w", err)
	}

	s.logger.InfoContext(ctx, "default preference created",
		slog.String("user_id", userID),
		slog.String("notification_type", notificationType),
	)

	return pref, nil
}

// ListForUser returns the stored preferences of a user plus unpersisted defaults
// for every known type that has no stored preference, ordered by type.
func (s *PreferenceService) ListForUser(ctx context.Context, userID string) ([]domain.Preference, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user_id is required")
	}

	prefs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}

	existing := make(map[string]struct{}, len(prefs))
	for _, p := range prefs {
		existing[p.NotificationType] = struct{}{}
	}

	now := s.now()
	for _, typ := range domain.KnownTypes() {
		if _, ok := existing[typ]; !ok {
			prefs = append(prefs, *domain.DefaultPreference(userID, typ, now))
		}
	}

	sort.Slice(prefs, func(i, j int) bool {
		return prefs[i].NotificationType < prefs[j].NotificationType
	})

	return prefs, nil
}

// Create validates and stores a new preference.
func (s *PreferenceService) Create(ctx context.Context, pref *domain.Preference) error {
	if err := validateKey(pref.UserID, pref.NotificationType); err != nil {
		return err
	}
	if err := pref.Validate(); err != nil {
		return err
	}

	now := s.now()
	if pref.ID == "" {
		pref.ID = uuid.New().String()
	}
	pref.CreatedAt = now
	pref.UpdatedAt = now

	if err := s.repo.Create(ctx, pref); err != nil {
		return fmt.Errorf("create preference: %w", err)
	}

	s.logger.InfoContext(ctx, "preference created",
		slog.String("user_id", pref.UserID),
		slog.String("notification_type", pref.NotificationType),
		slog.String("preference_id", pref.ID),
	)

	return nil
}

// Update merges a partial change into the preference of a user for a type.
// The result is validated before it is stored.
func (s *PreferenceService) Update(ctx context.Context, userID, notificationType string, update *domain.PreferenceUpdate) (*domain.Preference, error) {
	pref, err := s.Get(ctx, userID, notificationType)
	if err != nil {
		return nil, err
	}

	update.Apply(pref, s.now())

	if err := pref.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, pref); err != nil {
		return nil, fmt.Errorf("update preference: %w", err)
	}

	s.logger.InfoContext(ctx, "preference updated",
		slog.String("user_id", userID),
		slog.String("notification_type", notificationType),
	)

	return pref, nil
}

// BulkUpdate applies one update per notification type. A failing type does not
// stop the others.
func (s *PreferenceService) BulkUpdate(ctx context.Context, userID string, updates map[string]*domain.PreferenceUpdate) *domain.BulkPreferenceResult {
	types := make([]string, 0, len(updates))
	for typ := range updates {
		types = append(types, typ)
	}
	sort.Strings(types)

	result := &domain.BulkPreferenceResult{
		Errors:  make([]string, 0),
		Updated: make([]domain.Preference, 0, len(types)),
	}

	for _, typ := range types {
		result.Total++
		pref, err := s.Update(ctx, userID, typ, updates[typ])
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", typ, err))
			continue
		}
		result.Successful++
		result.Updated = append(result.Updated, *pref)
	}

	s.logger.InfoContext(ctx, "bulk preference update completed",
		slog.String("user_id", userID),
		slog.Int("total", result.Total),
		slog.Int("successful", result.Successful),
		slog.Int("failed", result.Failed),
	)

	return result
}

// SetGlobalChannels merges the given channel switches into every preference of the user.
func (s *PreferenceService) SetGlobalChannels(ctx context.Context, userID string, channels map[domain.Channel]bool) (*domain.BulkPreferenceResult, error) {
	return s.updateAll(ctx, userID, func(domain.Preference) *domain.PreferenceUpdate {
		return &domain.PreferenceUpdate{Channels: channels}
	})
}

// SetGlobalQuietHours sets quiet hours on every non-critical preference of the
// user. A nil window clears them.
func (s *PreferenceService) SetGlobalQuietHours(ctx context.Context, userID string, qh *domain.QuietHours) (*domain.BulkPreferenceResult, error) {
	return s.updateAll(ctx, userID, func(p domain.Preference) *domain.PreferenceUpdate {
		if domain.IsCriticalType(p.NotificationType) {
			return nil
		}
		if qh == nil {
			return &domain.PreferenceUpdate{ClearQuietHours: true}
		}
		return &domain.PreferenceUpdate{QuietHours: qh}
	})
}

// SetAll enables or disables every preference of the user.
func (s *PreferenceService) SetAll(ctx context.Context, userID string, enabled bool) (*domain.BulkPreferenceResult, error) {
	return s.updateAll(ctx, userID, func(domain.Preference) *domain.PreferenceUpdate {
		return &domain.PreferenceUpdate{Enabled: &enabled}
	})
}

// updateAll builds one update per preference of the user; a nil update skips the type.
func (s *PreferenceService) updateAll(ctx context.Context, userID string, build func(domain.Preference) *domain.PreferenceUpdate) (*domain.BulkPreferenceResult, error) {
	prefs, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]*domain.PreferenceUpdate, len(prefs))
	for _, p := range prefs {
		if u := build(p); u != nil {
			updates[p.NotificationType] = u
		}
	}

	return s.BulkUpdate(ctx, userID, updates), nil
}

func validateKey(userID, notificationType string) error {
	if userID == "" {
		return apperrors.InvalidInput("user_id is required")
	}
	if notificationType == "" {
		return apperrors.InvalidInput("notification_type is required")
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/repository"
	"github.com/utafrali/notifier/pkg/database"
	apperrors "github.com/utafrali/notifier/pkg/errors"
)

// helper to build a sample notification for tests.
func sampleNotification() *domain.Notification {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	return &domain.Notification{
		ID:        "6f1d2b3c-0000-4a5c-9a43-000000000001",
		UserID:    "0b4c6a4e-8f0e-4a5c-9a43-6f1d2b3c4d5e",
		Type:      domain.TypeSecurityAlert,
		Priority:  domain.PriorityHigh,
		Title:     "New sign-in",
		Message:   "A new device signed in to your account.",
		Data:      map[string]any{"email": "jane@example.com"},
		Channels:  []domain.Channel{domain.ChannelEmail, domain.ChannelPush},
		Status:    domain.StatusQueued,
		DedupKey:  "signin-42",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var notificationCols = []string{
	"id", "user_id", "type", "priority", "title", "message", "data", "channels", "status",
	"delivery_attempts", "scheduled_for", "dedup_key", "error_message", "sent_at", "created_at", "updated_at",
}

func notificationRow(t *testing.T, n *domain.Notification) []any {
	t.Helper()
	dataJSON, err := json.Marshal(n.Data)
	require.NoError(t, err)
	return []any{
		n.ID, n.UserID, n.Type, string(n.Priority), n.Title, n.Message, dataJSON,
		channelStrings(n.Channels), string(n.Status), n.DeliveryAttempts, n.ScheduledFor,
		nullString(n.DedupKey), nullString(n.ErrorMessage), n.SentAt, n.CreatedAt, n.UpdatedAt,
	}
}

// ─── Create ──────────────────────────────────────────────────────────────────

func TestNotificationRepository_Create_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)
	n := sampleNotification()

	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(notificationRow(t, n)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), n)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_Create_ExecError(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)
	n := sampleNotification()

	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(notificationRow(t, n)...).
		WillReturnError(errors.New("connection refused"))

	err = repo.Create(context.Background(), n)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insert notification")

	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── UpdateStatus ────────────────────────────────────────────────────────────

func TestNotificationRepository_UpdateStatus_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)
	n := sampleNotification()
	sentAt := n.CreatedAt.Add(time.Second)
	require.NoError(t, n.TransitionTo(domain.StatusSent, sentAt))

	mock.ExpectExec("UPDATE notifications").
		WithArgs("sent", 0, nullString(""), n.SentAt, sentAt, n.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.UpdateStatus(context.Background(), n.ID, repository.StatusUpdateFrom(n))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_UpdateStatus_Failed(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)
	n := sampleNotification()
	require.NoError(t, n.TransitionTo(domain.StatusFailed, n.CreatedAt))
	n.ErrorMessage = "email: transport error"

	mock.ExpectExec("UPDATE notifications").
		WithArgs("failed", 1, nullString("email: transport error"), n.SentAt, n.UpdatedAt, n.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.UpdateStatus(context.Background(), n.ID, repository.StatusUpdateFrom(n))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_UpdateStatus_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)
	n := sampleNotification()

	mock.ExpectExec("UPDATE notifications").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), n.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.UpdateStatus(context.Background(), n.ID, repository.StatusUpdateFrom(n))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── GetByID ─────────────────────────────────────────────────────────────────

func TestNotificationRepository_GetByID_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)
	n := sampleNotification()

	mock.ExpectQuery("SELECT .+ FROM notifications WHERE id").
		WithArgs(n.ID).
		WillReturnRows(pgxmock.NewRows(notificationCols).AddRow(notificationRow(t, n)...))

	result, err := repo.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, result.ID)
	assert.Equal(t, n.UserID, result.UserID)
	assert.Equal(t, domain.PriorityHigh, result.Priority)
	assert.Equal(t, domain.StatusQueued, result.Status)
	assert.Equal(t, n.Channels, result.Channels)
	assert.Equal(t, "signin-42", result.DedupKey)
	assert.Equal(t, "", result.ErrorMessage)
	assert.Equal(t, "jane@example.com", result.Data["email"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_GetByID_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM notifications WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(notificationCols))

	_, err = repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── List ────────────────────────────────────────────────────────────────────

func TestNotificationRepository_List_RetryFilter(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)
	n := sampleNotification()
	require.NoError(t, n.TransitionTo(domain.StatusFailed, n.CreatedAt))
	cutoff := n.CreatedAt.Add(time.Minute)

	mock.ExpectQuery(`SELECT .+ FROM notifications WHERE status = \$1 AND delivery_attempts < \$2 AND updated_at < \$3 ORDER BY created_at ASC LIMIT \$4`).
		WithArgs("failed", 3, cutoff, 100).
		WillReturnRows(pgxmock.NewRows(notificationCols).AddRow(notificationRow(t, n)...))

	result, err := repo.List(context.Background(), repository.Filter{
		Status:        domain.StatusFailed,
		AttemptsBelow: 3,
		UpdatedBefore: &cutoff,
		Limit:         100,
	})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, domain.StatusFailed, result[0].Status)
	assert.Equal(t, 1, result[0].DeliveryAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_List_NoFilter(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)

	mock.ExpectQuery(`SELECT .+ FROM notifications ORDER BY created_at ASC$`).
		WillReturnRows(pgxmock.NewRows(notificationCols))

	result, err := repo.List(context.Background(), repository.Filter{})
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_List_QueryError(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM notifications").
		WithArgs("u-1").
		WillReturnError(errors.New("connection reset"))

	_, err = repo.List(context.Background(), repository.Filter{UserID: "u-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list notifications")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── ListByUserID ────────────────────────────────────────────────────────────

func TestNotificationRepository_ListByUserID_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)
	n1 := sampleNotification()
	n2 := sampleNotification()
	n2.ID = "6f1d2b3c-0000-4a5c-9a43-000000000002"

	cols := append(append([]string{}, notificationCols...), "total_count")
	mock.ExpectQuery("SELECT .+ FROM notifications").
		WithArgs(n1.UserID, 10, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(append(notificationRow(t, n1), 2)...).
			AddRow(append(notificationRow(t, n2), 2)...))

	result, total, err := repo.ListByUserID(context.Background(), n1.UserID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, result, 2)
	assert.Equal(t, n2.ID, result[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_ListByUserID_Empty(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationRepository(mock)
	cols := append(append([]string{}, notificationCols...), "total_count")

	mock.ExpectQuery("SELECT .+ FROM notifications").
		WithArgs("u-none", 20, 0).
		WillReturnRows(pgxmock.NewRows(cols))

	result, total, err := repo.ListByUserID(context.Background(), "u-none", 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

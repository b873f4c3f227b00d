package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/repository"
	"github.com/utafrali/notifier/pkg/database"
	apperrors "github.com/utafrali/notifier/pkg/errors"
)

const notificationColumns = `id, user_id, type, priority, title, message, data, channels, status,
		delivery_attempts, scheduled_for, dedup_key, error_message, sent_at, created_at, updated_at`

// NotificationRepository implements repository.NotificationRepository using PostgreSQL.
type NotificationRepository struct {
	pool database.DBTX
}

// NewNotificationRepository creates a new PostgreSQL-backed notification repository.
func NewNotificationRepository(pool database.DBTX) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create inserts a new notification into the database.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	dataJSON, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.pool.Exec(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		string(n.Priority),
		n.Title,
		n.Message,
		dataJSON,
		channelStrings(n.Channels),
		string(n.Status),
		n.DeliveryAttempts,
		n.ScheduledFor,
		nullString(n.DedupKey),
		nullString(n.ErrorMessage),
		n.SentAt,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// UpdateStatus writes the delivery state of a notification.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id string, u repository.StatusUpdate) error {
	query := `
		UPDATE notifications
		SET status = $1, delivery_attempts = $2, error_message = $3, sent_at = $4, updated_at = $5
		WHERE id = $6`

	ct, err := r.pool.Exec(ctx, query,
		string(u.Status),
		u.DeliveryAttempts,
		nullString(u.ErrorMessage),
		u.SentAt,
		u.UpdatedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("notification", id)
	}

	return nil
}

// GetByID retrieves a notification by its ID.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("notification", id)
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}

	return n, nil
}

// List returns notifications matching the filter, oldest first.
func (r *NotificationRepository) List(ctx context.Context, f repository.Filter) ([]domain.Notification, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		conds = append(conds, "status = "+arg(string(f.Status)))
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = "+arg(f.UserID))
	}
	if f.AttemptsBelow > 0 {
		conds = append(conds, "delivery_attempts < "+arg(f.AttemptsBelow))
	}
	if f.UpdatedBefore != nil {
		conds = append(conds, "updated_at < "+arg(*f.UpdatedBefore))
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		notifications = append(notifications, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification rows: %w", err)
	}

	return notifications, nil
}

// ListByUserID returns notifications for a specific user with pagination.
func (r *NotificationRepository) ListByUserID(ctx context.Context, userID string, offset, limit int) ([]domain.Notification, int, error) {
	query := `
		SELECT ` + notificationColumns + `,
		       count(*) OVER() AS total_count
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications by user: %w", err)
	}
	defer rows.Close()

	var totalCount int
	notifications := make([]domain.Notification, 0)

	for rows.Next() {
		n, err := scanNotification(rows, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification row: %w", err)
		}
		notifications = append(notifications, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notification rows: %w", err)
	}

	return notifications, totalCount, nil
}

// scanNotification reads one row in notificationColumns order, followed by any extra destinations.
func scanNotification(row pgx.Row, extra ...any) (*domain.Notification, error) {
	var (
		n            domain.Notification
		priority     string
		status       string
		dataJSON     []byte
		channels     []string
		dedupKey     *string
		errorMessage *string
	)

	dest := []any{
		&n.ID,
		&n.UserID,
		&n.Type,
		&priority,
		&n.Title,
		&n.Message,
		&dataJSON,
		&channels,
		&status,
		&n.DeliveryAttempts,
		&n.ScheduledFor,
		&dedupKey,
		&errorMessage,
		&n.SentAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	}

	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	n.Priority = domain.Priority(priority)
	n.Status = domain.Status(status)
	n.Channels = make([]domain.Channel, 0, len(channels))
	for _, c := range channels {
		n.Channels = append(n.Channels, domain.Channel(c))
	}
	if dedupKey != nil {
		n.DedupKey = *dedupKey
	}
	if errorMessage != nil {
		n.ErrorMessage = *errorMessage
	}

	if dataJSON != nil {
		if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}

	return &n, nil
}

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

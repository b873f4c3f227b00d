package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/pkg/database"
	apperrors "github.com/utafrali/notifier/pkg/errors"
)

const preferenceColumns = `id, user_id, notification_type, enabled, channels, quiet_hours, frequency, created_at, updated_at`

// uniqueViolation is the PostgreSQL error code for a unique constraint violation.
const uniqueViolation = "23505"

// PreferenceRepository implements repository.PreferenceRepository using PostgreSQL.
type PreferenceRepository struct {
	pool database.DBTX
}

// NewPreferenceRepository creates a new PostgreSQL-backed preference repository.
func NewPreferenceRepository(pool database.DBTX) *PreferenceRepository {
	return &PreferenceRepository{pool: pool}
}

// Get returns the preference of a user for a notification type.
func (r *PreferenceRepository) Get(ctx context.Context, userID, notificationType string) (*domain.Preference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences WHERE user_id = $1 AND notification_type = $2`

	p, err := scanPreference(r.pool.QueryRow(ctx, query, userID, notificationType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("preference", userID+"/"+notificationType)
		}
		return nil, fmt.Errorf("scan preference: %w", err)
	}

	return p, nil
}

// Create inserts a new preference.
func (r *PreferenceRepository) Create(ctx context.Context, p *domain.Preference) error {
	channelsJSON, quietJSON, err := marshalPreference(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_preferences (` + preferenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.UserID,
		p.NotificationType,
		p.Enabled,
		channelsJSON,
		quietJSON,
		string(p.Frequency),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.AlreadyExists("preference", "notification_type", p.NotificationType)
		}
		return fmt.Errorf("insert preference: %w", err)
	}

	return nil
}

// Update overwrites an existing preference identified by user and type.
func (r *PreferenceRepository) Update(ctx context.Context, p *domain.Preference) error {
	channelsJSON, quietJSON, err := marshalPreference(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE notification_preferences
		SET enabled = $1, channels = $2, quiet_hours = $3, frequency = $4, updated_at = $5
		WHERE user_id = $6 AND notification_type = $7`

	ct, err := r.pool.Exec(ctx, query,
		p.Enabled,
		channelsJSON,
		quietJSON,
		string(p.Frequency),
		p.UpdatedAt,
		p.UserID,
		p.NotificationType,
	)
	if err != nil {
		return fmt.Errorf("update preference: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("preference", p.UserID+"/"+p.NotificationType)
	}

	return nil
}

// ListByUser returns every stored preference of a user ordered by type.
func (r *PreferenceRepository) ListByUser(ctx context.Context, userID string) ([]domain.Preference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences WHERE user_id = $1 ORDER BY notification_type`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	prefs := make([]domain.Preference, 0)
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference row: %w", err)
		}
		prefs = append(prefs, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preference rows: %w", err)
	}

	return prefs, nil
}

func marshalPreference(p *domain.Preference) (channelsJSON, quietJSON []byte, err error) {
	channelsJSON, err = json.Marshal(p.Channels)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal channels: %w", err)
	}
	if p.QuietHours != nil {
		quietJSON, err = json.Marshal(p.QuietHours)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal quiet hours: %w", err)
		}
	}
	return channelsJSON, quietJSON, nil
}

func scanPreference(row pgx.Row) (*domain.Preference, error) {
	var (
		p            domain.Preference
		channelsJSON []byte
		quietJSON    []byte
		frequency    string
	)

	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.NotificationType,
		&p.Enabled,
		&channelsJSON,
		&quietJSON,
		&frequency,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Frequency = domain.Frequency(frequency)

	if err := json.Unmarshal(channelsJSON, &p.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if len(quietJSON) > 0 {
		var qh domain.QuietHours
		if err := json.Unmarshal(quietJSON, &qh); err != nil {
			return nil, fmt.Errorf("unmarshal quiet hours: %w", err)
		}
		p.QuietHours = &qh
	}

	return &p, nil
}

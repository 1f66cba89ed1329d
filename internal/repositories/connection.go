package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soundlens/soundlens/internal/models"
	"github.com/soundlens/soundlens/internal/shared"
)

// ConnectionRepository persists per-user Spotify OAuth credentials. It
// implements services.ConnectionStore.
type ConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a new ConnectionRepository with the given database connection.
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create inserts a connection. When a row for the same (user, external
// account) pair already exists it is reactivated with the new token bundle
// instead, preserving its local id.
func (r *ConnectionRepository) Create(ctx context.Context, conn *models.Connection) error {
	if conn.UserID == "" || conn.ExternalUserID == "" {
		return fmt.Errorf("%w: user id and external user id are required", shared.ErrInvalidInput)
	}

	query := `
		INSERT INTO connections (id, user_id, external_user_id, access_token, refresh_token, token_expires_at, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id, external_user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			is_active = 1,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		shared.GenerateID(),
		conn.UserID,
		conn.ExternalUserID,
		conn.AccessToken,
		conn.RefreshToken,
		conn.TokenExpiresAt,
		conn.CreatedAt,
		conn.UpdatedAt,
	).Scan(&conn.ID, &conn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert connection: %w", err)
	}

	return nil
}

// FindByUserID retrieves the user's connection regardless of its active flag,
// so callers can distinguish "never connected" from "deactivated". Returns
// (nil, nil) when no row exists.
func (r *ConnectionRepository) FindByUserID(ctx context.Context, userID string) (*models.Connection, error) {
	query := `
		SELECT id, user_id, external_user_id, access_token, refresh_token, token_expires_at, is_active, last_sync_at, created_at, updated_at
		FROM connections
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var (
		conn       models.Connection
		isActive   int
		lastSyncAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&conn.ID,
		&conn.UserID,
		&conn.ExternalUserID,
		&conn.AccessToken,
		&conn.RefreshToken,
		&conn.TokenExpiresAt,
		&isActive,
		&lastSyncAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query connection: %w", err)
	}

	conn.IsActive = isActive != 0
	if lastSyncAt.Valid {
		conn.LastSyncAt = &lastSyncAt.Time
	}

	return &conn, nil
}

// UpdateTokens stores a refreshed token bundle for the user's connection.
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE connections
		SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		WHERE user_id = ?
	`

	return r.exec(ctx, query, userID, accessToken, refreshToken, expiresAt, time.Now(), userID)
}

// Deactivate flips the connection inactive. The flag only transitions back
// through Create on a fresh authorization.
func (r *ConnectionRepository) Deactivate(ctx context.Context, userID string) error {
	query := `
		UPDATE connections
		SET is_active = 0, updated_at = ?
		WHERE user_id = ?
	`

	return r.exec(ctx, query, userID, time.Now(), userID)
}

// MarkLastSync records the completion time of a sync attempt.
func (r *ConnectionRepository) MarkLastSync(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE connections
		SET last_sync_at = ?, updated_at = ?
		WHERE user_id = ?
	`

	return r.exec(ctx, query, userID, at, time.Now(), userID)
}

func (r *ConnectionRepository) exec(ctx context.Context, query, userID string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: connection for user %s", shared.ErrNotFound, userID)
	}

	return nil
}

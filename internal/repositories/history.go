package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soundlens/soundlens/internal/models"
	"github.com/soundlens/soundlens/internal/shared"
)

// HistoryRepository appends play events. The (user, track, played_at) natural
// key is enforced defensively: the external service reports a finite
// timestamp-indexed stream, so re-syncing an overlapping window must not
// duplicate events.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new HistoryRepository with the given database connection.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// RecordPlayEvent appends one play event. The returned bool reports whether a
// new row was written; false means the natural key already existed and the
// stored event is returned instead.
func (r *HistoryRepository) RecordPlayEvent(ctx context.Context, userID, trackID string, playedAt time.Time, playContext *models.PlayContext) (*models.PlayEvent, bool, error) {
	if userID == "" || trackID == "" {
		return nil, false, fmt.Errorf("%w: user id and track id are required", shared.ErrInvalidInput)
	}

	contextJSON, err := marshalJSON(playContext)
	if err != nil {
		return nil, false, err
	}

	event := &models.PlayEvent{
		ID:        shared.GenerateID(),
		UserID:    userID,
		TrackID:   trackID,
		PlayedAt:  playedAt,
		Context:   playContext,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO play_events (id, user_id, track_id, played_at, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, track_id, played_at) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, event.ID, userID, trackID, playedAt, contextJSON, event.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert play event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows > 0 {
		return event, true, nil
	}

	existing, err := r.find(ctx, userID, trackID, playedAt)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// CountForUser returns the number of stored play events for a user.
func (r *HistoryRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM play_events WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count play events: %w", err)
	}
	return count, nil
}

func (r *HistoryRepository) find(ctx context.Context, userID, trackID string, playedAt time.Time) (*models.PlayEvent, error) {
	query := `
		SELECT id, user_id, track_id, played_at, created_at
		FROM play_events
		WHERE user_id = ? AND track_id = ? AND played_at = ?
	`

	var event models.PlayEvent
	err := r.db.QueryRowContext(ctx, query, userID, trackID, playedAt).Scan(
		&event.ID,
		&event.UserID,
		&event.TrackID,
		&event.PlayedAt,
		&event.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: play event", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query play event: %w", err)
	}

	return &event, nil
}

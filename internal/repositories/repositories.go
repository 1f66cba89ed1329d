// package repositories provides the persistence layer for the sync service.
//
// Entity tables (artists, albums, tracks) have a single write path: an atomic
// insert-or-update keyed on the Spotify external id, so concurrent syncs can
// never produce duplicate rows for the same external entity.
package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soundlens/soundlens/internal/shared"
)

// upsertByExternalID executes an insert that converts to an update of the
// mutable column set when the external id already exists. The surviving row's
// local id and created_at are returned, so callers observe a stable identity
// across re-syncs.
func upsertByExternalID(db *sql.DB, table string, externalID string, cols []string, vals []any, now time.Time) (string, time.Time, error) {
	insertCols := append([]string{"id", "external_id"}, cols...)
	insertCols = append(insertCols, "created_at", "updated_at")

	args := append([]any{shared.GenerateID(), externalID}, vals...)
	args = append(args, now, now)

	var updates []string
	for _, col := range cols {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	updates = append(updates, "updated_at = excluded.updated_at")

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(external_id) DO UPDATE SET %s RETURNING id, created_at",
		table,
		strings.Join(insertCols, ", "),
		placeholders(len(insertCols)),
		strings.Join(updates, ", "),
	)

	var id string
	var createdAt time.Time
	if err := db.QueryRow(query, args...).Scan(&id, &createdAt); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to upsert %s: %w", table, err)
	}

	return id, createdAt, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// marshalJSON serializes v for a nullable TEXT column, mapping empty values
// to NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	if string(data) == "null" || string(data) == "{}" || string(data) == "[]" {
		return nil, nil
	}
	return string(data), nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

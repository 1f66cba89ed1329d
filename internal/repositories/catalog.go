package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soundlens/soundlens/internal/models"
)

// CatalogRepository reconciles externally-sourced artists, albums and tracks
// against the local store. All writes go through the conflict-aware upsert in
// repositories.go, keyed on each entity's Spotify external id.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a new CatalogRepository with the given database connection.
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// UpsertArtist inserts or updates an artist keyed on its external id. The
// update path overwrites the mutable fields and preserves the local id and
// creation timestamp.
func (r *CatalogRepository) UpsertArtist(ctx context.Context, artist *models.Artist) (*models.Artist, error) {
	if artist.ExternalID == "" {
		return nil, fmt.Errorf("artist external id is required")
	}

	genres, err := marshalJSON(artist.Genres)
	if err != nil {
		return nil, err
	}
	urls, err := marshalJSON(artist.ExternalURLs)
	if err != nil {
		return nil, err
	}

	cols := []string{"name", "genres", "popularity", "image_url", "external_urls", "followers"}
	vals := []any{artist.Name, genres, nullInt(artist.Popularity), nullString(artist.ImageURL), urls, nullInt(artist.Followers)}

	id, createdAt, err := upsertByExternalID(r.db, "artists", artist.ExternalID, cols, vals, time.Now())
	if err != nil {
		return nil, err
	}

	artist.ID = id
	artist.CreatedAt = createdAt
	return artist, nil
}

// UpsertAlbum inserts or updates an album keyed on its external id.
func (r *CatalogRepository) UpsertAlbum(ctx context.Context, album *models.Album) (*models.Album, error) {
	if album.ExternalID == "" {
		return nil, fmt.Errorf("album external id is required")
	}

	urls, err := marshalJSON(album.ExternalURLs)
	if err != nil {
		return nil, err
	}

	cols := []string{"name", "release_date", "total_tracks", "image_url", "external_urls"}
	vals := []any{album.Name, nullString(album.ReleaseDate), nullInt(album.TotalTracks), nullString(album.ImageURL), urls}

	id, createdAt, err := upsertByExternalID(r.db, "albums", album.ExternalID, cols, vals, time.Now())
	if err != nil {
		return nil, err
	}

	album.ID = id
	album.CreatedAt = createdAt
	return album, nil
}

// UpsertTrack inserts or updates a track along with the album and artists its
// payload embeds. The album and artists are written first so the track row's
// references resolve, then the track↔artist and album↔artist links.
func (r *CatalogRepository) UpsertTrack(ctx context.Context, track *models.Track, album *models.Album, artists []*models.Artist) (*models.Track, error) {
	if track.ExternalID == "" {
		return nil, fmt.Errorf("track external id is required")
	}

	var albumID *string
	if album != nil {
		stored, err := r.UpsertAlbum(ctx, album)
		if err != nil {
			return nil, err
		}
		albumID = &stored.ID
	}

	artistIDs := make([]string, 0, len(artists))
	for _, artist := range artists {
		stored, err := r.UpsertArtist(ctx, artist)
		if err != nil {
			return nil, err
		}
		artistIDs = append(artistIDs, stored.ID)
	}

	urls, err := marshalJSON(track.ExternalURLs)
	if err != nil {
		return nil, err
	}

	var features any
	if len(track.AudioFeatures) > 0 {
		features = string(track.AudioFeatures)
	}

	cols := []string{"name", "album_id", "duration_ms", "popularity", "explicit", "preview_url", "track_number", "external_urls", "audio_features"}
	vals := []any{track.Name, nullString(albumID), track.DurationMS, nullInt(track.Popularity), track.Explicit, nullString(track.PreviewURL), nullInt(track.TrackNumber), urls, features}

	id, createdAt, err := upsertByExternalID(r.db, "tracks", track.ExternalID, cols, vals, time.Now())
	if err != nil {
		return nil, err
	}

	track.ID = id
	track.AlbumID = albumID
	track.CreatedAt = createdAt

	for _, artistID := range artistIDs {
		if err := r.link(ctx, "track_artists", "track_id", id, artistID); err != nil {
			return nil, err
		}
		if albumID != nil {
			if err := r.link(ctx, "album_artists", "album_id", *albumID, artistID); err != nil {
				return nil, err
			}
		}
	}

	return track, nil
}

// FindArtistByExternalID looks up an artist row by Spotify id.
func (r *CatalogRepository) FindArtistByExternalID(ctx context.Context, externalID string) (*models.Artist, error) {
	query := `
		SELECT id, external_id, name, popularity, image_url, followers, created_at, updated_at
		FROM artists
		WHERE external_id = ?
	`

	var (
		artist     models.Artist
		popularity sql.NullInt64
		imageURL   sql.NullString
		followers  sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, query, externalID).Scan(
		&artist.ID,
		&artist.ExternalID,
		&artist.Name,
		&popularity,
		&imageURL,
		&followers,
		&artist.CreatedAt,
		&artist.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artist: %w", err)
	}

	if popularity.Valid {
		v := int(popularity.Int64)
		artist.Popularity = &v
	}
	if imageURL.Valid {
		v := imageURL.String
		artist.ImageURL = &v
	}
	if followers.Valid {
		v := int(followers.Int64)
		artist.Followers = &v
	}

	return &artist, nil
}

// FindTrackByExternalID looks up a track row by Spotify id.
func (r *CatalogRepository) FindTrackByExternalID(ctx context.Context, externalID string) (*models.Track, error) {
	query := `
		SELECT id, external_id, name, album_id, duration_ms, explicit, created_at, updated_at
		FROM tracks
		WHERE external_id = ?
	`

	var (
		track   models.Track
		albumID sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, externalID).Scan(
		&track.ID,
		&track.ExternalID,
		&track.Name,
		&albumID,
		&track.DurationMS,
		&track.Explicit,
		&track.CreatedAt,
		&track.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query track: %w", err)
	}

	if albumID.Valid {
		v := albumID.String
		track.AlbumID = &v
	}

	return &track, nil
}

// link records a many-to-many association, ignoring duplicates under the
// composite primary key.
func (r *CatalogRepository) link(ctx context.Context, table, leftCol, leftID, artistID string) error {
	query := fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s, artist_id, created_at) VALUES (?, ?, ?)",
		table, leftCol,
	)

	if _, err := r.db.ExecContext(ctx, query, leftID, artistID, time.Now()); err != nil {
		return fmt.Errorf("failed to link %s: %w", table, err)
	}

	return nil
}

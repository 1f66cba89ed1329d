// package tasks implements the data synchronization engine.
//
// The core abstraction is Syncer, which sequences one user's sync run:
// connection validation, recently-played ingestion, top-item ingestion across
// the fixed time windows, and sync-completion bookkeeping. Every stage after
// validation degrades gracefully; failures are aggregated into the returned
// SyncResult instead of aborting the run.
package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/soundlens/soundlens/internal/models"
	"github.com/soundlens/soundlens/internal/services"
	"github.com/soundlens/soundlens/internal/shared"
)

// SpotifyAPI is the slice of the API client a sync run needs.
type SpotifyAPI interface {
	RecentlyPlayed(ctx context.Context, accessToken string, limit int, after string) (*services.SpotifyRecentlyPlayed, error)
	TopArtists(ctx context.Context, accessToken string, timeRange models.TimeRange, limit, offset int) (*services.SpotifyTopArtists, error)
	TopTracks(ctx context.Context, accessToken string, timeRange models.TimeRange, limit, offset int) (*services.SpotifyTopTracks, error)
}

// Catalog is the slice of the upsert pipeline a sync run needs.
type Catalog interface {
	UpsertArtist(ctx context.Context, artist *models.Artist) (*models.Artist, error)
	UpsertTrack(ctx context.Context, track *models.Track, album *models.Album, artists []*models.Artist) (*models.Track, error)
}

// History records play events.
type History interface {
	RecordPlayEvent(ctx context.Context, userID, trackID string, playedAt time.Time, playContext *models.PlayContext) (*models.PlayEvent, bool, error)
}

// Syncer orchestrates per-user sync runs. Runs for distinct users may execute
// concurrently; within a run all stages are strictly sequential because the
// external API enforces a shared per-user rate limit.
type Syncer struct {
	store   services.ConnectionStore
	auth    services.TokenProvider
	spotify SpotifyAPI
	catalog Catalog
	history History
	logger  *log.Logger
	cfg     shared.SyncConfig
	now     func() time.Time
}

// NewSyncer creates a Syncer with the provided collaborators.
func NewSyncer(store services.ConnectionStore, auth services.TokenProvider, spotify SpotifyAPI, catalog Catalog, history History, cfg shared.SyncConfig, logger *log.Logger) *Syncer {
	return &Syncer{
		store:   store,
		auth:    auth,
		spotify: spotify,
		catalog: catalog,
		history: history,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SyncUserData runs one full sync for a user and never returns an error:
// partial failures are accumulated in the result's Errors slice. The only
// all-or-nothing abort point is connection validation, which short-circuits
// with zero external calls.
func (s *Syncer) SyncUserData(ctx context.Context, userID string) *models.SyncResult {
	result := &models.SyncResult{Errors: []string{}}
	logger := s.logger.With("user_id", userID)

	conn, err := s.store.FindByUserID(ctx, userID)
	if err != nil || conn == nil || !conn.IsActive {
		if err != nil {
			logger.Error("failed to load connection", "error", err)
		}
		result.Errors = append(result.Errors, "No active Spotify connection found")
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	s.syncRecentlyPlayed(ctx, userID, result)
	s.syncTopItems(ctx, userID, result)

	// A sync attempt counts as completed even when partially failed, so the
	// next scheduled run follows the normal cadence instead of retrying in a
	// tight loop. Finalization outlives a run timeout.
	if err := s.store.MarkLastSync(context.WithoutCancel(ctx), userID, s.now()); err != nil {
		logger.Error("failed to mark sync completion", "error", err)
		result.Errors = append(result.Errors, "Failed to record sync completion")
	}

	logger.Info("sync finished",
		"recent", result.RecentTracks,
		"tracks", result.NewTracks,
		"artists", result.NewArtists,
		"events", result.ListeningEvents,
		"errors", len(result.Errors),
	)

	return result
}

// GetSyncStatus reports connection health and the next scheduled sync time.
// nextSyncAt is lastSyncAt plus the configured interval; a user who has never
// synced is due immediately.
func (s *Syncer) GetSyncStatus(ctx context.Context, userID string) (*models.SyncStatus, error) {
	conn, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return &models.SyncStatus{}, nil
	}

	status := &models.SyncStatus{
		IsConnected: true,
		IsActive:    conn.IsActive,
		LastSyncAt:  conn.LastSyncAt,
	}

	if conn.LastSyncAt != nil {
		next := conn.LastSyncAt.Add(s.cfg.Interval())
		status.NextSyncAt = &next
	} else {
		now := s.now()
		status.NextSyncAt = &now
	}

	return status, nil
}

func (s *Syncer) syncRecentlyPlayed(ctx context.Context, userID string, result *models.SyncResult) {
	accessToken, err := s.auth.ValidAccessToken(ctx, userID)
	if err != nil {
		s.logger.Error("recently-played sync failed", "user_id", userID, "error", err)
		result.Errors = append(result.Errors, "Failed to sync recently played tracks")
		return
	}

	page, err := s.spotify.RecentlyPlayed(ctx, accessToken, s.recentLimit(), "")
	if err != nil {
		s.logger.Error("recently-played sync failed", "user_id", userID, "error", err)
		result.Errors = append(result.Errors, "Failed to sync recently played tracks")
		return
	}

	for _, item := range page.Items {
		track, err := s.processTrack(ctx, item.Track, result)
		if err != nil {
			s.logger.Error("failed to process track", "track", item.Track.Name, "error", err)
			result.Errors = append(result.Errors, "Failed to process track: "+item.Track.Name)
			continue
		}
		result.NewTracks++

		playedAt, err := time.Parse(time.RFC3339, item.PlayedAt)
		if err != nil {
			result.Errors = append(result.Errors, "Failed to process track: "+item.Track.Name)
			continue
		}

		_, inserted, err := s.history.RecordPlayEvent(ctx, userID, track.ID, playedAt, item.Context)
		if err != nil {
			s.logger.Error("failed to record play event", "track", item.Track.Name, "error", err)
			result.Errors = append(result.Errors, "Failed to process track: "+item.Track.Name)
			continue
		}
		if inserted {
			result.ListeningEvents++
		}
	}

	result.RecentTracks = len(page.Items)
}

func (s *Syncer) syncTopItems(ctx context.Context, userID string, result *models.SyncResult) {
	for _, timeRange := range models.TimeRanges() {
		accessToken, err := s.auth.ValidAccessToken(ctx, userID)
		if err != nil {
			s.windowFailed(result, timeRange, err)
			continue
		}

		topArtists, err := s.spotify.TopArtists(ctx, accessToken, timeRange, s.topLimit(), 0)
		if err != nil {
			s.windowFailed(result, timeRange, err)
			continue
		}

		topTracks, err := s.spotify.TopTracks(ctx, accessToken, timeRange, s.topLimit(), 0)
		if err != nil {
			s.windowFailed(result, timeRange, err)
			continue
		}

		for _, artist := range topArtists.Items {
			if _, err := s.catalog.UpsertArtist(ctx, artistModel(artist)); err != nil {
				s.logger.Error("failed to upsert artist", "artist", artist.Name, "error", err)
				result.Errors = append(result.Errors, "Failed to process artist: "+artist.Name)
				continue
			}
			result.NewArtists++
		}

		for _, track := range topTracks.Items {
			if _, err := s.processTrack(ctx, track, result); err != nil {
				s.logger.Error("failed to process track", "track", track.Name, "error", err)
				result.Errors = append(result.Errors, "Failed to process track: "+track.Name)
				continue
			}
			result.NewTracks++
		}
	}
}

func (s *Syncer) windowFailed(result *models.SyncResult, timeRange models.TimeRange, err error) {
	s.logger.Error("top-items sync failed", "time_range", timeRange, "error", err)
	result.Errors = append(result.Errors, "Failed to sync top items for "+string(timeRange))
}

// processTrack converts a Spotify track payload into local entities and runs
// it through the upsert pipeline, cascading to its embedded album and artists.
func (s *Syncer) processTrack(ctx context.Context, st services.SpotifyTrack, result *models.SyncResult) (*models.Track, error) {
	var album *models.Album
	if st.Album.ID != "" {
		album = albumModel(st.Album)
	}

	artists := make([]*models.Artist, 0, len(st.Artists))
	for _, artist := range st.Artists {
		artists = append(artists, artistModel(artist))
	}

	track := &models.Track{
		ExternalID:   st.ID,
		Name:         st.Name,
		DurationMS:   st.DurationMS,
		Popularity:   optionalInt(st.Popularity),
		Explicit:     st.Explicit,
		PreviewURL:   st.PreviewURL,
		TrackNumber:  optionalInt(st.TrackNumber),
		ExternalURLs: st.ExternalURLs,
	}

	stored, err := s.catalog.UpsertTrack(ctx, track, album, artists)
	if err != nil {
		return nil, err
	}
	if album != nil {
		result.NewAlbums++
	}
	return stored, nil
}

func (s *Syncer) recentLimit() int {
	if s.cfg.RecentLimit <= 0 {
		return 50
	}
	return s.cfg.RecentLimit
}

func (s *Syncer) topLimit() int {
	if s.cfg.TopLimit <= 0 {
		return 50
	}
	return s.cfg.TopLimit
}

func artistModel(sa services.SpotifyArtist) *models.Artist {
	artist := &models.Artist{
		ExternalID:   sa.ID,
		Name:         sa.Name,
		Genres:       sa.Genres,
		Popularity:   optionalInt(sa.Popularity),
		Followers:    optionalInt(sa.Followers.Total),
		ExternalURLs: sa.ExternalURLs,
	}
	if len(sa.Images) > 0 {
		artist.ImageURL = &sa.Images[0].URL
	}
	return artist
}

func albumModel(sa services.SpotifyAlbum) *models.Album {
	album := &models.Album{
		ExternalID:   sa.ID,
		Name:         sa.Name,
		TotalTracks:  optionalInt(sa.TotalTracks),
		ExternalURLs: sa.ExternalURLs,
	}
	if sa.ReleaseDate != "" {
		album.ReleaseDate = &sa.ReleaseDate
	}
	if len(sa.Images) > 0 {
		album.ImageURL = &sa.Images[0].URL
	}
	return album
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/soundlens/soundlens/internal/models"
	"github.com/soundlens/soundlens/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func testConnection(userID string) *models.Connection {
	now := time.Now()
	return &models.Connection{
		UserID:         userID,
		ExternalUserID: "spotify_" + userID,
		AccessToken:    "access_token",
		RefreshToken:   "refresh_token",
		TokenExpiresAt: now.Add(time.Hour),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestConnectionRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewConnectionRepository(db)
		conn := testConnection("user_1")

		if err := repo.Create(ctx, conn); err != nil {
			t.Fatalf("failed to create connection: %v", err)
		}

		if conn.ID == "" {
			t.Error("connection ID should be set after creation")
		}
	})

	t.Run("Create Requires Identifiers", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewConnectionRepository(db)
		conn := testConnection("user_1")
		conn.ExternalUserID = ""

		err := repo.Create(ctx, conn)
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Create Reactivates Existing Pair", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewConnectionRepository(db)
		conn := testConnection("user_1")

		if err := repo.Create(ctx, conn); err != nil {
			t.Fatalf("failed to create connection: %v", err)
		}
		originalID := conn.ID

		if err := repo.Deactivate(ctx, "user_1"); err != nil {
			t.Fatalf("failed to deactivate connection: %v", err)
		}

		again := testConnection("user_1")
		again.AccessToken = "new_access_token"
		if err := repo.Create(ctx, again); err != nil {
			t.Fatalf("failed to recreate connection: %v", err)
		}

		if again.ID != originalID {
			t.Errorf("expected reactivation to preserve id %s, got %s", originalID, again.ID)
		}

		found, err := repo.FindByUserID(ctx, "user_1")
		if err != nil {
			t.Fatalf("failed to find connection: %v", err)
		}
		if !found.IsActive {
			t.Error("connection should be active after recreation")
		}
		if found.AccessToken != "new_access_token" {
			t.Errorf("expected new access token, got %s", found.AccessToken)
		}
	})

	t.Run("FindByUserID", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewConnectionRepository(db)

		t.Run("Missing User", func(t *testing.T) {
			found, err := repo.FindByUserID(ctx, "nobody")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if found != nil {
				t.Error("expected nil connection for unknown user")
			}
		})

		t.Run("Round Trip", func(t *testing.T) {
			conn := testConnection("user_2")
			if err := repo.Create(ctx, conn); err != nil {
				t.Fatalf("failed to create connection: %v", err)
			}

			found, err := repo.FindByUserID(ctx, "user_2")
			if err != nil {
				t.Fatalf("failed to find connection: %v", err)
			}
			if found == nil {
				t.Fatal("expected connection to be found")
			}
			if found.ExternalUserID != "spotify_user_2" {
				t.Errorf("expected external user spotify_user_2, got %s", found.ExternalUserID)
			}
			if !found.IsActive {
				t.Error("expected connection to be active")
			}
			if found.LastSyncAt != nil {
				t.Error("expected no last sync time on a fresh connection")
			}
		})

		t.Run("Returns Deactivated Rows", func(t *testing.T) {
			conn := testConnection("user_3")
			if err := repo.Create(ctx, conn); err != nil {
				t.Fatalf("failed to create connection: %v", err)
			}
			if err := repo.Deactivate(ctx, "user_3"); err != nil {
				t.Fatalf("failed to deactivate: %v", err)
			}

			found, err := repo.FindByUserID(ctx, "user_3")
			if err != nil {
				t.Fatalf("failed to find connection: %v", err)
			}
			if found == nil {
				t.Fatal("deactivated connection should still be found")
			}
			if found.IsActive {
				t.Error("expected connection to be inactive")
			}
		})
	})

	t.Run("UpdateTokens", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewConnectionRepository(db)
		conn := testConnection("user_4")
		if err := repo.Create(ctx, conn); err != nil {
			t.Fatalf("failed to create connection: %v", err)
		}

		expiresAt := time.Now().Add(2 * time.Hour)
		if err := repo.UpdateTokens(ctx, "user_4", "rotated_access", "rotated_refresh", expiresAt); err != nil {
			t.Fatalf("failed to update tokens: %v", err)
		}

		found, err := repo.FindByUserID(ctx, "user_4")
		if err != nil {
			t.Fatalf("failed to find connection: %v", err)
		}
		if found.AccessToken != "rotated_access" {
			t.Errorf("expected rotated access token, got %s", found.AccessToken)
		}
		if found.RefreshToken != "rotated_refresh" {
			t.Errorf("expected rotated refresh token, got %s", found.RefreshToken)
		}
	})

	t.Run("UpdateTokens Missing User", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewConnectionRepository(db)
		err := repo.UpdateTokens(ctx, "nobody", "a", "r", time.Now())
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("MarkLastSync", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewConnectionRepository(db)
		conn := testConnection("user_5")
		if err := repo.Create(ctx, conn); err != nil {
			t.Fatalf("failed to create connection: %v", err)
		}

		at := time.Now().Truncate(time.Second)
		if err := repo.MarkLastSync(ctx, "user_5", at); err != nil {
			t.Fatalf("failed to mark last sync: %v", err)
		}

		found, err := repo.FindByUserID(ctx, "user_5")
		if err != nil {
			t.Fatalf("failed to find connection: %v", err)
		}
		if found.LastSyncAt == nil {
			t.Fatal("expected last sync time to be set")
		}
		if !found.LastSyncAt.Equal(at) {
			t.Errorf("expected last sync %v, got %v", at, found.LastSyncAt)
		}
	})
}

func TestCatalogRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("UpsertArtist", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCatalogRepository(db)
		popularity := 80
		artist := &models.Artist{
			ExternalID: "artist_ext_1",
			Name:       "The Beatles",
			Genres:     []string{"rock", "pop"},
			Popularity: &popularity,
		}

		stored, err := repo.UpsertArtist(ctx, artist)
		if err != nil {
			t.Fatalf("failed to upsert artist: %v", err)
		}
		if stored.ID == "" {
			t.Error("artist ID should be set after upsert")
		}

		t.Run("Second Upsert Preserves Identity", func(t *testing.T) {
			updated := &models.Artist{
				ExternalID: "artist_ext_1",
				Name:       "The Beatles (Remastered)",
			}

			again, err := repo.UpsertArtist(ctx, updated)
			if err != nil {
				t.Fatalf("failed to re-upsert artist: %v", err)
			}
			if again.ID != stored.ID {
				t.Errorf("expected stable id %s, got %s", stored.ID, again.ID)
			}
			if !again.CreatedAt.Equal(stored.CreatedAt) {
				t.Errorf("expected stable created_at %v, got %v", stored.CreatedAt, again.CreatedAt)
			}

			var count int
			if err := db.QueryRow("SELECT COUNT(*) FROM artists").Scan(&count); err != nil {
				t.Fatalf("failed to count artists: %v", err)
			}
			if count != 1 {
				t.Errorf("expected 1 artist row, got %d", count)
			}

			found, err := repo.FindArtistByExternalID(ctx, "artist_ext_1")
			if err != nil {
				t.Fatalf("failed to find artist: %v", err)
			}
			if found.Name != "The Beatles (Remastered)" {
				t.Errorf("expected updated name, got %s", found.Name)
			}
		})
	})

	t.Run("UpsertArtist Requires External ID", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCatalogRepository(db)
		if _, err := repo.UpsertArtist(ctx, &models.Artist{Name: "Nameless"}); err == nil {
			t.Error("expected error for missing external id")
		}
	})

	t.Run("UpsertTrack", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCatalogRepository(db)
		releaseDate := "1965-08-06"
		album := &models.Album{
			ExternalID:  "album_ext_1",
			Name:        "Help!",
			ReleaseDate: &releaseDate,
		}
		artists := []*models.Artist{
			{ExternalID: "artist_ext_1", Name: "The Beatles"},
		}
		track := &models.Track{
			ExternalID: "track_ext_1",
			Name:       "Yesterday",
			DurationMS: 125000,
		}

		stored, err := repo.UpsertTrack(ctx, track, album, artists)
		if err != nil {
			t.Fatalf("failed to upsert track: %v", err)
		}

		if stored.ID == "" {
			t.Error("track ID should be set after upsert")
		}
		if stored.AlbumID == nil {
			t.Fatal("expected track to reference its album")
		}

		t.Run("Cascades To Album And Artists", func(t *testing.T) {
			var albums, artistRows int
			if err := db.QueryRow("SELECT COUNT(*) FROM albums").Scan(&albums); err != nil {
				t.Fatalf("failed to count albums: %v", err)
			}
			if err := db.QueryRow("SELECT COUNT(*) FROM artists").Scan(&artistRows); err != nil {
				t.Fatalf("failed to count artists: %v", err)
			}
			if albums != 1 || artistRows != 1 {
				t.Errorf("expected 1 album and 1 artist, got %d and %d", albums, artistRows)
			}
		})

		t.Run("Links Track And Album To Artists", func(t *testing.T) {
			var trackLinks, albumLinks int
			if err := db.QueryRow("SELECT COUNT(*) FROM track_artists WHERE track_id = ?", stored.ID).Scan(&trackLinks); err != nil {
				t.Fatalf("failed to count track links: %v", err)
			}
			if err := db.QueryRow("SELECT COUNT(*) FROM album_artists WHERE album_id = ?", *stored.AlbumID).Scan(&albumLinks); err != nil {
				t.Fatalf("failed to count album links: %v", err)
			}
			if trackLinks != 1 {
				t.Errorf("expected 1 track-artist link, got %d", trackLinks)
			}
			if albumLinks != 1 {
				t.Errorf("expected 1 album-artist link, got %d", albumLinks)
			}
		})

		t.Run("Re-Upsert Does Not Duplicate Links", func(t *testing.T) {
			again := &models.Track{
				ExternalID: "track_ext_1",
				Name:       "Yesterday",
				DurationMS: 125000,
			}
			reAlbum := &models.Album{ExternalID: "album_ext_1", Name: "Help!"}
			reArtists := []*models.Artist{{ExternalID: "artist_ext_1", Name: "The Beatles"}}

			resynced, err := repo.UpsertTrack(ctx, again, reAlbum, reArtists)
			if err != nil {
				t.Fatalf("failed to re-upsert track: %v", err)
			}
			if resynced.ID != stored.ID {
				t.Errorf("expected stable track id %s, got %s", stored.ID, resynced.ID)
			}

			var trackLinks int
			if err := db.QueryRow("SELECT COUNT(*) FROM track_artists WHERE track_id = ?", stored.ID).Scan(&trackLinks); err != nil {
				t.Fatalf("failed to count track links: %v", err)
			}
			if trackLinks != 1 {
				t.Errorf("expected 1 track-artist link after re-upsert, got %d", trackLinks)
			}
		})
	})

	t.Run("UpsertTrack Without Album", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCatalogRepository(db)
		track := &models.Track{
			ExternalID: "track_ext_2",
			Name:       "Single",
			DurationMS: 90000,
		}

		stored, err := repo.UpsertTrack(ctx, track, nil, nil)
		if err != nil {
			t.Fatalf("failed to upsert track: %v", err)
		}
		if stored.AlbumID != nil {
			t.Error("expected no album reference")
		}
	})

	t.Run("FindTrackByExternalID Missing", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCatalogRepository(db)
		found, err := repo.FindTrackByExternalID(ctx, "no_such_track")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if found != nil {
			t.Error("expected nil track for unknown external id")
		}
	})
}

func TestHistoryRepository(t *testing.T) {
	ctx := context.Background()

	seedTrack := func(t *testing.T, db *sql.DB) *models.Track {
		t.Helper()
		catalog := NewCatalogRepository(db)
		track, err := catalog.UpsertTrack(ctx, &models.Track{
			ExternalID: "track_ext_1",
			Name:       "Yesterday",
			DurationMS: 125000,
		}, nil, nil)
		if err != nil {
			t.Fatalf("failed to seed track: %v", err)
		}
		return track
	}

	t.Run("RecordPlayEvent", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewHistoryRepository(db)
		track := seedTrack(t, db)
		playedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		event, inserted, err := repo.RecordPlayEvent(ctx, "user_1", track.ID, playedAt, nil)
		if err != nil {
			t.Fatalf("failed to record play event: %v", err)
		}
		if !inserted {
			t.Error("expected first event to be inserted")
		}
		if event.ID == "" {
			t.Error("event ID should be set")
		}

		t.Run("Duplicate Natural Key Is Ignored", func(t *testing.T) {
			again, inserted, err := repo.RecordPlayEvent(ctx, "user_1", track.ID, playedAt, nil)
			if err != nil {
				t.Fatalf("failed to record duplicate event: %v", err)
			}
			if inserted {
				t.Error("expected duplicate to be skipped")
			}
			if again.ID != event.ID {
				t.Errorf("expected existing event %s, got %s", event.ID, again.ID)
			}

			count, err := repo.CountForUser(ctx, "user_1")
			if err != nil {
				t.Fatalf("failed to count events: %v", err)
			}
			if count != 1 {
				t.Errorf("expected 1 event, got %d", count)
			}
		})

		t.Run("Distinct Timestamp Inserts", func(t *testing.T) {
			_, inserted, err := repo.RecordPlayEvent(ctx, "user_1", track.ID, playedAt.Add(time.Minute), nil)
			if err != nil {
				t.Fatalf("failed to record event: %v", err)
			}
			if !inserted {
				t.Error("expected new timestamp to insert")
			}

			count, err := repo.CountForUser(ctx, "user_1")
			if err != nil {
				t.Fatalf("failed to count events: %v", err)
			}
			if count != 2 {
				t.Errorf("expected 2 events, got %d", count)
			}
		})
	})

	t.Run("RecordPlayEvent Requires Identifiers", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewHistoryRepository(db)
		_, _, err := repo.RecordPlayEvent(ctx, "", "track", time.Now(), nil)
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

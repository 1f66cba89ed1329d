// package models defines the data model for the listening-data sync service.
package models

import "time"

// TimeRange is one of the fixed lookback windows accepted by Spotify's
// top-items endpoints.
type TimeRange string

const (
	ShortTerm  TimeRange = "short_term"
	MediumTerm TimeRange = "medium_term"
	LongTerm   TimeRange = "long_term"
)

// TimeRanges returns the windows a sync run iterates, in order.
func TimeRanges() []TimeRange {
	return []TimeRange{ShortTerm, MediumTerm, LongTerm}
}

// Connection binds a local user to one external Spotify account and holds
// the OAuth credential state for it.
type Connection struct {
	ID             string
	UserID         string
	ExternalUserID string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
	IsActive       bool
	LastSyncAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Artist is a locally stored artist, keyed on its Spotify id.
type Artist struct {
	ID           string
	ExternalID   string
	Name         string
	Genres       []string
	Popularity   *int
	ImageURL     *string
	ExternalURLs ExternalURLs
	Followers    *int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Album is a locally stored album, keyed on its Spotify id.
type Album struct {
	ID           string
	ExternalID   string
	Name         string
	ReleaseDate  *string
	TotalTracks  *int
	ImageURL     *string
	ExternalURLs ExternalURLs
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Track is a locally stored track, keyed on its Spotify id. AlbumID refers to
// the local albums table and may be nil when the payload carried no album.
type Track struct {
	ID            string
	ExternalID    string
	Name          string
	AlbumID       *string
	DurationMS    int
	Popularity    *int
	Explicit      bool
	PreviewURL    *string
	TrackNumber   *int
	ExternalURLs  ExternalURLs
	AudioFeatures []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PlayEvent records one user listening to one track at a specific timestamp.
// (UserID, TrackID, PlayedAt) is the natural key.
type PlayEvent struct {
	ID        string
	UserID    string
	TrackID   string
	PlayedAt  time.Time
	Context   *PlayContext
	CreatedAt time.Time
}

// SyncResult aggregates the outcome of one sync run. It is returned to the
// caller and never persisted.
type SyncResult struct {
	RecentTracks    int      `json:"recentTracks"`
	NewArtists      int      `json:"newArtists"`
	NewAlbums       int      `json:"newAlbums"`
	NewTracks       int      `json:"newTracks"`
	ListeningEvents int      `json:"listeningEvents"`
	Errors          []string `json:"errors"`
}

// SyncStatus reports connection health and sync scheduling for a user.
type SyncStatus struct {
	IsConnected bool       `json:"isConnected"`
	IsActive    bool       `json:"isActive"`
	LastSyncAt  *time.Time `json:"lastSyncAt"`
	NextSyncAt  *time.Time `json:"nextSyncAt"`
}

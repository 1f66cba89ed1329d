// Typed client for the Spotify Web API.
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/soundlens/soundlens/internal/models"
)

const spotifyBaseURL = "https://api.spotify.com/v1"

// Conservative client-side rate limit; Spotify enforces a shared per-user
// budget so parallel callers must stay under it.
const (
	requestsPerSecond = 1
	burstLimit        = 10
)

// TokenProvider yields a valid bearer token for a local user. Implemented by
// [SpotifyAuth].
type TokenProvider interface {
	ValidAccessToken(ctx context.Context, userID string) (string, error)
}

type followers struct {
	Total int `json:"total"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Followers   followers      `json:"followers"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyArtist represents a Spotify artist. Track payloads embed a reduced
// form with only id and name populated.
type SpotifyArtist struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Genres       []string            `json:"genres"`
	Popularity   int                 `json:"popularity"`
	Images       []SpotifyImage      `json:"images"`
	Followers    followers           `json:"followers"`
	ExternalURLs models.ExternalURLs `json:"external_urls"`
}

// SpotifyAlbum represents a Spotify album summary as embedded in tracks.
type SpotifyAlbum struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	ReleaseDate  string              `json:"release_date"`
	TotalTracks  int                 `json:"total_tracks"`
	Images       []SpotifyImage      `json:"images"`
	ExternalURLs models.ExternalURLs `json:"external_urls"`
}

// SpotifyTrack represents a Spotify track with embedded album and artists.
type SpotifyTrack struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Artists      []SpotifyArtist     `json:"artists"`
	Album        SpotifyAlbum        `json:"album"`
	DurationMS   int                 `json:"duration_ms"`
	Popularity   int                 `json:"popularity"`
	Explicit     bool                `json:"explicit"`
	PreviewURL   *string             `json:"preview_url"`
	TrackNumber  int                 `json:"track_number"`
	ExternalURLs models.ExternalURLs `json:"external_urls"`
}

// SpotifyPlayedItem is one entry of the recently-played stream.
type SpotifyPlayedItem struct {
	Track    SpotifyTrack        `json:"track"`
	PlayedAt string              `json:"played_at"`
	Context  *models.PlayContext `json:"context"`
}

// SpotifyRecentlyPlayed is one page of the recently-played stream.
type SpotifyRecentlyPlayed struct {
	Items   []SpotifyPlayedItem `json:"items"`
	Next    *string             `json:"next"`
	Limit   int                 `json:"limit"`
	Cursors struct {
		After  string `json:"after"`
		Before string `json:"before"`
	} `json:"cursors"`
}

// SpotifyTopArtists is one page of the top-artists endpoint.
type SpotifyTopArtists struct {
	Items  []SpotifyArtist `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Next   *string         `json:"next"`
}

// SpotifyTopTracks is one page of the top-tracks endpoint.
type SpotifyTopTracks struct {
	Items  []SpotifyTrack `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
	Next   *string        `json:"next"`
}

// SpotifyAudioFeatures represents the audio-features lookup for a track.
// Stored as an opaque blob on the track row; only the id is decoded here.
type SpotifyAudioFeatures struct {
	ID  string `json:"id"`
	Raw json.RawMessage
}

func (f *SpotifyAudioFeatures) UnmarshalJSON(b []byte) error {
	f.Raw = append(f.Raw[:0], b...)
	var known struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &known); err == nil {
		f.ID = known.ID
	}
	return nil
}

type spotifyAPIError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// SpotifyClient issues authenticated requests against the Spotify Web API and
// normalizes its error responses into the typed failures of this package.
//
// The client does not auto-paginate; callers pass limit/offset/cursor values
// through per call and decide how many pages to pull.
type SpotifyClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     TokenProvider
	logger     *log.Logger
}

// NewSpotifyClient creates a client. tokens is only consulted by
// [SpotifyClient.TestConnection]; all other methods take an access token
// directly.
func NewSpotifyClient(client *http.Client, tokens TokenProvider, logger *log.Logger) *SpotifyClient {
	if client == nil {
		client = http.DefaultClient
	}

	return &SpotifyClient{
		baseURL:    spotifyBaseURL,
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burstLimit),
		tokens:     tokens,
		logger:     logger,
	}
}

// SetBaseURL overrides the API base URL. Used by tests.
func (s *SpotifyClient) SetBaseURL(u string) {
	s.baseURL = u
}

// doRequest performs one authenticated GET and decodes the JSON response into
// result. Non-2xx statuses are classified into the package error types.
func (s *SpotifyClient) doRequest(ctx context.Context, accessToken, endpoint string, result any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return s.classify(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (s *SpotifyClient) classify(resp *http.Response) error {
	var body spotifyAPIError
	// Error bodies are best-effort JSON; a decode failure leaves them empty.
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		reason := body.Error.Reason
		if reason == "" {
			reason = body.Error.Message
		}
		return &PermissionError{Status: resp.StatusCode, Reason: reason}
	default:
		return &APIError{Status: resp.StatusCode, Message: body.Error.Message}
	}
}

// CurrentProfile retrieves the authenticated user's profile.
func (s *SpotifyClient) CurrentProfile(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, accessToken, "/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RecentlyPlayed retrieves one page of the user's recently played tracks.
// after is an opaque cursor; empty means the newest page.
func (s *SpotifyClient) RecentlyPlayed(ctx context.Context, accessToken string, limit int, after string) (*SpotifyRecentlyPlayed, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	if after != "" {
		params.Set("after", after)
	}

	var page SpotifyRecentlyPlayed
	if err := s.doRequest(ctx, accessToken, "/me/player/recently-played?"+params.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// TopArtists retrieves one page of the user's top artists for a time range.
func (s *SpotifyClient) TopArtists(ctx context.Context, accessToken string, timeRange models.TimeRange, limit, offset int) (*SpotifyTopArtists, error) {
	var page SpotifyTopArtists
	if err := s.doRequest(ctx, accessToken, topItemsEndpoint("artists", timeRange, limit, offset), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// TopTracks retrieves one page of the user's top tracks for a time range.
func (s *SpotifyClient) TopTracks(ctx context.Context, accessToken string, timeRange models.TimeRange, limit, offset int) (*SpotifyTopTracks, error) {
	var page SpotifyTopTracks
	if err := s.doRequest(ctx, accessToken, topItemsEndpoint("tracks", timeRange, limit, offset), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Track retrieves a single track by ID.
func (s *SpotifyClient) Track(ctx context.Context, accessToken, trackID string) (*SpotifyTrack, error) {
	var track SpotifyTrack
	if err := s.doRequest(ctx, accessToken, "/tracks/"+url.PathEscape(trackID), &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// Artist retrieves a single artist by ID.
func (s *SpotifyClient) Artist(ctx context.Context, accessToken, artistID string) (*SpotifyArtist, error) {
	var artist SpotifyArtist
	if err := s.doRequest(ctx, accessToken, "/artists/"+url.PathEscape(artistID), &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// AudioFeatures retrieves the audio features for a track.
func (s *SpotifyClient) AudioFeatures(ctx context.Context, accessToken, trackID string) (*SpotifyAudioFeatures, error) {
	var features SpotifyAudioFeatures
	if err := s.doRequest(ctx, accessToken, "/audio-features/"+url.PathEscape(trackID), &features); err != nil {
		return nil, err
	}
	return &features, nil
}

// TestConnection probes the API with a profile fetch for connection-health
// display. Best-effort: all failures collapse to false, nothing is thrown.
func (s *SpotifyClient) TestConnection(ctx context.Context, userID string) bool {
	if s.tokens == nil {
		return false
	}

	accessToken, err := s.tokens.ValidAccessToken(ctx, userID)
	if err != nil {
		s.logger.Debug("connection probe failed to get token", "user_id", userID, "error", err)
		return false
	}

	if _, err := s.CurrentProfile(ctx, accessToken); err != nil {
		s.logger.Debug("connection probe failed", "user_id", userID, "error", err)
		return false
	}

	return true
}

func topItemsEndpoint(kind string, timeRange models.TimeRange, limit, offset int) string {
	params := url.Values{}
	params.Set("time_range", string(timeRange))
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	params.Set("offset", strconv.Itoa(max(offset, 0)))
	return "/me/top/" + kind + "?" + params.Encode()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 50 {
		return 50
	}
	return limit
}

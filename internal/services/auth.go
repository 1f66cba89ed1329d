// OAuth token lifecycle management for Spotify connections.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/soundlens/soundlens/internal/models"
	"github.com/soundlens/soundlens/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
)

// Tokens expiring within this window are refreshed eagerly so they cannot
// lapse mid-request against the API.
const refreshBuffer = 5 * time.Minute

// spotifyScopes is the fixed scope set requested on every authorization.
var spotifyScopes = []string{
	"user-read-email",
	"user-read-private",
	"user-read-recently-played",
	"user-top-read",
	"user-read-playback-state",
	"user-read-currently-playing",
	"playlist-read-private",
	"playlist-read-collaborative",
}

// ConnectionStore persists per-user OAuth credential state. Implemented by
// repositories.ConnectionRepository; an external collaborator from this
// package's point of view.
type ConnectionStore interface {
	FindByUserID(ctx context.Context, userID string) (*models.Connection, error)
	Create(ctx context.Context, conn *models.Connection) error
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error
	Deactivate(ctx context.Context, userID string) error
	MarkLastSync(ctx context.Context, userID string, at time.Time) error
}

// TokenBundle is the result of one exchange or refresh at the token endpoint.
// RefreshToken is empty when the provider chose not to rotate it.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// SpotifyAuth owns the authorization-code exchange and refresh-token rotation
// for Spotify connections. It is the sole source of valid bearer tokens.
type SpotifyAuth struct {
	config *oauth2.Config
	store  ConnectionStore
	logger *log.Logger
	now    func() time.Time

	// refresh must be mutually exclusive per user so concurrent callers
	// cannot race to persist conflicting token bundles.
	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewSpotifyAuth creates an auth manager from Spotify credentials.
func NewSpotifyAuth(creds shared.SpotifyConfig, store ConnectionStore, logger *log.Logger) (*SpotifyAuth, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret are required", shared.ErrMissingCredentials)
	}

	redirectURI := creds.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://localhost:8080/auth/spotify/callback"
	}

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       spotifyScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyAuth{
		config:    config,
		store:     store,
		logger:    logger,
		now:       time.Now,
		userLocks: make(map[string]*sync.Mutex),
	}, nil
}

// SetTokenURL overrides the provider token endpoint. Used by tests.
func (s *SpotifyAuth) SetTokenURL(u string) {
	s.config.Endpoint.TokenURL = u
	s.config.Endpoint.AuthStyle = oauth2.AuthStyleInHeader
}

// AuthorizationURL builds the provider authorization URL embedding the client
// id, the fixed scope set, the redirect target, and the caller-supplied
// anti-CSRF state. show_dialog forces re-consent on every authorization.
func (s *SpotifyAuth) AuthorizationURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true"))
}

// ExchangeCode trades an authorization code for a token bundle. Any provider
// rejection surfaces as an [*AuthError] carrying the raw response body.
func (s *SpotifyAuth) ExchangeCode(ctx context.Context, code string) (*TokenBundle, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, authErrorFrom("exchange", err)
	}
	return bundleFrom(token), nil
}

// Refresh trades a refresh token for a fresh token bundle.
func (s *SpotifyAuth) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, authErrorFrom("refresh", err)
	}
	return bundleFrom(token), nil
}

// ValidAccessToken returns a bearer token for userID that is guaranteed to
// outlive the refresh buffer. When the stored token is close to expiry it is
// refreshed synchronously and the new bundle persisted; if the provider did
// not rotate the refresh token the prior one is retained. A failed refresh
// deactivates the connection so a dead grant is not retried on every tick.
func (s *SpotifyAuth) ValidAccessToken(ctx context.Context, userID string) (string, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	conn, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if conn == nil {
		return "", shared.ErrNoConnection
	}
	if !conn.IsActive {
		return "", shared.ErrInactiveConnection
	}

	if conn.TokenExpiresAt.After(s.now().Add(refreshBuffer)) {
		return conn.AccessToken, nil
	}

	bundle, err := s.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		s.logger.Warn("token refresh failed, deactivating connection", "user_id", userID, "error", err)
		if derr := s.store.Deactivate(ctx, userID); derr != nil {
			s.logger.Error("failed to deactivate connection", "user_id", userID, "error", derr)
		}
		return "", err
	}

	refreshToken := bundle.RefreshToken
	if refreshToken == "" {
		refreshToken = conn.RefreshToken
	}

	if err := s.store.UpdateTokens(ctx, userID, bundle.AccessToken, refreshToken, bundle.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	return bundle.AccessToken, nil
}

// Connect persists a new connection for userID from a freshly exchanged token
// bundle and the external profile id it belongs to. An existing row for the
// same (user, external account) pair is reactivated with the new tokens.
func (s *SpotifyAuth) Connect(ctx context.Context, userID, externalUserID string, bundle *TokenBundle) error {
	if bundle.RefreshToken == "" {
		return fmt.Errorf("%w: provider issued no refresh token", shared.ErrMissingCredentials)
	}

	now := s.now()
	conn := &models.Connection{
		UserID:         userID,
		ExternalUserID: externalUserID,
		AccessToken:    bundle.AccessToken,
		RefreshToken:   bundle.RefreshToken,
		TokenExpiresAt: bundle.ExpiresAt,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, conn); err != nil {
		return fmt.Errorf("failed to persist connection: %w", err)
	}

	s.logger.Info("spotify connection established", "user_id", userID, "external_user_id", externalUserID)
	return nil
}

// Revoke deactivates the user's connection on explicit disconnect.
func (s *SpotifyAuth) Revoke(ctx context.Context, userID string) error {
	if err := s.store.Deactivate(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke spotify access: %w", err)
	}
	s.logger.Info("spotify connection revoked", "user_id", userID)
	return nil
}

func (s *SpotifyAuth) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

// authErrorFrom converts an oauth2 failure into an [*AuthError], pulling the
// raw provider body out of [*oauth2.RetrieveError] when present.
func authErrorFrom(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		return &AuthError{Op: op, Status: status, Detail: string(rerr.Body)}
	}
	return &AuthError{Op: op, Detail: err.Error()}
}

func bundleFrom(token *oauth2.Token) *TokenBundle {
	return &TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

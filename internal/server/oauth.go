package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/soundlens/soundlens/internal/services"
	"github.com/soundlens/soundlens/internal/shared"
)

// Authenticator is the slice of the auth service the OAuth surface depends on.
type Authenticator interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*services.TokenBundle, error)
	Connect(ctx context.Context, userID, externalUserID string, bundle *services.TokenBundle) error
}

// ProfileClient fetches the profile a freshly issued token belongs to.
type ProfileClient interface {
	CurrentProfile(ctx context.Context, accessToken string) (*services.SpotifyUser, error)
}

// OAuthResult carries the outcome of one authorization flow.
type OAuthResult struct {
	Bundle *services.TokenBundle
	err    error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler handles the authorization-code callback for the one-shot CLI
// flow: it validates state, exchanges the code, and delivers the resulting
// token bundle over a channel the waiting command reads from.
type OAuthHandler struct {
	auth        Authenticator
	state       string
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a one-shot callback handler. The state token should
// be cryptographically random for CSRF protection.
func NewOAuthHandler(auth Authenticator, state string) *OAuthHandler {
	return &OAuthHandler{
		auth:       auth,
		state:      state,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"/auth/spotify/callback"}
}

// ServeHTTP handles the OAuth callback request.
//
// Validates the state parameter, exchanges the authorization code for tokens,
// and sends the result through the result channel.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only handle callback once
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	state := r.URL.Query().Get("state")
	if state != h.state {
		err := fmt.Errorf("invalid state parameter")
		h.Send(OAuthResult{err: err})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		errParam := r.URL.Query().Get("error")
		errDesc := r.URL.Query().Get("error_description")
		err := fmt.Errorf("authorization failed: %s - %s", errParam, errDesc)
		h.Send(OAuthResult{err: err})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	bundle, err := h.auth.ExchangeCode(r.Context(), code)
	if err != nil {
		h.Send(OAuthResult{err: fmt.Errorf("token exchange failed: %w", err)})
		http.Error(w, "Token exchange failed", http.StatusInternalServerError)
		return
	}

	h.Send(OAuthResult{Bundle: bundle})

	writeSuccessPage(w)
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}

// ConnectHandler drives the authorization flow in long-running serve mode:
// /auth/spotify redirects the caller to the provider, and the callback
// exchanges the code, resolves the external profile, and persists the
// connection for the calling user.
type ConnectHandler struct {
	auth    Authenticator
	profile ProfileClient
	resolve UserResolver
	logger  *log.Logger

	// pending maps anti-CSRF state tokens to the user who started the flow.
	mu      sync.Mutex
	pending map[string]string
}

// NewConnectHandler creates the serve-mode OAuth handler.
func NewConnectHandler(auth Authenticator, profile ProfileClient, resolve UserResolver, logger *log.Logger) *ConnectHandler {
	return &ConnectHandler{
		auth:    auth,
		profile: profile,
		resolve: resolve,
		logger:  logger,
		pending: make(map[string]string),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *ConnectHandler) Routes() []string {
	return []string{"/auth/spotify", "/auth/spotify/callback"}
}

// ServeHTTP dispatches between flow start and callback.
func (h *ConnectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/spotify":
		h.begin(w, r)
	case "/auth/spotify/callback":
		h.callback(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *ConnectHandler) begin(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolve(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	state := newState()
	h.mu.Lock()
	h.pending[state] = userID
	h.mu.Unlock()

	http.Redirect(w, r, h.auth.AuthorizationURL(state), http.StatusTemporaryRedirect)
}

func (h *ConnectHandler) callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")

	h.mu.Lock()
	userID, ok := h.pending[state]
	delete(h.pending, state)
	h.mu.Unlock()

	if !ok {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	bundle, err := h.auth.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Error("token exchange failed", "user_id", userID, "error", err)
		http.Error(w, "Token exchange failed", http.StatusInternalServerError)
		return
	}

	user, err := h.profile.CurrentProfile(r.Context(), bundle.AccessToken)
	if err != nil {
		h.logger.Error("failed to fetch profile after exchange", "user_id", userID, "error", err)
		http.Error(w, "Failed to fetch Spotify profile", http.StatusInternalServerError)
		return
	}

	if err := h.auth.Connect(r.Context(), userID, user.ID, bundle); err != nil {
		h.logger.Error("failed to persist connection", "user_id", userID, "error", err)
		http.Error(w, "Failed to connect Spotify account", http.StatusInternalServerError)
		return
	}

	writeSuccessPage(w)
}

func writeSuccessPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>&#10003; Authorization Successful</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`)
}

func newState() string {
	return shared.GenerateID()
}

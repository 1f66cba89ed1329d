package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/soundlens/soundlens/internal/server"
	"github.com/soundlens/soundlens/internal/services"
	"github.com/soundlens/soundlens/internal/shared"
)

// Auth runs the browser authorization flow for a user and persists the
// resulting connection.
func (r *Runner) Auth(ctx context.Context, cmd *cli.Command) error {
	r.config = r.loadConfig(cmd.String("config"))
	userID := cmd.String("user")

	if r.config.Credentials.Spotify.ClientID == "" || r.config.Credentials.Spotify.ClientSecret == "" {
		return fmt.Errorf("%w: Spotify client_id and client_secret must be set in config.toml", shared.ErrMissingCredentials)
	}

	stack, err := r.buildStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	bundle, err := r.doOAuth(stack.auth)
	if err != nil {
		return err
	}

	user, err := stack.spotify.CurrentProfile(ctx, bundle.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to fetch Spotify profile: %w", err)
	}

	if err := stack.auth.Connect(ctx, userID, user.ID, bundle); err != nil {
		return err
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Connected Spotify account %s for user %s\n\n", user.ID, userID)
	r.writePlain("You can now use: soundlens sync --user %s\n", userID)

	return nil
}

// Disconnect revokes a user's Spotify connection.
func (r *Runner) Disconnect(ctx context.Context, cmd *cli.Command) error {
	r.config = r.loadConfig(cmd.String("config"))
	userID := cmd.String("user")

	stack, err := r.buildStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	if err := stack.auth.Revoke(ctx, userID); err != nil {
		return err
	}

	return r.writePlain("✓ Spotify account disconnected for user %s\n", userID)
}

// doOAuth runs a local callback server, opens the browser at the provider
// authorization URL, and waits for the exchanged token bundle.
func (r *Runner) doOAuth(auth *services.SpotifyAuth) (*services.TokenBundle, error) {
	state := shared.GenerateID()

	authURL := auth.AuthorizationURL(state)
	oauthHandler := server.NewOAuthHandler(auth, state)
	router := server.NewBasicRouter()
	router.Handler(oauthHandler)

	serverAddr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	httpServer := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(2 * time.Minute)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
		// Got result from callback
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("authorization timed out after 2 minutes")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}

	if result.Bundle == nil {
		return nil, fmt.Errorf("no token received")
	}

	return result.Bundle, nil
}

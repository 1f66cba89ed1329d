package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/soundlens/soundlens/internal/services"
)

type fakeAuth struct {
	bundle      *services.TokenBundle
	exchangeErr error
	connectErr  error

	connectedUser     string
	connectedExternal string
}

func (f *fakeAuth) AuthorizationURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeAuth) ExchangeCode(ctx context.Context, code string) (*services.TokenBundle, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	if f.bundle != nil {
		return f.bundle, nil
	}
	return &services.TokenBundle{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeAuth) Connect(ctx context.Context, userID, externalUserID string, bundle *services.TokenBundle) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connectedUser = userID
	f.connectedExternal = externalUserID
	return nil
}

type fakeProfile struct {
	user *services.SpotifyUser
	err  error
}

func (f *fakeProfile) CurrentProfile(ctx context.Context, accessToken string) (*services.SpotifyUser, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.user != nil {
		return f.user, nil
	}
	return &services.SpotifyUser{ID: "spotify_user"}, nil
}

func TestOAuthHandler(t *testing.T) {
	t.Run("Successful Callback", func(t *testing.T) {
		handler := NewOAuthHandler(&fakeAuth{}, "state123")

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?state=state123&code=auth_code", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Authorization Successful") {
			t.Error("expected success page")
		}

		result := <-handler.Result()
		if result.Error() != nil {
			t.Fatalf("expected no error, got %v", result.Error())
		}
		if result.Bundle == nil || result.Bundle.AccessToken != "access" {
			t.Errorf("expected token bundle, got %+v", result.Bundle)
		}
	})

	t.Run("Invalid State", func(t *testing.T) {
		handler := NewOAuthHandler(&fakeAuth{}, "state123")

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?state=wrong&code=auth_code", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}

		result := <-handler.Result()
		if result.Error() == nil {
			t.Error("expected error result for invalid state")
		}
	})

	t.Run("Provider Denied", func(t *testing.T) {
		handler := NewOAuthHandler(&fakeAuth{}, "state123")

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?state=state123&error=access_denied&error_description=User+denied", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}

		result := <-handler.Result()
		if result.Error() == nil || !strings.Contains(result.Error().Error(), "access_denied") {
			t.Errorf("expected denial error, got %v", result.Error())
		}
	})

	t.Run("Exchange Failure", func(t *testing.T) {
		handler := NewOAuthHandler(&fakeAuth{exchangeErr: errors.New("bad code")}, "state123")

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?state=state123&code=auth_code", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}

		result := <-handler.Result()
		if result.Error() == nil {
			t.Error("expected error result for failed exchange")
		}
	})

	t.Run("Second Callback Rejected", func(t *testing.T) {
		handler := NewOAuthHandler(&fakeAuth{}, "state123")

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?state=state123&code=auth_code", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for replayed callback, got %d", rec.Code)
		}
	})
}

func TestConnectHandler(t *testing.T) {
	newHandler := func(auth *fakeAuth, profile *fakeProfile) *ConnectHandler {
		return NewConnectHandler(auth, profile, HeaderUserResolver("X-User-ID"), log.New(io.Discard))
	}

	t.Run("Begin Requires User", func(t *testing.T) {
		handler := newHandler(&fakeAuth{}, &fakeProfile{})

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("Full Flow", func(t *testing.T) {
		auth := &fakeAuth{}
		handler := newHandler(auth, &fakeProfile{})

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify", nil)
		req.Header.Set("X-User-ID", "user_1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusTemporaryRedirect {
			t.Fatalf("expected redirect, got %d", rec.Code)
		}

		location, err := url.Parse(rec.Header().Get("Location"))
		if err != nil {
			t.Fatalf("failed to parse redirect target: %v", err)
		}
		state := location.Query().Get("state")
		if state == "" {
			t.Fatal("expected state in redirect URL")
		}

		callback := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?state="+url.QueryEscape(state)+"&code=auth_code", nil)
		callbackRec := httptest.NewRecorder()
		handler.ServeHTTP(callbackRec, callback)

		if callbackRec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", callbackRec.Code, callbackRec.Body.String())
		}
		if auth.connectedUser != "user_1" {
			t.Errorf("expected connection for user_1, got %q", auth.connectedUser)
		}
		if auth.connectedExternal != "spotify_user" {
			t.Errorf("expected external user from profile, got %q", auth.connectedExternal)
		}
	})

	t.Run("Unknown State Rejected", func(t *testing.T) {
		handler := newHandler(&fakeAuth{}, &fakeProfile{})

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify/callback?state=unknown&code=auth_code", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("State Is Single Use", func(t *testing.T) {
		auth := &fakeAuth{}
		handler := newHandler(auth, &fakeProfile{})

		req := httptest.NewRequest(http.MethodGet, "/auth/spotify", nil)
		req.Header.Set("X-User-ID", "user_1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		location, _ := url.Parse(rec.Header().Get("Location"))
		state := location.Query().Get("state")

		callbackURL := "/auth/spotify/callback?state=" + url.QueryEscape(state) + "&code=auth_code"
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, callbackURL, nil))

		replay := httptest.NewRecorder()
		handler.ServeHTTP(replay, httptest.NewRequest(http.MethodGet, callbackURL, nil))

		if replay.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for replayed state, got %d", replay.Code)
		}
	})
}

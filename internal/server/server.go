// package server contains middleware & handlers for the sync web service.
package server

import (
	"errors"
	"net/http"
)

// ErrNoUser is returned by a [UserResolver] when a request carries no caller
// identity.
var ErrNoUser = errors.New("no user in request")

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler defines the interface for HTTP request handlers in the sync service.
// Implementations handle specific endpoints (sync, OAuth callback).
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// UserResolver extracts the calling user's id from a request. Session and
// identity management live outside this service; the default resolver reads
// the X-User-ID header a fronting proxy is expected to set.
type UserResolver func(r *http.Request) (string, error)

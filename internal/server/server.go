// Package server provides the HTTP surface of the PDS, built on Echo
// v4. It hosts the public AT Protocol XRPC endpoints, the well-known
// identity documents, and the management API (net.herald.pds.*).
package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/openherald/herald-pds/internal/auth"
	"github.com/openherald/herald-pds/internal/blob"
	"github.com/openherald/herald-pds/internal/config"
	"github.com/openherald/herald-pds/internal/dispatch"
	"github.com/openherald/herald-pds/internal/events"
	"github.com/openherald/herald-pds/internal/identity"
	"github.com/openherald/herald-pds/internal/repo"
	"github.com/openherald/herald-pds/internal/storage"
)

// Server wraps the Echo instance and the engine dependencies.
type Server struct {
	echo       *echo.Echo
	cfg        *config.Config
	repo       *repo.Repository
	blobs      *blob.Store
	events     *events.Manager
	identity   *identity.Identity
	dispatcher *dispatch.Dispatcher
	store      storage.Store
	auth       *auth.Authenticator
}

// New creates a configured Echo server with all routes registered.
func New(cfg *config.Config, r *repo.Repository, blobs *blob.Store, evts *events.Manager, id *identity.Identity, d *dispatch.Dispatcher, st storage.Store, authn *auth.Authenticator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true // We log the listen address ourselves.

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{
		echo:       e,
		cfg:        cfg,
		repo:       r,
		blobs:      blobs,
		events:     evts,
		identity:   id,
		dispatcher: d,
		store:      st,
		auth:       authn,
	}

	s.registerRoutes()
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins listening for HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown allowing
// in-flight requests to complete.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", s.cfg.ListenAddr)
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("Shutting down HTTP server...")
		return s.echo.Shutdown(context.Background())
	}
}

// requireAccess is middleware validating the Bearer token on write
// calls against the static access token or a session JWT.
func (s *Server) requireAccess(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearer(c)
		if token == "" {
			return apiError(c, "AuthenticationRequired", "Authorization header with Bearer token is required")
		}
		if _, err := s.auth.CheckAccess(token); err != nil {
			return apiError(c, "InvalidToken", "Invalid or expired access token")
		}
		return next(c)
	}
}

// requireAdmin is middleware validating the management-API secret.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearer(c)
		if token == "" {
			return apiError(c, "AuthenticationRequired", "Authorization header with Bearer token is required")
		}
		if err := s.auth.CheckAdmin(token); err != nil {
			return apiError(c, "InvalidToken", "Invalid admin secret")
		}
		return next(c)
	}
}

// extractBearer extracts the Bearer token from the Authorization
// header.
func extractBearer(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// isLocalRepo reports whether a repo parameter (DID or handle) names
// this node's repository.
func (s *Server) isLocalRepo(repoID string) bool {
	return repoID == s.repo.DID() || repoID == s.identity.Handle()
}

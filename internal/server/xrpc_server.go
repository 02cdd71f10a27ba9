package server

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

// handleHealth returns basic server health information. Used by AT
// Protocol tooling and monitoring to verify the PDS is alive.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version": "0.1.0",
	})
}

// handleDescribeServer describes this PDS instance.
// GET /xrpc/com.atproto.server.describeServer
func (s *Server) handleDescribeServer(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"did":                  s.repo.DID(),
		"availableUserDomains": []string{},
		"inviteCodeRequired":   true,
	})
}

// handleResolveHandle resolves a handle to a DID. This node hosts a
// single account, so only its own handle resolves.
// GET /xrpc/com.atproto.identity.resolveHandle?handle=...
func (s *Server) handleResolveHandle(c echo.Context) error {
	handle := c.QueryParam("handle")
	if handle == "" {
		return apiError(c, "InvalidRequest", "handle query parameter is required")
	}
	if handle != s.identity.Handle() {
		return apiError(c, "HandleNotFound", "Unable to resolve handle: "+handle)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"did": s.repo.DID(),
	})
}

// handleDIDDocument serves the did:web document with its dedicated
// content type.
// GET /.well-known/did.json
func (s *Server) handleDIDDocument(c echo.Context) error {
	body, err := json.Marshal(s.identity.Document())
	if err != nil {
		return apiError(c, "InvalidRequest", "Failed to build DID document")
	}
	return c.Blob(http.StatusOK, "application/did+json", body)
}

// handleAtprotoDID serves the bare DID for handle verification.
// GET /.well-known/atproto-did
func (s *Server) handleAtprotoDID(c echo.Context) error {
	return c.String(http.StatusOK, s.repo.DID())
}

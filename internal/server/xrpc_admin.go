package server

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// --- subscriptions ---

type subscriptionRequest struct {
	DID string `json:"did"`
}

// handleAddSubscription adds a remote DID to the relay polling set.
// POST /xrpc/net.herald.pds.addSubscription
func (s *Server) handleAddSubscription(c echo.Context) error {
	var req subscriptionRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, "InvalidRequest", "Invalid JSON body")
	}
	req.DID = strings.TrimSpace(req.DID)
	if !isDID(req.DID) {
		return apiError(c, "InvalidRequest", "did is required")
	}

	if err := s.store.AddSubscription(c.Request().Context(), req.DID); err != nil {
		log.Printf("Error adding subscription %s: %v", req.DID, err)
		return apiError(c, "WriteFailed", "Failed to add subscription")
	}
	log.Printf("Subscription added: %s", req.DID)
	return c.JSON(http.StatusOK, map[string]string{"did": req.DID})
}

// handleListSubscriptions returns the polled DID set.
// GET /xrpc/net.herald.pds.listSubscriptions
func (s *Server) handleListSubscriptions(c echo.Context) error {
	subs, err := s.store.ListSubscriptions(c.Request().Context())
	if err != nil {
		log.Printf("Error listing subscriptions: %v", err)
		return apiError(c, "InvalidRequest", "Failed to list subscriptions")
	}

	out := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		entry := map[string]any{
			"did":          sub.DID,
			"subscribedAt": sub.SubscribedAt.Format(time.RFC3339),
		}
		if !sub.LastSync.IsZero() {
			entry["lastSync"] = sub.LastSync.Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, map[string]any{"subscriptions": out})
}

// handleRemoveSubscription drops a DID from the polling set.
// POST /xrpc/net.herald.pds.removeSubscription
func (s *Server) handleRemoveSubscription(c echo.Context) error {
	var req subscriptionRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, "InvalidRequest", "Invalid JSON body")
	}
	if req.DID == "" {
		return apiError(c, "InvalidRequest", "did is required")
	}

	removed, err := s.store.RemoveSubscription(c.Request().Context(), req.DID)
	if err != nil {
		log.Printf("Error removing subscription %s: %v", req.DID, err)
		return apiError(c, "WriteFailed", "Failed to remove subscription")
	}
	if !removed {
		return apiError(c, "RepoNotFound", "Not subscribed to: "+req.DID)
	}
	log.Printf("Subscription removed: %s", req.DID)
	return c.JSON(http.StatusOK, map[string]string{"did": req.DID})
}

// --- followers ---

// handleListFollowers returns the remote accounts following this node.
// GET /xrpc/net.herald.pds.listFollowers
func (s *Server) handleListFollowers(c echo.Context) error {
	followers, err := s.store.ListFollowers(c.Request().Context())
	if err != nil {
		log.Printf("Error listing followers: %v", err)
		return apiError(c, "InvalidRequest", "Failed to list followers")
	}

	out := make([]map[string]any, 0, len(followers))
	for _, f := range followers {
		out = append(out, map[string]any{
			"did":       f.DID,
			"handle":    f.Handle,
			"uri":       f.URI,
			"createdAt": f.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"followers": out})
}

// --- blobs ---

// handleListBlobs pages through stored blob references.
// GET /xrpc/net.herald.pds.listBlobs?limit=...&cursor=...
func (s *Server) handleListBlobs(c echo.Context) error {
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > 1000 {
			return apiError(c, "InvalidRequest", "limit must be between 1 and 1000")
		}
		limit = n
	}

	refs, cursor, err := s.blobs.List(c.Request().Context(), limit, c.QueryParam("cursor"))
	if err != nil {
		log.Printf("Error listing blobs: %v", err)
		return apiError(c, "InvalidRequest", "Failed to list blobs")
	}

	out := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		out = append(out, map[string]any{
			"cid":      ref.CID.String(),
			"mimeType": ref.Mime,
			"size":     ref.Size,
		})
	}
	resp := map[string]any{"blobs": out}
	if cursor != "" {
		resp["cursor"] = cursor
	}
	return c.JSON(http.StatusOK, resp)
}

// --- identity ---

type updateHandleRequest struct {
	Handle string `json:"handle"`
}

// handleUpdateHandle adopts a new handle and announces it on the
// firehose.
// POST /xrpc/net.herald.pds.updateHandle
func (s *Server) handleUpdateHandle(c echo.Context) error {
	var req updateHandleRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, "InvalidRequest", "Invalid JSON body")
	}
	if req.Handle == "" {
		return apiError(c, "InvalidRequest", "handle is required")
	}

	if err := s.identity.UpdateHandle(c.Request().Context(), req.Handle); err != nil {
		return writeError(c, err, "WriteFailed")
	}
	log.Printf("Handle updated: %s", req.Handle)
	return c.JSON(http.StatusOK, map[string]string{"handle": req.Handle})
}

type updateStatusRequest struct {
	Active bool   `json:"active"`
	Status string `json:"status"`
}

// handleUpdateStatus sets the account's active flag and announces it
// on the firehose.
// POST /xrpc/net.herald.pds.updateStatus
func (s *Server) handleUpdateStatus(c echo.Context) error {
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, "InvalidRequest", "Invalid JSON body")
	}

	if err := s.identity.UpdateStatus(c.Request().Context(), req.Active, req.Status); err != nil {
		return writeError(c, err, "WriteFailed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"active": req.Active,
		"status": req.Status,
	})
}

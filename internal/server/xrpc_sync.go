package server

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 10,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleGetRepo streams the repository as a CAR v1 archive. The
// optional since parameter is a rev; only blocks newer than it are
// included when the referenced commit is still retained.
// GET /xrpc/com.atproto.sync.getRepo?did=...&since=...
func (s *Server) handleGetRepo(c echo.Context) error {
	did := c.QueryParam("did")
	if did == "" {
		return apiError(c, "InvalidRequest", "did query parameter is required")
	}
	if !s.isLocalRepo(did) {
		return apiError(c, "RepoNotFound", "Repository not found: "+did)
	}

	ctx := c.Request().Context()
	c.Response().Header().Set(echo.HeaderContentType, "application/vnd.ipld.car")
	c.Response().WriteHeader(http.StatusOK)

	if err := s.repo.ExportCAR(ctx, c.Response().Writer, c.QueryParam("since")); err != nil {
		// Headers already sent; nothing useful left to tell the client.
		log.Printf("Error exporting repo: %v", err)
	}
	return nil
}

// handleGetLatestCommit returns the current commit CID and rev.
// GET /xrpc/com.atproto.sync.getLatestCommit?did=...
func (s *Server) handleGetLatestCommit(c echo.Context) error {
	did := c.QueryParam("did")
	if did == "" {
		return apiError(c, "InvalidRequest", "did query parameter is required")
	}
	if !s.isLocalRepo(did) {
		return apiError(c, "RepoNotFound", "Repository not found: "+did)
	}

	st, err := s.repo.Head(c.Request().Context())
	if err != nil {
		log.Printf("Error getting latest commit: %v", err)
		return apiError(c, "InvalidRequest", "Failed to get latest commit")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"cid": st.Commit.String(),
		"rev": st.Rev,
	})
}

// handleGetBlob serves a blob's bytes with its stored MIME type.
// GET /xrpc/com.atproto.sync.getBlob?did=...&cid=...
func (s *Server) handleGetBlob(c echo.Context) error {
	did := c.QueryParam("did")
	cidStr := c.QueryParam("cid")
	if did == "" || cidStr == "" {
		return apiError(c, "InvalidRequest", "did and cid query parameters are required")
	}
	if !s.isLocalRepo(did) {
		return apiError(c, "RepoNotFound", "Repository not found: "+did)
	}

	blobCID, ok := parseSwap(cidStr)
	if !ok {
		return apiError(c, "InvalidRequest", "cid is not a valid CID")
	}

	data, ref, err := s.blobs.Get(c.Request().Context(), *blobCID)
	if err != nil {
		return writeError(c, err, "BlobNotFound")
	}
	return c.Blob(http.StatusOK, ref.Mime, data)
}

// handleSubscribeRepos upgrades to a WebSocket and streams firehose
// frames, replaying buffered events after the optional cursor first.
// GET /xrpc/com.atproto.sync.subscribeRepos?cursor=...
func (s *Server) handleSubscribeRepos(c echo.Context) error {
	if s.events == nil {
		return apiError(c, "MethodNotImplemented", "No streaming transport on this deployment")
	}

	cursor := int64(-1)
	if q := c.QueryParam("cursor"); q != "" {
		n, err := strconv.ParseInt(q, 10, 64)
		if err != nil || n < 0 {
			return apiError(c, "InvalidRequest", "cursor must be a non-negative integer")
		}
		cursor = n
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote its own error response.
		return nil
	}
	if err := s.events.ServeWS(c.Request().Context(), conn, cursor); err != nil {
		log.Printf("subscribeRepos session: %v", err)
	}
	return nil
}

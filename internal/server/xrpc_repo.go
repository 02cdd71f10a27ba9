package server

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/ipfs/go-cid"
	"github.com/labstack/echo/v4"

	"github.com/openherald/herald-pds/internal/cids"
	"github.com/openherald/herald-pds/internal/codec"
	"github.com/openherald/herald-pds/internal/dispatch"
	"github.com/openherald/herald-pds/internal/repo"
)

// parseSwap parses an optional swap CID parameter. ok is false when
// the value is present but malformed.
func parseSwap(value string) (*cid.Cid, bool) {
	if value == "" {
		return nil, true
	}
	c, err := cid.Decode(value)
	if err != nil {
		return nil, false
	}
	return &c, true
}

// dispatchIncoming forwards a write against a remote repo to the
// dispatcher instead of the local repository.
func (s *Server) dispatchIncoming(c echo.Context, repoID, collection, rkey string, record map[string]any) error {
	author := dispatch.Author{DID: repoID}
	if !isDID(repoID) {
		author = dispatch.Author{Handle: repoID}
	}
	uri := "at://" + repoID + "/" + collection + "/" + rkey
	if err := s.dispatcher.Record(c.Request().Context(), author, uri, record); err != nil {
		log.Printf("Error dispatching incoming record from %s: %v", repoID, err)
		return apiError(c, "WriteFailed", "Failed to process incoming record")
	}

	recordCID, _, err := cids.FromCanonical(record)
	if err != nil {
		return apiError(c, "MalformedEncoding", err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"uri": uri,
		"cid": recordCID.String(),
	})
}

func isDID(s string) bool {
	return len(s) > 4 && s[:4] == "did:"
}

// recordFromJSON converts a JSON-decoded record body into the native
// value form: {"$link": ...} maps become CID links, {"$bytes": ...}
// maps become byte strings, integral numbers become int64.
func recordFromJSON(m map[string]any) (map[string]any, error) {
	v, err := codec.FromJSON(m)
	if err != nil {
		return nil, err
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record must be a map")
	}
	return rec, nil
}

// --- createRecord ---

type createRecordRequest struct {
	Repo       string         `json:"repo"`
	Collection string         `json:"collection"`
	RKey       string         `json:"rkey"`
	Record     map[string]any `json:"record"`
	SwapCommit string         `json:"swapCommit"`
	SwapRecord string         `json:"swapRecord"`
}

// handleCreateRecord creates a record, minting a TID rkey when none is
// given.
// POST /xrpc/com.atproto.repo.createRecord
func (s *Server) handleCreateRecord(c echo.Context) error {
	var req createRecordRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, "InvalidRequest", "Invalid JSON body")
	}
	if req.Repo == "" || req.Collection == "" || req.Record == nil {
		return apiError(c, "InvalidRequest", "repo, collection, and record are required")
	}
	// A create has no previous record to compare against.
	if req.SwapRecord != "" {
		return apiError(c, "InvalidSwap", "swapRecord is not valid on create")
	}

	record, err := recordFromJSON(req.Record)
	if err != nil {
		return apiError(c, "InvalidRequest", err.Error())
	}

	if !s.isLocalRepo(req.Repo) {
		return s.dispatchIncoming(c, req.Repo, req.Collection, req.RKey, record)
	}

	swapCommit, ok := parseSwap(req.SwapCommit)
	if !ok {
		return apiError(c, "InvalidRequest", "swapCommit is not a valid CID")
	}

	ref, err := s.repo.CreateRecord(c.Request().Context(), req.Collection, req.RKey, record, swapCommit)
	if err != nil {
		return writeError(c, err, "CreateFailed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"uri": ref.URI,
		"cid": ref.CID.String(),
		"commit": map[string]string{
			"cid": ref.Commit.CommitCID.String(),
			"rev": ref.Commit.Rev,
		},
	})
}

// --- putRecord ---

type putRecordRequest struct {
	Repo       string         `json:"repo"`
	Collection string         `json:"collection"`
	RKey       string         `json:"rkey"`
	Record     map[string]any `json:"record"`
	SwapRecord string         `json:"swapRecord"`
	SwapCommit string         `json:"swapCommit"`
}

// handlePutRecord writes a record at a known rkey, honoring swap
// preconditions.
// POST /xrpc/com.atproto.repo.putRecord
func (s *Server) handlePutRecord(c echo.Context) error {
	var req putRecordRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, "InvalidRequest", "Invalid JSON body")
	}
	if req.Repo == "" || req.Collection == "" || req.RKey == "" || req.Record == nil {
		return apiError(c, "InvalidRequest", "repo, collection, rkey, and record are required")
	}

	record, err := recordFromJSON(req.Record)
	if err != nil {
		return apiError(c, "InvalidRequest", err.Error())
	}

	if !s.isLocalRepo(req.Repo) {
		return s.dispatchIncoming(c, req.Repo, req.Collection, req.RKey, record)
	}

	swapRecord, ok := parseSwap(req.SwapRecord)
	if !ok {
		return apiError(c, "InvalidRequest", "swapRecord is not a valid CID")
	}
	swapCommit, ok := parseSwap(req.SwapCommit)
	if !ok {
		return apiError(c, "InvalidRequest", "swapCommit is not a valid CID")
	}

	ref, err := s.repo.PutRecord(c.Request().Context(), req.Collection, req.RKey, record, swapRecord, swapCommit)
	if err != nil {
		return writeError(c, err, "WriteFailed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"uri": ref.URI,
		"cid": ref.CID.String(),
		"commit": map[string]string{
			"cid": ref.Commit.CommitCID.String(),
			"rev": ref.Commit.Rev,
		},
	})
}

// --- deleteRecord ---

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
	SwapRecord string `json:"swapRecord"`
	SwapCommit string `json:"swapCommit"`
}

// handleDeleteRecord removes a record. Deletes against a remote repo
// have nothing local to remove.
// POST /xrpc/com.atproto.repo.deleteRecord
func (s *Server) handleDeleteRecord(c echo.Context) error {
	var req deleteRecordRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, "InvalidRequest", "Invalid JSON body")
	}
	if req.Repo == "" || req.Collection == "" || req.RKey == "" {
		return apiError(c, "InvalidRequest", "repo, collection, and rkey are required")
	}

	if !s.isLocalRepo(req.Repo) {
		return apiError(c, "RepoNotFound", "Repository not found: "+req.Repo)
	}

	swapRecord, ok := parseSwap(req.SwapRecord)
	if !ok {
		return apiError(c, "InvalidRequest", "swapRecord is not a valid CID")
	}
	swapCommit, ok := parseSwap(req.SwapCommit)
	if !ok {
		return apiError(c, "InvalidRequest", "swapCommit is not a valid CID")
	}

	result, err := s.repo.DeleteRecord(c.Request().Context(), req.Collection, req.RKey, swapRecord, swapCommit)
	if err != nil {
		return writeError(c, err, "WriteFailed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"commit": map[string]string{
			"cid": result.CommitCID.String(),
			"rev": result.Rev,
		},
	})
}

// --- getRecord ---

// GET /xrpc/com.atproto.repo.getRecord?repo=...&collection=...&rkey=...
func (s *Server) handleGetRecord(c echo.Context) error {
	repoID := c.QueryParam("repo")
	collection := c.QueryParam("collection")
	rkey := c.QueryParam("rkey")
	if repoID == "" || collection == "" || rkey == "" {
		return apiError(c, "InvalidRequest", "repo, collection, and rkey query parameters are required")
	}
	if !s.isLocalRepo(repoID) {
		return apiError(c, "RepoNotFound", "Repository not found: "+repoID)
	}

	expected, ok := parseSwap(c.QueryParam("cid"))
	if !ok {
		return apiError(c, "InvalidRequest", "cid is not a valid CID")
	}

	info, err := s.repo.GetRecord(c.Request().Context(), collection, rkey, expected)
	if err != nil {
		return writeError(c, err, "InvalidRequest")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"uri":   info.URI,
		"cid":   info.CID.String(),
		"value": codec.ToJSONMap(info.Value),
	})
}

// --- listRecords ---

// GET /xrpc/com.atproto.repo.listRecords?repo=...&collection=...
func (s *Server) handleListRecords(c echo.Context) error {
	repoID := c.QueryParam("repo")
	collection := c.QueryParam("collection")
	if repoID == "" || collection == "" {
		return apiError(c, "InvalidRequest", "repo and collection query parameters are required")
	}
	if !s.isLocalRepo(repoID) {
		return apiError(c, "RepoNotFound", "Repository not found: "+repoID)
	}

	limit := repo.DefaultListLimit
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > repo.MaxListLimit {
			return apiError(c, "InvalidRequest", "limit must be between 1 and 100")
		}
		limit = n
	}
	cursor := c.QueryParam("cursor")
	reverse := c.QueryParam("reverse") == "true"

	entries, nextCursor, err := s.repo.ListRecords(c.Request().Context(), collection, limit, cursor, reverse)
	if err != nil {
		return writeError(c, err, "InvalidRequest")
	}

	records := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		records = append(records, map[string]any{
			"uri":   e.URI,
			"cid":   e.CID.String(),
			"value": codec.ToJSONMap(e.Value),
		})
	}
	resp := map[string]any{"records": records}
	if nextCursor != "" {
		resp["cursor"] = nextCursor
	}
	return c.JSON(http.StatusOK, resp)
}

// --- describeRepo ---

// GET /xrpc/com.atproto.repo.describeRepo?repo=...
func (s *Server) handleDescribeRepo(c echo.Context) error {
	repoID := c.QueryParam("repo")
	if repoID == "" {
		return apiError(c, "InvalidRequest", "repo query parameter is required")
	}
	if !s.isLocalRepo(repoID) {
		return apiError(c, "RepoNotFound", "Repository not found: "+repoID)
	}

	collections, err := s.repo.Collections(c.Request().Context())
	if err != nil {
		log.Printf("Error describing repo: %v", err)
		return apiError(c, "InvalidRequest", "Failed to describe repo")
	}
	if collections == nil {
		collections = []string{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"handle":          s.identity.Handle(),
		"did":             s.repo.DID(),
		"didDoc":          s.identity.Document(),
		"collections":     collections,
		"handleIsCorrect": true,
	})
}

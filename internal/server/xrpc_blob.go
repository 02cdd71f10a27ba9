package server

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
)

// handleUploadBlob stores the raw request body as a blob and returns
// its reference.
// POST /xrpc/com.atproto.repo.uploadBlob
func (s *Server) handleUploadBlob(c echo.Context) error {
	mimeType := c.Request().Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	ref, err := s.blobs.Put(c.Request().Context(), c.Request().Body, mimeType)
	if err != nil {
		log.Printf("Error uploading blob: %v", err)
		return writeError(c, err, "UploadFailed")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"blob": map[string]any{
			"$type":    "blob",
			"ref":      map[string]string{"$link": ref.CID.String()},
			"mimeType": ref.Mime,
			"size":     ref.Size,
		},
	})
}

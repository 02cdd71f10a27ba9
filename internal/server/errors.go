package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openherald/herald-pds/internal/blob"
	"github.com/openherald/herald-pds/internal/identity"
	"github.com/openherald/herald-pds/internal/repo"
)

// statusFor maps a wire error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case "AuthenticationRequired", "InvalidToken":
		return http.StatusUnauthorized
	case "RepoNotFound", "RecordNotFound", "BlobNotFound", "HandleNotFound":
		return http.StatusNotFound
	case "MethodNotImplemented":
		return http.StatusNotImplemented
	default:
		// InvalidRequest, InvalidHandle, UnsupportedCollection,
		// InvalidSwap, BlobTooLarge, MalformedEncoding, CreateFailed,
		// WriteFailed, UploadFailed, RecordAlreadyExists.
		return http.StatusBadRequest
	}
}

// apiError writes the uniform {error, message} envelope.
func apiError(c echo.Context, code, message string) error {
	return c.JSON(statusFor(code), map[string]string{
		"error":   code,
		"message": message,
	})
}

// writeError translates engine errors from the mutation paths into
// the wire envelope. fallback is the code used for unclassified
// failures.
func writeError(c echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, repo.ErrInvalidSwap):
		return apiError(c, "InvalidSwap", err.Error())
	case errors.Is(err, repo.ErrRecordNotFound):
		return apiError(c, "RecordNotFound", "Record not found")
	case errors.Is(err, repo.ErrRecordExists):
		return apiError(c, "RecordAlreadyExists", err.Error())
	case errors.Is(err, repo.ErrInvalidNSID), errors.Is(err, repo.ErrInvalidRecordKey):
		return apiError(c, "InvalidRequest", err.Error())
	case errors.Is(err, blob.ErrTooLarge):
		return apiError(c, "BlobTooLarge", err.Error())
	case errors.Is(err, blob.ErrNotFound):
		return apiError(c, "BlobNotFound", "Blob not found")
	case errors.Is(err, identity.ErrInvalidHandle):
		return apiError(c, "InvalidHandle", err.Error())
	default:
		return apiError(c, fallback, err.Error())
	}
}

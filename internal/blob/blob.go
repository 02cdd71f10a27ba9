// Package blob provides content-addressed storage for media attached to
// records (images, video, etc.). Blobs are keyed by the CID of their raw
// bytes and carry a MIME type; payloads above the configured size limit
// are rejected before anything is written.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"

	"github.com/openherald/herald-pds/internal/cids"
	"github.com/openherald/herald-pds/internal/storage"
)

// DefaultMaxSize is the upload size limit applied when no explicit
// limit is configured.
const DefaultMaxSize = 1_000_000

// ErrTooLarge is returned by Put when the payload exceeds the limit.
var ErrTooLarge = errors.New("blob: exceeds maximum size")

// ErrNotFound is returned when no blob with the requested CID exists.
var ErrNotFound = errors.New("blob: not found")

// Ref describes a stored blob without its bytes.
type Ref struct {
	CID  cid.Cid `json:"cid"`
	Mime string  `json:"mimeType"`
	Size int64   `json:"size"`
}

// Store handles blob uploads and retrieval on top of a storage backend.
type Store struct {
	store   storage.Store
	maxSize int64
}

// NewStore creates a blob Store. maxSize <= 0 selects DefaultMaxSize.
func NewStore(st storage.Store, maxSize int64) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Store{store: st, maxSize: maxSize}
}

// MaxSize reports the configured upload limit in bytes.
func (s *Store) MaxSize() int64 {
	return s.maxSize
}

// Put reads the payload from r, computes its raw-codec CID, and stores
// it. Uploading bytes that are already stored is a no-op that returns
// the existing reference.
func (s *Store) Put(ctx context.Context, r io.Reader, mime string) (*Ref, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("blob: read: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, s.maxSize)
	}

	c, err := cids.FromBytes(data, cid.Raw)
	if err != nil {
		return nil, fmt.Errorf("blob: cid: %w", err)
	}
	if err := s.store.PutBlob(ctx, storage.Blob{
		CID:      c,
		MimeType: mime,
		Size:     int64(len(data)),
		Data:     data,
	}); err != nil {
		return nil, fmt.Errorf("blob: store: %w", err)
	}
	return &Ref{CID: c, Mime: mime, Size: int64(len(data))}, nil
}

// Get retrieves a blob's bytes and metadata by CID.
func (s *Store) Get(ctx context.Context, c cid.Cid) ([]byte, *Ref, error) {
	b, err := s.store.GetBlob(ctx, c)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("blob: get: %w", err)
	}
	return b.Data, &Ref{CID: b.CID, Mime: b.MimeType, Size: b.Size}, nil
}

// Exists reports whether a blob with the given CID is stored.
func (s *Store) Exists(ctx context.Context, c cid.Cid) (bool, error) {
	ok, err := s.store.HasBlob(ctx, c)
	if err != nil {
		return false, fmt.Errorf("blob: exists: %w", err)
	}
	return ok, nil
}

// Delete removes a blob. It reports whether a blob was actually removed.
func (s *Store) Delete(ctx context.Context, c cid.Cid) (bool, error) {
	removed, err := s.store.DeleteBlob(ctx, c)
	if err != nil {
		return false, fmt.Errorf("blob: delete: %w", err)
	}
	return removed, nil
}

// List returns stored blob references in CID order. The returned cursor
// is empty once the listing is exhausted.
func (s *Store) List(ctx context.Context, limit int, cursor string) ([]Ref, string, error) {
	if limit <= 0 {
		limit = 50
	}
	infos, err := s.store.ListBlobs(ctx, limit+1, cursor)
	if err != nil {
		return nil, "", fmt.Errorf("blob: list: %w", err)
	}
	next := ""
	if len(infos) > limit {
		infos = infos[:limit]
		next = infos[limit-1].CID.String()
	}
	refs := make([]Ref, 0, len(infos))
	for _, in := range infos {
		refs = append(refs, Ref{CID: in.CID, Mime: in.MimeType, Size: in.Size})
	}
	return refs, next, nil
}

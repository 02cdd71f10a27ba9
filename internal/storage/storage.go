// Package storage defines the persisted-state boundary of the PDS and
// its in-memory implementation. Everything the node must remember
// across restarts goes through a Store: the repository head, the
// content-addressed block space, the denormalized record index, blobs,
// the firehose sequence and queue, subscriptions, and followers.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ipfs/go-cid"
)

// ErrNotFound is returned for lookups of absent keys, blocks, or blobs.
var ErrNotFound = errors.New("storage: not found")

// RepoState is the single "current" pointer of the repository. All
// three fields advance together on every mutation.
type RepoState struct {
	Rev    string
	Root   cid.Cid
	Commit cid.Cid
}

// Blob is a stored binary object keyed by the CID of its bytes.
type Blob struct {
	CID       cid.Cid
	MimeType  string
	Size      int64
	Data      []byte
	CreatedAt time.Time
}

// BlobInfo is blob metadata without the payload, for listings.
type BlobInfo struct {
	CID      cid.Cid
	MimeType string
	Size     int64
}

// Event is one persisted firehose frame: the encoded header+body
// payload plus the metadata needed for replay and trimming.
type Event struct {
	Seq     int64
	Kind    string
	Repo    string
	Payload []byte
	Time    time.Time
}

// Subscription is a remote DID this node polls for records.
type Subscription struct {
	DID          string
	SubscribedAt time.Time
	LastSync     time.Time
}

// Follower is a remote actor following the local repository.
type Follower struct {
	DID       string
	Handle    string
	URI       string
	CreatedAt time.Time
}

// Store is the full persistence surface. Two implementations exist:
// Memory (tests, zero-config runs) and the Postgres backend in the
// postgres subpackage.
type Store interface {
	// Repository head. RepoState returns ErrNotFound before genesis.
	RepoState(ctx context.Context) (RepoState, error)
	SetRepoState(ctx context.Context, st RepoState) error

	// Content-addressed blocks: MST nodes, record bytes, commits.
	GetBlock(ctx context.Context, c cid.Cid) ([]byte, error)
	HasBlock(ctx context.Context, c cid.Cid) (bool, error)
	PutBlocks(ctx context.Context, blocks map[cid.Cid][]byte) error

	// Commit ring. PutCommit records c as the newest commit and prunes
	// commits (and their blocks) beyond keep entries. Commits lists the
	// retained commit CIDs oldest first.
	PutCommit(ctx context.Context, c cid.Cid, data []byte, keep int) error
	Commits(ctx context.Context) ([]cid.Cid, error)

	// Denormalized record index, key = "<collection>/<rkey>".
	IndexRecord(ctx context.Context, key string, c cid.Cid) error
	DropRecord(ctx context.Context, key string) error
	RecordCID(ctx context.Context, key string) (cid.Cid, error)
	Collections(ctx context.Context) ([]string, error)

	// Blobs.
	PutBlob(ctx context.Context, b Blob) error
	GetBlob(ctx context.Context, c cid.Cid) (Blob, error)
	HasBlob(ctx context.Context, c cid.Cid) (bool, error)
	DeleteBlob(ctx context.Context, c cid.Cid) (bool, error)
	ListBlobs(ctx context.Context, limit int, cursor string) ([]BlobInfo, error)

	// Firehose. NextSeq increments and returns the persisted counter;
	// AppendEvent stores an event and trims the queue to keep entries.
	NextSeq(ctx context.Context) (int64, error)
	AppendEvent(ctx context.Context, ev Event, keep int) error
	EventsAfter(ctx context.Context, cursor int64) ([]Event, error)

	// Subscriptions for the relay poller.
	AddSubscription(ctx context.Context, did string) error
	RemoveSubscription(ctx context.Context, did string) (bool, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	SetLastSync(ctx context.Context, did string, at time.Time) error

	// Followers of the local repository.
	UpsertFollower(ctx context.Context, f Follower) error
	RemoveFollower(ctx context.Context, did string) (bool, error)
	ListFollowers(ctx context.Context) ([]Follower, error)

	Close()
}

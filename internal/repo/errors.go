package repo

import "errors"

var (
	// ErrInvalidSwap reports a failed optimistic-concurrency
	// precondition. The mutation is a no-op.
	ErrInvalidSwap = errors.New("repo: invalid swap")

	// ErrRecordNotFound reports a lookup or delete of an absent record.
	ErrRecordNotFound = errors.New("repo: record not found")

	// ErrRecordExists reports a create with an explicit rkey that is
	// already present.
	ErrRecordExists = errors.New("repo: record already exists")

	// ErrInvalidNSID reports a collection name that is not a valid
	// reverse-DNS NSID.
	ErrInvalidNSID = errors.New("repo: invalid collection nsid")

	// ErrInvalidRecordKey reports a malformed rkey.
	ErrInvalidRecordKey = errors.New("repo: invalid record key")
)

// Package repo implements the AT Protocol repository: the signed
// commit chain over the Merkle search tree, record CRUD with swap
// preconditions, and CAR export.
package repo

import (
	"fmt"
	"strings"
)

// ValidateNSID checks that a collection name is a plausible reverse-DNS
// NSID: at least three dot-separated segments, each non-empty and made
// of letters, digits, and hyphens, with an alphabetic name segment.
func ValidateNSID(nsid string) error {
	if len(nsid) == 0 || len(nsid) > 317 {
		return ErrInvalidNSID
	}
	segs := strings.Split(nsid, ".")
	if len(segs) < 3 {
		return ErrInvalidNSID
	}
	for i, seg := range segs {
		if seg == "" || len(seg) > 63 {
			return ErrInvalidNSID
		}
		if seg[0] == '-' || seg[len(seg)-1] == '-' {
			return ErrInvalidNSID
		}
		// The final (name) segment must not start with a digit.
		if i == len(segs)-1 && seg[0] >= '0' && seg[0] <= '9' {
			return ErrInvalidNSID
		}
		for _, r := range seg {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			case r == '-':
			default:
				return ErrInvalidNSID
			}
		}
	}
	return nil
}

// ValidateRKey checks a record key: 1 to 512 characters from the
// URI-safe set, and not "." or "..".
func ValidateRKey(rkey string) error {
	if len(rkey) == 0 || len(rkey) > 512 || rkey == "." || rkey == ".." {
		return ErrInvalidRecordKey
	}
	for _, r := range rkey {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_', r == ':', r == '~':
		default:
			return ErrInvalidRecordKey
		}
	}
	return nil
}

// RecordKey joins collection and rkey into the MST key form.
func RecordKey(collection, rkey string) string {
	return collection + "/" + rkey
}

// ATURI renders the canonical at:// URI of a record.
func ATURI(did, collection, rkey string) string {
	return "at://" + did + "/" + collection + "/" + rkey
}

// ValidateRecord checks that a record map carries a string $type
// matching the collection it is written to.
func ValidateRecord(collection string, record map[string]any) error {
	typ, ok := record["$type"].(string)
	if !ok || typ == "" {
		return fmt.Errorf("repo: record missing $type")
	}
	if typ != collection {
		return fmt.Errorf("repo: record $type %q does not match collection %q", typ, collection)
	}
	return nil
}

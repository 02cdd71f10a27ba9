package dispatch

import (
	"fmt"
	"strings"
)

// ATURI is a parsed at:// URI with exactly three path segments.
type ATURI struct {
	DID        string
	Collection string
	RKey       string
}

// ParseATURI parses `at://<did>/<collection>/<rkey>`, rejecting
// anything with missing or extra segments.
func ParseATURI(uri string) (ATURI, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ATURI{}, fmt.Errorf("dispatch: not an at:// uri: %q", uri)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ATURI{}, fmt.Errorf("dispatch: malformed at:// uri: %q", uri)
	}
	return ATURI{DID: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// String renders the URI back into at:// form.
func (u ATURI) String() string {
	return "at://" + u.DID + "/" + u.Collection + "/" + u.RKey
}

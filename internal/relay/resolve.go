// Package relay polls subscribed remote repositories and feeds their
// records into the dispatcher. DIDs are resolved to PDS endpoints via
// did:web documents or the PLC directory; each subscription keeps a
// last-sync cursor and failures on one DID never affect the others.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultPLCDirectory is the public PLC directory used to resolve
// did:plc identifiers.
const DefaultPLCDirectory = "https://plc.directory"

// Identity is a resolved DID: where its PDS lives and the handle it
// is known as.
type Identity struct {
	DID      string
	Handle   string
	Endpoint string
}

// Resolver resolves DIDs to PDS endpoints and handles.
type Resolver struct {
	// Client is used for resolution requests. Defaults to a client
	// with a 30 s timeout.
	Client *http.Client
	// PLCDirectory overrides DefaultPLCDirectory.
	PLCDirectory string
	// Insecure switches did:web resolution to plain http, for local
	// development against unencrypted hosts.
	Insecure bool
}

type didDocument struct {
	ID          string   `json:"id"`
	AlsoKnownAs []string `json:"alsoKnownAs"`
	Service     []struct {
		ID              string `json:"id"`
		Type            string `json:"type"`
		ServiceEndpoint string `json:"serviceEndpoint"`
	} `json:"service"`
}

// Resolve fetches the DID document for a did:web or did:plc identifier
// and extracts the PDS endpoint and primary handle.
func (r *Resolver) Resolve(ctx context.Context, did string) (*Identity, error) {
	var docURL string
	switch {
	case strings.HasPrefix(did, "did:web:"):
		host, err := didWebHost(did)
		if err != nil {
			return nil, err
		}
		scheme := "https"
		if r.Insecure {
			scheme = "http"
		}
		docURL = scheme + "://" + host + "/.well-known/did.json"
	case strings.HasPrefix(did, "did:plc:"):
		dir := r.PLCDirectory
		if dir == "" {
			dir = DefaultPLCDirectory
		}
		docURL = strings.TrimRight(dir, "/") + "/" + did
	default:
		return nil, fmt.Errorf("relay: unsupported did method: %s", did)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: resolve %s: %w", did, err)
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: resolve %s: %w", did, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay: resolve %s: status %d", did, resp.StatusCode)
	}

	var doc didDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("relay: resolve %s: decode: %w", did, err)
	}
	if doc.ID != did {
		return nil, fmt.Errorf("relay: resolve %s: document is for %s", did, doc.ID)
	}

	id := &Identity{DID: did}
	for _, aka := range doc.AlsoKnownAs {
		if h, ok := strings.CutPrefix(aka, "at://"); ok {
			id.Handle = h
			break
		}
	}
	for _, svc := range doc.Service {
		if svc.Type == "AtprotoPersonalDataServer" {
			id.Endpoint = strings.TrimRight(svc.ServiceEndpoint, "/")
			break
		}
	}
	if id.Endpoint == "" {
		return nil, fmt.Errorf("relay: resolve %s: no pds service endpoint", did)
	}
	return id, nil
}

func (r *Resolver) httpClient() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// didWebHost turns the method-specific part of a did:web into a host
// (with optional port). Percent-encoded colons separate host from
// port; plain colons would introduce path segments, which are not
// used for PDS identities.
func didWebHost(did string) (string, error) {
	rest := strings.TrimPrefix(did, "did:web:")
	if rest == "" || strings.Contains(rest, "/") {
		return "", fmt.Errorf("relay: malformed did:web: %s", did)
	}
	if strings.Contains(rest, ":") {
		return "", fmt.Errorf("relay: did:web with path segments is not supported: %s", did)
	}
	host, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("relay: malformed did:web: %s: %w", did, err)
	}
	return host, nil
}

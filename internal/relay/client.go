package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a minimal XRPC client for reading records off remote
// PDSes.
type Client struct {
	// HTTP is the underlying client. Defaults to a 30 s timeout.
	HTTP *http.Client
}

// RemoteRecord is one record returned by listRecords.
type RemoteRecord struct {
	URI   string         `json:"uri"`
	CID   string         `json:"cid"`
	Value map[string]any `json:"value"`
}

type listRecordsResponse struct {
	Records []RemoteRecord `json:"records"`
	Cursor  string         `json:"cursor"`
}

// ListRecords calls com.atproto.repo.listRecords on the given PDS for
// one page of records.
func (c *Client) ListRecords(ctx context.Context, endpoint, did, collection string, limit int, cursor string) ([]RemoteRecord, string, error) {
	q := url.Values{}
	q.Set("repo", did)
	q.Set("collection", collection)
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	reqURL := endpoint + "/xrpc/com.atproto.repo.listRecords?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("relay: list records: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("relay: list records %s/%s: %w", did, collection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("relay: list records %s/%s: status %d: %s", did, collection, resp.StatusCode, string(body))
	}

	var out listRecordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("relay: list records %s/%s: decode: %w", did, collection, err)
	}
	return out.Records, out.Cursor, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

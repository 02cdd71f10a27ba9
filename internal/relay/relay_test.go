package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openherald/herald-pds/internal/dispatch"
	"github.com/openherald/herald-pds/internal/storage"
)

const localDID = "did:web:pds.example.com"

// fakePDS serves a did:web document and canned listRecords pages for
// one remote DID.
type fakePDS struct {
	srv     *httptest.Server
	did     string
	handle  string
	records map[string][]RemoteRecord
	fail    atomic.Bool
}

func newFakePDS(t *testing.T, handle string, records map[string][]RemoteRecord) *fakePDS {
	t.Helper()
	f := &fakePDS{handle: handle, records: records}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/did.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/did+json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          f.did,
			"alsoKnownAs": []string{"at://" + f.handle},
			"service": []map[string]any{{
				"id":              "#atproto_pds",
				"type":            "AtprotoPersonalDataServer",
				"serviceEndpoint": f.srv.URL,
			}},
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.listRecords", func(w http.ResponseWriter, r *http.Request) {
		if f.fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		collection := r.URL.Query().Get("collection")
		json.NewEncoder(w).Encode(map[string]any{
			"records": f.records[collection],
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	// did:web encodes the port colon as %3A.
	host := strings.TrimPrefix(f.srv.URL, "http://")
	f.did = "did:web:" + strings.ReplaceAll(host, ":", "%3A")
	return f
}

func likeRecord(remoteDID, rkey, targetRKey string) RemoteRecord {
	return RemoteRecord{
		URI: "at://" + remoteDID + "/app.bsky.feed.like/" + rkey,
		Value: map[string]any{
			"$type": dispatch.TypeLike,
			"subject": map[string]any{
				"uri": "at://" + localDID + "/app.bsky.feed.post/" + targetRKey,
			},
		},
	}
}

func TestResolveDidWeb(t *testing.T) {
	f := newFakePDS(t, "alice.example", nil)

	res := &Resolver{Insecure: true}
	id, err := res.Resolve(context.Background(), f.did)
	require.NoError(t, err)
	require.Equal(t, f.did, id.DID)
	require.Equal(t, "alice.example", id.Handle)
	require.Equal(t, f.srv.URL, id.Endpoint)
}

func TestResolveRejectsUnsupported(t *testing.T) {
	res := &Resolver{Insecure: true}
	for _, did := range []string{
		"did:key:z6Mk",
		"did:web:",
		"did:web:host:path",
		"not-a-did",
	} {
		_, err := res.Resolve(context.Background(), did)
		require.Error(t, err, "did %q", did)
	}
}

func TestResolveDidPlc(t *testing.T) {
	const did = "did:plc:abc123xyz"
	dir := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/"+did, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"id":          did,
			"alsoKnownAs": []string{"at://bob.example"},
			"service": []map[string]any{{
				"id":              "#atproto_pds",
				"type":            "AtprotoPersonalDataServer",
				"serviceEndpoint": "https://pds.bob.example",
			}},
		})
	}))
	defer dir.Close()

	res := &Resolver{PLCDirectory: dir.URL}
	id, err := res.Resolve(context.Background(), did)
	require.NoError(t, err)
	require.Equal(t, "bob.example", id.Handle)
	require.Equal(t, "https://pds.bob.example", id.Endpoint)
}

func TestPollDeliversRecords(t *testing.T) {
	ctx := context.Background()
	f := newFakePDS(t, "alice.example", map[string][]RemoteRecord{
		dispatch.TypeLike: {likeRecord("placeholder", "3k1", "3kpost")},
		dispatch.TypeFollow: {{
			URI: "at://placeholder/app.bsky.graph.follow/3k2",
			Value: map[string]any{
				"$type":   dispatch.TypeFollow,
				"subject": localDID,
			},
		}},
	})

	st := storage.NewMemory()
	require.NoError(t, st.AddSubscription(ctx, f.did))

	sinks := &countingSinks{}
	d := dispatch.New(localDID, sinks, sinks, sinks)
	p := NewPoller(st, d, &Resolver{Insecure: true}, &Client{}, time.Hour, 2)

	require.NoError(t, p.Poll(ctx))
	require.Equal(t, int32(1), sinks.likes.Load())
	require.Equal(t, int32(1), sinks.follows.Load())

	subs, err := st.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.False(t, subs[0].LastSync.IsZero())
}

func TestPollIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	healthy := newFakePDS(t, "alice.example", map[string][]RemoteRecord{
		dispatch.TypeLike: {likeRecord("placeholder", "3k1", "3kpost")},
	})
	broken := newFakePDS(t, "bob.example", nil)
	broken.fail.Store(true)

	st := storage.NewMemory()
	require.NoError(t, st.AddSubscription(ctx, healthy.did))
	require.NoError(t, st.AddSubscription(ctx, broken.did))

	sinks := &countingSinks{}
	d := dispatch.New(localDID, sinks, sinks, sinks)
	p := NewPoller(st, d, &Resolver{Insecure: true}, &Client{}, time.Hour, 2)

	require.NoError(t, p.Poll(ctx))
	require.Equal(t, int32(1), sinks.likes.Load())

	for _, sub := range mustSubs(t, st) {
		if sub.DID == healthy.did {
			require.False(t, sub.LastSync.IsZero())
		} else {
			require.True(t, sub.LastSync.IsZero())
		}
	}
}

func mustSubs(t *testing.T, st storage.Store) []storage.Subscription {
	t.Helper()
	subs, err := st.ListSubscriptions(context.Background())
	require.NoError(t, err)
	return subs
}

type countingSinks struct {
	likes   atomic.Int32
	follows atomic.Int32
}

func (c *countingSinks) Like(context.Context, string, dispatch.Author) error {
	c.likes.Add(1)
	return nil
}
func (c *countingSinks) Unlike(context.Context, string, dispatch.Author) error   { return nil }
func (c *countingSinks) Repost(context.Context, string, dispatch.Author) error   { return nil }
func (c *countingSinks) Unrepost(context.Context, string, dispatch.Author) error { return nil }

func (c *countingSinks) Add(context.Context, dispatch.Author, string) error {
	c.follows.Add(1)
	return nil
}
func (c *countingSinks) Remove(context.Context, string) error { return nil }

func (c *countingSinks) Store(context.Context, string, string, dispatch.Author, string, time.Time) error {
	return nil
}

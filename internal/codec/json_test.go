package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromJSONRoundTrip(t *testing.T) {
	t.Parallel()

	link := testCID(t, "blob ref")
	raw := `{
		"$type": "app.bsky.feed.post",
		"text": "with media",
		"langs": ["en"],
		"embed": {
			"$type": "app.bsky.embed.images",
			"images": [{"alt": "", "image": {"$link": "` + link.String() + `"}}]
		},
		"replyCount": 3
	}`

	var decoded any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))

	native, err := FromJSON(decoded)
	require.NoError(t, err)

	m, ok := native.(map[string]any)
	require.True(t, ok)
	require.Equal(t, int64(3), m["replyCount"])

	embed := m["embed"].(map[string]any)
	images := embed["images"].([]any)
	img := images[0].(map[string]any)
	require.Equal(t, link, img["image"], "$link converts to a cid")

	// Surface form round-trips back to the original structure.
	surface := ToJSON(native)
	reJSON, err := json.Marshal(surface)
	require.NoError(t, err)

	var a, b any
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	require.NoError(t, json.Unmarshal(reJSON, &b))
	require.Equal(t, a, b)
}

func TestFromJSONRejectsFractions(t *testing.T) {
	t.Parallel()

	_, err := FromJSON(map[string]any{"score": 0.5})
	require.Error(t, err)

	v, err := FromJSON(map[string]any{"count": float64(7)})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"count": int64(7)}, v)
}

func TestFromJSONBytes(t *testing.T) {
	t.Parallel()

	v, err := FromJSON(map[string]any{"sig": map[string]any{"$bytes": "AAEC"}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sig": []byte{0, 1, 2}}, v)
}

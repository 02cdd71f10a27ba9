package codec

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func testCID(t *testing.T, data string) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte(data), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.DagCBOR, mh)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	link := testCID(t, "linked block")
	cases := []struct {
		name string
		val  any
	}{
		{"null", nil},
		{"true", true},
		{"false", false},
		{"zero", int64(0)},
		{"small int", int64(23)},
		{"one byte int", int64(24)},
		{"two byte int", int64(256)},
		{"large int", int64(1) << 53},
		{"negative", int64(-42)},
		{"string", "hello world"},
		{"empty string", ""},
		{"bytes", []byte{0x00, 0x01, 0xff}},
		{"array", []any{int64(1), "two", nil}},
		{"link", link},
		{"record", map[string]any{
			"$type":     "app.bsky.feed.post",
			"text":      "hi",
			"createdAt": "2024-01-01T00:00:00.000Z",
			"embed": map[string]any{
				"$type": "app.bsky.embed.images",
				"images": []any{
					map[string]any{"image": link, "alt": ""},
				},
			},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := Encode(tc.val)
			require.NoError(t, err)

			dec, err := DecodeStrict(enc)
			require.NoError(t, err)
			require.Equal(t, tc.val, dec)

			// Re-encoding the decoded value must be byte-identical.
			enc2, err := Encode(dec)
			require.NoError(t, err)
			require.Equal(t, enc, enc2)
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	m := map[string]any{"zz": int64(1), "a": int64(2), "mid": int64(3), "b": int64(4)}
	first, err := Encode(m)
	require.NoError(t, err)
	for range 20 {
		again, err := Encode(m)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestMapKeyOrder(t *testing.T) {
	t.Parallel()

	// Keys sort by byte length first, then bytewise: a, ab, bb.
	enc, err := Encode(map[string]any{"a": int64(1), "bb": int64(2), "ab": int64(3)})
	require.NoError(t, err)
	want := []byte{
		0xa3,
		0x61, 'a', 0x01,
		0x62, 'a', 'b', 0x03,
		0x62, 'b', 'b', 0x02,
	}
	require.Equal(t, want, enc)
}

func TestMinimalIntHeads(t *testing.T) {
	t.Parallel()

	cases := []struct {
		val  int64
		want []byte
	}{
		{0, []byte{0x00}},
		{23, []byte{0x17}},
		{24, []byte{0x18, 0x18}},
		{255, []byte{0x18, 0xff}},
		{256, []byte{0x19, 0x01, 0x00}},
		{65536, []byte{0x1a, 0x00, 0x01, 0x00, 0x00}},
		{-1, []byte{0x20}},
		{-25, []byte{0x38, 0x18}},
	}
	for _, tc := range cases {
		enc, err := Encode(tc.val)
		require.NoError(t, err)
		require.Equal(t, tc.want, enc, "value %d", tc.val)
	}
}

func TestEncodeRejectsFloats(t *testing.T) {
	t.Parallel()

	_, err := Encode(3.5)
	require.Error(t, err)
	_, err = Encode(map[string]any{"n": float64(1.25)})
	require.Error(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated map", []byte{0xa1, 0x61}},
		{"truncated string", []byte{0x63, 'a'}},
		{"unknown tag", []byte{0xd8, 0x2b, 0x41, 0x00}},
		{"non-string key", []byte{0xa1, 0x01, 0x02}},
		{"duplicate key", []byte{0xa2, 0x61, 'a', 0x01, 0x61, 'a', 0x02}},
		{"trailing bytes", []byte{0x01, 0x01}},
		{"indefinite array", []byte{0x9f, 0xff}},
		{"indefinite map", []byte{0xbf, 0xff}},
		{"float", []byte{0xfb, 0x40, 0x09, 0x21, 0xfb, 0x54, 0x44, 0x2d, 0x18}},
		{"non-minimal head", []byte{0x18, 0x01}},
		{"bad link prefix", []byte{0xd8, 0x2a, 0x42, 0x01, 0x00}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeStrictKeyOrder(t *testing.T) {
	t.Parallel()

	// {"b":1,"a":2} — wrong order.
	unsorted := []byte{0xa2, 0x61, 'b', 0x01, 0x61, 'a', 0x02}

	_, err := Decode(unsorted)
	require.NoError(t, err, "lenient decode accepts unsorted keys")

	_, err = DecodeStrict(unsorted)
	require.ErrorIs(t, err, ErrMalformed)
}

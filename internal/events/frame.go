package events

import (
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/openherald/herald-pds/internal/codec"
)

// Event kinds carried in the frame header's t field.
const (
	KindCommit   = "#commit"
	KindIdentity = "#identity"
	KindAccount  = "#account"
)

// EncodeFrame serializes one firehose frame:
// varint(len(header)) || header || body, both maps in canonical form.
func EncodeFrame(kind string, body map[string]any) ([]byte, error) {
	hb, err := codec.Encode(map[string]any{"op": int64(1), "t": kind})
	if err != nil {
		return nil, fmt.Errorf("events: encode frame header: %w", err)
	}
	bb, err := codec.Encode(body)
	if err != nil {
		return nil, fmt.Errorf("events: encode frame body: %w", err)
	}

	out := make([]byte, 0, varint.UvarintSize(uint64(len(hb)))+len(hb)+len(bb))
	out = append(out, varint.ToUvarint(uint64(len(hb)))...)
	out = append(out, hb...)
	out = append(out, bb...)
	return out, nil
}

// DecodeFrame splits and decodes a frame, returning the header's kind
// and the body map.
func DecodeFrame(data []byte) (string, map[string]any, error) {
	hlen, n, err := varint.FromUvarint(data)
	if err != nil {
		return "", nil, fmt.Errorf("events: decode frame length: %w", err)
	}
	if uint64(len(data)-n) < hlen {
		return "", nil, fmt.Errorf("events: truncated frame header")
	}

	hv, err := codec.Decode(data[n : n+int(hlen)])
	if err != nil {
		return "", nil, fmt.Errorf("events: decode frame header: %w", err)
	}
	header, ok := hv.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("events: frame header is not a map")
	}
	kind, ok := header["t"].(string)
	if !ok {
		return "", nil, fmt.Errorf("events: frame header missing t")
	}

	bv, err := codec.Decode(data[n+int(hlen):])
	if err != nil {
		return "", nil, fmt.Errorf("events: decode frame body: %w", err)
	}
	body, ok := bv.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("events: frame body is not a map")
	}
	return kind, body, nil
}

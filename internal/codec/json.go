package codec

import (
	"encoding/base64"
	"fmt"
	"math"

	"github.com/ipfs/go-cid"
)

// The JSON surface form of the data model maps CID links to
// {"$link": "b..."} and byte strings to {"$bytes": base64}. These two
// functions bridge between that form (what XRPC clients send and
// receive) and the native value universe Encode operates on.

// FromJSON converts a JSON-decoded value (as produced by
// encoding/json: float64 numbers, map[string]any, []any) into the
// native form. Integral floats become int64; non-integral floats are
// rejected since the canonical encoding has no floating point.
func FromJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, int64:
		return val, nil
	case float64:
		if val != math.Trunc(val) || math.Abs(val) > 1<<53 {
			return nil, fmt.Errorf("codec: non-integer number %v not representable", val)
		}
		return int64(val), nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			conv, err := FromJSON(elem)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		if link, ok := jsonLink(val); ok {
			c, err := cid.Decode(link)
			if err != nil {
				return nil, fmt.Errorf("codec: invalid $link %q: %w", link, err)
			}
			return c, nil
		}
		if b64, ok := jsonBytes(val); ok {
			raw, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return nil, fmt.Errorf("codec: invalid $bytes: %w", err)
			}
			return raw, nil
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			conv, err := FromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("codec: key %q: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unsupported JSON type %T", v)
	}
}

// ToJSON converts a native value into its JSON surface form.
func ToJSON(v any) any {
	switch val := v.(type) {
	case cid.Cid:
		return map[string]any{"$link": val.String()}
	case []byte:
		return map[string]any{"$bytes": base64.StdEncoding.EncodeToString(val)}
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToJSON(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToJSON(elem)
		}
		return out
	default:
		return val
	}
}

// ToJSONMap is ToJSON for record maps, keeping the map type.
func ToJSONMap(m map[string]any) map[string]any {
	out, _ := ToJSON(m).(map[string]any)
	return out
}

func jsonLink(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	s, ok := m["$link"].(string)
	return s, ok
}

func jsonBytes(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	s, ok := m["$bytes"].(string)
	return s, ok
}

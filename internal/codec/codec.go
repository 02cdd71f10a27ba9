// Package codec implements the canonical binary encoding used for
// records, commits, and MST nodes: a deterministic subset of DAG-CBOR.
// Map keys are sorted by byte length then byte order, integers use the
// shortest head form, floats and indefinite-length items are rejected,
// and CID links are encoded as tag 42 wrapping 0x00 || cid bytes.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// ErrMalformed is wrapped by every decode failure. Surfaced over the
// wire as MalformedEncoding.
var ErrMalformed = errors.New("malformed encoding")

const (
	majUnsigned = cbg.MajUnsignedInt
	majNegative = cbg.MajNegativeInt
	majBytes    = cbg.MajByteString
	majText     = cbg.MajTextString
	majArray    = cbg.MajArray
	majMap      = cbg.MajMap
	majTag      = cbg.MajTag
	majOther    = cbg.MajOther
)

// Simple values under major type 7.
const (
	simpleFalse = 20
	simpleTrue  = 21
	simpleNull  = 22
)

// linkTag is the CBOR tag number for CID links.
const linkTag = 42

// Encode serializes a value to canonical bytes. Supported types: nil,
// bool, all Go integer types, string, []byte, []any, map[string]any,
// and cid.Cid. Output is deterministic: equal values always produce
// equal bytes.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(w io.Writer, v any) error {
	switch val := v.(type) {
	case nil:
		_, err := w.Write([]byte{0xf6})
		return err
	case bool:
		b := byte(0xf4)
		if val {
			b = 0xf5
		}
		_, err := w.Write([]byte{b})
		return err
	case int:
		return encodeInt(w, int64(val))
	case int8:
		return encodeInt(w, int64(val))
	case int16:
		return encodeInt(w, int64(val))
	case int32:
		return encodeInt(w, int64(val))
	case int64:
		return encodeInt(w, val)
	case uint:
		return encodeUint(w, uint64(val))
	case uint8:
		return encodeInt(w, int64(val))
	case uint16:
		return encodeInt(w, int64(val))
	case uint32:
		return encodeInt(w, int64(val))
	case uint64:
		return encodeUint(w, val)
	case string:
		if err := cbg.WriteMajorTypeHeader(w, majText, uint64(len(val))); err != nil {
			return err
		}
		_, err := io.WriteString(w, val)
		return err
	case []byte:
		if err := cbg.WriteMajorTypeHeader(w, majBytes, uint64(len(val))); err != nil {
			return err
		}
		_, err := w.Write(val)
		return err
	case []any:
		if err := cbg.WriteMajorTypeHeader(w, majArray, uint64(len(val))); err != nil {
			return err
		}
		for _, elem := range val {
			if err := encodeValue(w, elem); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		return encodeMap(w, val)
	case cid.Cid:
		return encodeLink(w, val)
	case *cid.Cid:
		if val == nil {
			_, err := w.Write([]byte{0xf6})
			return err
		}
		return encodeLink(w, *val)
	case float32, float64:
		return fmt.Errorf("codec: floating point is not encodable")
	default:
		return fmt.Errorf("codec: unsupported type %T", v)
	}
}

func encodeInt(w io.Writer, v int64) error {
	if v >= 0 {
		return cbg.WriteMajorTypeHeader(w, majUnsigned, uint64(v))
	}
	return cbg.WriteMajorTypeHeader(w, majNegative, uint64(-(v + 1)))
}

func encodeUint(w io.Writer, v uint64) error {
	if v > math.MaxInt64 {
		return fmt.Errorf("codec: integer %d overflows int64", v)
	}
	return cbg.WriteMajorTypeHeader(w, majUnsigned, v)
}

// encodeMap writes a map with keys sorted by byte length ascending,
// then byte-lexicographically.
func encodeMap(w io.Writer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	SortKeys(keys)

	if err := cbg.WriteMajorTypeHeader(w, majMap, uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := cbg.WriteMajorTypeHeader(w, majText, uint64(len(k))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, k); err != nil {
			return err
		}
		if err := encodeValue(w, m[k]); err != nil {
			return fmt.Errorf("codec: key %q: %w", k, err)
		}
	}
	return nil
}

// encodeLink writes tag 42 wrapping 0x00 || cid bytes.
func encodeLink(w io.Writer, c cid.Cid) error {
	if !c.Defined() {
		return fmt.Errorf("codec: undefined cid link")
	}
	if err := cbg.WriteMajorTypeHeader(w, majTag, linkTag); err != nil {
		return err
	}
	raw := c.Bytes()
	wrapped := make([]byte, len(raw)+1)
	copy(wrapped[1:], raw)
	if err := cbg.WriteMajorTypeHeader(w, majBytes, uint64(len(wrapped))); err != nil {
		return err
	}
	_, err := w.Write(wrapped)
	return err
}

// SortKeys orders map keys canonically: shorter keys first, ties broken
// byte-lexicographically.
func SortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
}

// keyLess reports whether a sorts before b in canonical key order.
func keyLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ipfs/go-cid"
)

// maxNesting bounds recursion depth so hostile input cannot blow the
// stack.
const maxNesting = 64

// Decode parses canonical bytes back into a value. It is the left
// inverse of Encode on the encodable subset. Trailing bytes, truncated
// input, unknown tags, non-string map keys, and duplicate map keys all
// fail with an error wrapping ErrMalformed. Map key ordering is not
// checked; use DecodeStrict for that.
func Decode(data []byte) (any, error) {
	return decode(data, false)
}

// DecodeStrict is Decode plus canonical key-order validation: a map
// whose keys are not sorted length-first is rejected.
func DecodeStrict(data []byte) (any, error) {
	return decode(data, true)
}

func decode(data []byte, strict bool) (any, error) {
	d := &decoder{buf: data, strict: strict}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(d.buf)-d.pos)
	}
	return v, nil
}

type decoder struct {
	buf    []byte
	pos    int
	strict bool
}

func (d *decoder) fail(format string, args ...any) error {
	return fmt.Errorf("%w: %s (offset %d)", ErrMalformed, fmt.Sprintf(format, args...), d.pos)
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, d.fail("truncated input")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readN(n uint64) ([]byte, error) {
	if n > uint64(len(d.buf)-d.pos) {
		return nil, d.fail("truncated input: need %d bytes", n)
	}
	out := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return out, nil
}

// head reads a major type and its argument, enforcing the
// minimum-length head form and rejecting indefinite lengths.
func (d *decoder) head() (maj byte, extra uint64, err error) {
	first, err := d.readByte()
	if err != nil {
		return 0, 0, err
	}
	maj = first >> 5
	low := first & 0x1f

	switch {
	case low < 24:
		return maj, uint64(low), nil
	case low == 24:
		b, err := d.readByte()
		if err != nil {
			return 0, 0, err
		}
		if b < 24 {
			return 0, 0, d.fail("non-minimal head form")
		}
		return maj, uint64(b), nil
	case low == 25:
		raw, err := d.readN(2)
		if err != nil {
			return 0, 0, err
		}
		v := uint64(binary.BigEndian.Uint16(raw))
		if v <= math.MaxUint8 {
			return 0, 0, d.fail("non-minimal head form")
		}
		return maj, v, nil
	case low == 26:
		raw, err := d.readN(4)
		if err != nil {
			return 0, 0, err
		}
		v := uint64(binary.BigEndian.Uint32(raw))
		if v <= math.MaxUint16 {
			return 0, 0, d.fail("non-minimal head form")
		}
		return maj, v, nil
	case low == 27:
		raw, err := d.readN(8)
		if err != nil {
			return 0, 0, err
		}
		v := binary.BigEndian.Uint64(raw)
		if v <= math.MaxUint32 {
			return 0, 0, d.fail("non-minimal head form")
		}
		return maj, v, nil
	case low == 31:
		return 0, 0, d.fail("indefinite-length item")
	default:
		return 0, 0, d.fail("reserved head byte 0x%02x", first)
	}
}

func (d *decoder) value(depth int) (any, error) {
	if depth > maxNesting {
		return nil, d.fail("nesting exceeds %d levels", maxNesting)
	}

	maj, extra, err := d.head()
	if err != nil {
		return nil, err
	}

	switch maj {
	case majUnsigned:
		if extra > math.MaxInt64 {
			return nil, d.fail("integer %d overflows int64", extra)
		}
		return int64(extra), nil
	case majNegative:
		if extra > math.MaxInt64 {
			return nil, d.fail("negative integer overflows int64")
		}
		return -1 - int64(extra), nil
	case majBytes:
		raw, err := d.readN(extra)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	case majText:
		raw, err := d.readN(extra)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case majArray:
		arr := make([]any, 0, capHint(extra, 1024))
		for i := uint64(0); i < extra; i++ {
			elem, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case majMap:
		return d.mapValue(extra, depth)
	case majTag:
		if extra != linkTag {
			return nil, d.fail("unknown tag %d", extra)
		}
		return d.link()
	case majOther:
		switch extra {
		case simpleFalse:
			return false, nil
		case simpleTrue:
			return true, nil
		case simpleNull:
			return nil, nil
		default:
			return nil, d.fail("unsupported simple value %d", extra)
		}
	default:
		return nil, d.fail("unsupported major type %d", maj)
	}
}

func (d *decoder) mapValue(size uint64, depth int) (any, error) {
	m := make(map[string]any, capHint(size, 64))
	prev := ""
	for i := uint64(0); i < size; i++ {
		maj, extra, err := d.head()
		if err != nil {
			return nil, err
		}
		if maj != majText {
			return nil, d.fail("non-string map key (major type %d)", maj)
		}
		raw, err := d.readN(extra)
		if err != nil {
			return nil, err
		}
		key := string(raw)

		if _, dup := m[key]; dup {
			return nil, d.fail("duplicate map key %q", key)
		}
		if d.strict && i > 0 && !keyLess(prev, key) {
			return nil, d.fail("map keys out of canonical order: %q before %q", prev, key)
		}
		prev = key

		val, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		m[key] = val
	}
	return m, nil
}

// link reads the byte string following tag 42: 0x00 || cid bytes.
func (d *decoder) link() (cid.Cid, error) {
	maj, extra, err := d.head()
	if err != nil {
		return cid.Undef, err
	}
	if maj != majBytes {
		return cid.Undef, d.fail("tag 42 payload is not a byte string")
	}
	raw, err := d.readN(extra)
	if err != nil {
		return cid.Undef, err
	}
	if len(raw) == 0 || raw[0] != 0x00 {
		return cid.Undef, d.fail("cid link missing identity prefix")
	}
	c, err := cid.Cast(raw[1:])
	if err != nil {
		return cid.Undef, d.fail("invalid cid link: %v", err)
	}
	return c, nil
}

func capHint(a uint64, b int) int {
	if a < uint64(b) {
		return int(a)
	}
	return b
}

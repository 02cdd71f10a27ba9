// Package tid generates timestamp identifiers: 64-bit values packing
// microseconds-since-epoch with a per-process clock ID, rendered as 13
// sortable base32 characters. Lexicographic order on the string form
// equals numeric order on the packed value.
package tid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"
)

const alphabet = "234567abcdefghijklmnopqrstuvwxyz"

const (
	// timestampMask keeps 53 bits of microseconds (top bit stays 0).
	timestampMask = 0x1F_FFFF_FFFF_FFFF

	// clockIDBits is the width of the per-process clock ID.
	clockIDBits = 10

	// oneMicro is one microsecond in packed form.
	oneMicro = 1 << clockIDBits
)

// TID is a packed timestamp identifier.
type TID uint64

// Clock issues strictly increasing TIDs. The clock ID is drawn once at
// construction and persists for the clock's lifetime; on wall-clock
// regress the previous value is advanced by one microsecond instead.
type Clock struct {
	mu      sync.Mutex
	last    uint64
	clockID uint64
}

// NewClock creates a Clock with a uniformly random clock ID.
func NewClock() *Clock {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("tid: read random clock id: %v", err))
	}
	return &Clock{
		clockID: binary.BigEndian.Uint64(b[:]) & (1<<clockIDBits - 1),
	}
}

// Next returns a TID strictly greater than any previous return value.
func (c *Clock) Next() TID {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowMicros := uint64(time.Now().UTC().UnixMicro())
	candidate := (nowMicros&timestampMask)<<clockIDBits | c.clockID
	if candidate <= c.last {
		candidate = c.last + oneMicro
	}
	c.last = candidate
	return TID(candidate)
}

// FromInteger wraps a packed 64-bit value.
func FromInteger(v uint64) TID {
	return TID(v &^ (1 << 63))
}

// Timestamp returns the microseconds-since-epoch component.
func (t TID) Timestamp() uint64 {
	return uint64(t) >> clockIDBits
}

// ClockID returns the clock-ID component.
func (t TID) ClockID() uint64 {
	return uint64(t) & (1<<clockIDBits - 1)
}

// String renders the TID as 13 characters, 5 bits per character,
// most significant bits first.
func (t TID) String() string {
	var sb strings.Builder
	sb.Grow(13)
	for i := 0; i < 13; i++ {
		shift := uint(60 - 5*i)
		sb.WriteByte(alphabet[(uint64(t)>>shift)&0x1F])
	}
	return sb.String()
}

// Parse decodes a 13-character TID string back to its packed value.
func Parse(s string) (TID, error) {
	if len(s) != 13 {
		return 0, fmt.Errorf("tid: %q is not 13 characters", s)
	}
	var v uint64
	for i := 0; i < 13; i++ {
		idx := strings.IndexByte(alphabet, s[i])
		if idx < 0 {
			return 0, fmt.Errorf("tid: invalid character %q in %q", s[i], s)
		}
		if i == 0 && idx > 15 {
			return 0, fmt.Errorf("tid: %q overflows 64 bits", s)
		}
		v = v<<5 | uint64(idx)
	}
	if v>>63 != 0 {
		return 0, fmt.Errorf("tid: %q overflows 63 bits", s)
	}
	return TID(v), nil
}

// IsValid reports whether s parses as a TID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

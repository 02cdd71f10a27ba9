package tid

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextMonotonic(t *testing.T) {
	t.Parallel()

	clock := NewClock()
	prev := clock.Next()
	for range 1000 {
		next := clock.Next()
		require.Greater(t, uint64(next), uint64(prev))
		require.Greater(t, next.String(), prev.String(), "string order matches numeric order")
		prev = next
	}
}

func TestNextConcurrent(t *testing.T) {
	t.Parallel()

	clock := NewClock()
	const workers, perWorker = 8, 200

	out := make(chan TID, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for range perWorker {
				out <- clock.Next()
			}
		})
	}
	wg.Wait()
	close(out)

	seen := make(map[TID]bool, workers*perWorker)
	for id := range out {
		require.False(t, seen[id], "duplicate TID %s", id)
		seen[id] = true
	}
	require.Len(t, seen, workers*perWorker)
}

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()

	clock := NewClock()
	for range 50 {
		id := clock.Next()
		s := id.String()
		require.Len(t, s, 13)

		parsed, err := Parse(s)
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}
}

func TestTimestampExact(t *testing.T) {
	t.Parallel()

	before := uint64(time.Now().UTC().UnixMicro())
	id := NewClock().Next()
	after := uint64(time.Now().UTC().UnixMicro())

	require.GreaterOrEqual(t, id.Timestamp(), before)
	require.LessOrEqual(t, id.Timestamp(), after)
}

func TestLexicographicOrderMatchesNumeric(t *testing.T) {
	t.Parallel()

	vals := []uint64{
		0,
		1,
		1 << 10,
		1<<10 | 1023,
		uint64(time.Now().UnixMicro()) << 10,
		timestampMask << 10,
	}

	strs := make([]string, len(vals))
	for i, v := range vals {
		strs[i] = FromInteger(v).String()
	}

	sorted := append([]string(nil), strs...)
	sort.Strings(sorted)
	require.Equal(t, strs, sorted, "numeric order must equal string sort order")
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"short",
		"3jzfcijpj2z2aa", // 14 chars
		"0jzfcijpj2z2a",  // '0' not in alphabet
		"zzzzzzzzzzzzz",  // first char out of range
	}
	for _, s := range cases {
		_, err := Parse(s)
		require.Error(t, err, "input %q", s)
	}
}

package cluster

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingReplicasAreDistinct(t *testing.T) {
	r := NewRing(16, nil)
	require.Nil(t, r.Get([]byte("k"), 3))

	r.Add("n1", "n2", "n3", "n4", "n5")
	r.Add("n3")
	require.Equal(t, []string{"n1", "n2", "n3", "n4", "n5"}, r.Nodes())

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		got := r.Get(key, 3)
		require.Len(t, got, 3)
		require.NotEqual(t, got[0], got[1])
		require.NotEqual(t, got[1], got[2])
		require.NotEqual(t, got[0], got[2])
		require.Equal(t, got, r.Get(key, 3))
	}
	require.Len(t, r.Get([]byte("k"), 10), 5)
	require.Nil(t, r.Get([]byte("k"), 0))
}

// TestRingRemoveOnlyMovesAffectedKeys checks that rows not held by a departing
// node keep their replicas.
func TestRingRemoveOnlyMovesAffectedKeys(t *testing.T) {
	r := NewRing(32, nil)
	r.Add("n1", "n2", "n3", "n4", "n5")

	before := make(map[string][]string)
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("row-%d", i)
		before[key] = r.Get([]byte(key), 2)
	}

	r.Remove("n2")
	r.Remove("n2")
	require.Equal(t, []string{"n1", "n3", "n4", "n5"}, r.Nodes())

	for key, was := range before {
		now := r.Get([]byte(key), 2)
		require.NotContains(t, now, "n2")
		if !slices.Contains(was, "n2") {
			require.Equal(t, was, now, key)
		}
	}
}

func TestRingCustomHash(t *testing.T) {
	calls := 0
	r := NewRing(1, func(b []byte) uint32 {
		calls++
		return uint32(len(b))
	})
	r.Add("a", "bb")
	// Points: "0a" -> 2, "0bb" -> 3. A 3 byte key lands on bb, a 4 byte key wraps to a.
	require.Equal(t, []string{"bb"}, r.Get([]byte("xyz"), 1))
	require.Equal(t, []string{"a"}, r.Get([]byte("wxyz"), 1))
	require.Equal(t, []string{"a", "bb"}, r.Get([]byte("wxyz"), 2))
	require.Positive(t, calls)
}

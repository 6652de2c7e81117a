package memstore

import (
	"bytes"
	"testing"

	"github.com/flynnfc/helenus/pkg/helenus/marshal"
)

func longKey(t *testing.T, n int64) []byte {
	t.Helper()
	b, err := marshal.MustParse("LongType").Serialize(n)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// TestNewSkipList checks the basic properties of a newly created skiplist.
func TestNewSkipList(t *testing.T) {
	sl := newSkipList[string](bytes.Compare)
	if sl.height != 1 {
		t.Errorf("Expected initial height=1, got %d", sl.height)
	}
	if sl.Len() != 0 {
		t.Errorf("Expected empty skiplist, got Len()=%d", sl.Len())
	}
	if sl.Front() != nil {
		t.Error("Expected nil front on an empty skiplist")
	}
	if _, ok := sl.Get([]byte("missing")); ok {
		t.Error("Expected no value in an empty skiplist")
	}
	if len(sl.head.next) != 1 {
		t.Errorf("Expected a single-level head, got %d levels", len(sl.head.next))
	}
}

// TestSkipListHeadGrowsWithHeight verifies the head tracks the tallest node.
func TestSkipListHeadGrowsWithHeight(t *testing.T) {
	sl := newSkipList[int](bytes.Compare)
	for i := 0; i < 2000; i++ {
		sl.Set([]byte{byte(i >> 8), byte(i)}, i)
		if len(sl.head.next) < sl.height {
			t.Fatalf("Head has %d levels for height %d", len(sl.head.next), sl.height)
		}
	}
	if sl.height < 2 {
		t.Errorf("Expected the list to grow past one level, got height %d", sl.height)
	}
	i := 0
	for n := sl.Front(); n != nil; n = n.Next() {
		if n.value != i {
			t.Fatalf("Expected value %d at position %d, got %d", i, i, n.value)
		}
		i++
	}
	if i != 2000 {
		t.Errorf("Expected 2000 nodes, got %d", i)
	}
}

// TestSkipListSetReplaces verifies that setting an existing key replaces its value without growing the list.
func TestSkipListSetReplaces(t *testing.T) {
	sl := newSkipList[string](bytes.Compare)
	sl.Set([]byte("k1"), "v1")
	sl.Set([]byte("k2"), "v2")
	sl.Set([]byte("k1"), "v1b")

	if sl.Len() != 2 {
		t.Errorf("Expected skiplist length=2, got %d", sl.Len())
	}
	got, ok := sl.Get([]byte("k1"))
	if !ok || got != "v1b" {
		t.Errorf("Expected k1=v1b, got %q (found=%v)", got, ok)
	}
}

// TestSkipListComparatorOrder checks that iteration follows the comparator, not byte order.
func TestSkipListComparatorOrder(t *testing.T) {
	sl := newSkipList[int64](marshal.MustParse("LongType").Compare)
	input := []int64{42, -7, 0, 1 << 40, -1 << 40, 3}
	for _, n := range input {
		sl.Set(longKey(t, n), n)
	}

	want := []int64{-1 << 40, -7, 0, 3, 42, 1 << 40}
	i := 0
	for n := sl.Front(); n != nil; n = n.Next() {
		if n.value != want[i] {
			t.Fatalf("Position %d: expected %d, got %d", i, want[i], n.value)
		}
		i++
	}
	if i != len(want) {
		t.Errorf("Expected %d entries, iterated %d", len(want), i)
	}
}

// TestSkipListSeek checks that Seek lands on the first key not less than its argument.
func TestSkipListSeek(t *testing.T) {
	sl := newSkipList[string](bytes.Compare)
	for _, k := range []string{"bravo", "delta", "alpha", "charlie"} {
		sl.Set([]byte(k), k)
	}

	if n := sl.Seek([]byte("bz")); n == nil || n.value != "charlie" {
		t.Errorf("Expected Seek(bz) at charlie, got %v", n)
	}
	if n := sl.Seek([]byte("alpha")); n == nil || n.value != "alpha" {
		t.Errorf("Expected Seek(alpha) at alpha, got %v", n)
	}
	if n := sl.Seek([]byte("echo")); n != nil {
		t.Errorf("Expected Seek past the end to be nil, got %q", n.value)
	}
}

// TestSkipListDelete verifies removal and that the height shrinks back once the list empties.
func TestSkipListDelete(t *testing.T) {
	sl := newSkipList[int](bytes.Compare)
	for i := 0; i < 500; i++ {
		sl.Set([]byte{byte(i >> 8), byte(i)}, i)
	}
	if sl.Delete([]byte("nope")) {
		t.Error("Expected Delete of a missing key to report false")
	}
	for i := 0; i < 500; i += 2 {
		if !sl.Delete([]byte{byte(i >> 8), byte(i)}) {
			t.Fatalf("Expected key %d to be deleted", i)
		}
	}
	if sl.Len() != 250 {
		t.Fatalf("Expected 250 entries after deleting evens, got %d", sl.Len())
	}
	for n := sl.Front(); n != nil; n = n.Next() {
		if n.value%2 == 0 {
			t.Fatalf("Deleted key %d still reachable", n.value)
		}
	}
	for i := 1; i < 500; i += 2 {
		sl.Delete([]byte{byte(i >> 8), byte(i)})
	}
	if sl.Len() != 0 || sl.height != 1 || sl.Front() != nil {
		t.Errorf("Expected an empty list of height 1, got len=%d height=%d", sl.Len(), sl.height)
	}
}

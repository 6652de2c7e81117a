package memstore

import "math/rand/v2"

const maxLevel = 32 // Maximum number of levels in the skiplist
const p = 0.25      // Probability for level increase

// node is one element of a skipList.
type node[V any] struct {
	key   []byte
	value V
	next  []*node[V]
}

// skipList keeps byte keys ordered by a column comparator. It is not safe for
// concurrent use; the Store lock guards it. The head only grows as tall as the
// tallest node, so empty lists stay small.
type skipList[V any] struct {
	compare func(a, b []byte) int
	head    *node[V]
	height  int
	length  int
}

func newSkipList[V any](compare func(a, b []byte) int) *skipList[V] {
	return &skipList[V]{
		compare: compare,
		head:    &node[V]{next: make([]*node[V], 1)},
		height:  1,
	}
}

func randomLevel() int {
	level := 1
	for ; level < maxLevel && rand.Float64() < p; level++ {
	}
	return level
}

// path fills update with the rightmost node before key on every level.
func (sl *skipList[V]) path(key []byte, update []*node[V]) *node[V] {
	current := sl.head
	for i := sl.height - 1; i >= 0; i-- {
		for current.next[i] != nil && sl.compare(current.next[i].key, key) < 0 {
			current = current.next[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current
}

// Set inserts or replaces the value stored under key.
func (sl *skipList[V]) Set(key []byte, value V) {
	level := randomLevel()
	update := make([]*node[V], max(level, sl.height))
	current := sl.path(key, update)

	if next := current.next[0]; next != nil && sl.compare(next.key, key) == 0 {
		next.value = value
		return
	}

	if level > sl.height {
		for len(sl.head.next) < level {
			sl.head.next = append(sl.head.next, nil)
		}
		for i := sl.height; i < level; i++ {
			update[i] = sl.head
		}
		sl.height = level
	}

	n := &node[V]{key: key, value: value, next: make([]*node[V], level)}
	for i := 0; i < level; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	sl.length++
}

// Get returns the value stored under key.
func (sl *skipList[V]) Get(key []byte) (V, bool) {
	current := sl.path(key, nil).next[0]
	if current != nil && sl.compare(current.key, key) == 0 {
		return current.value, true
	}
	var zero V
	return zero, false
}

// Delete removes key and reports whether it was present.
func (sl *skipList[V]) Delete(key []byte) bool {
	update := make([]*node[V], sl.height)
	current := sl.path(key, update).next[0]
	if current == nil || sl.compare(current.key, key) != 0 {
		return false
	}

	for i := 0; i < sl.height; i++ {
		if update[i].next[i] != current {
			break
		}
		update[i].next[i] = current.next[i]
	}
	for sl.height > 1 && sl.head.next[sl.height-1] == nil {
		sl.height--
	}
	sl.length--
	return true
}

func (sl *skipList[V]) Len() int { return sl.length }

// Front returns the first node, or nil when the list is empty.
func (sl *skipList[V]) Front() *node[V] {
	return sl.head.next[0]
}

// Seek returns the first node whose key is not less than key.
func (sl *skipList[V]) Seek(key []byte) *node[V] {
	return sl.path(key, nil).next[0]
}

// Next returns the following node, or nil at the end of the list.
func (n *node[V]) Next() *node[V] {
	if n == nil {
		return nil
	}
	return n.next[0]
}

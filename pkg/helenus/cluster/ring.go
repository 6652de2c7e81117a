package cluster

import (
	"hash/crc32"
	"slices"
	"sort"
	"strconv"
	"sync"
)

type Hash func(data []byte) uint32

// Ring is a consistent hash ring of node addresses.
type Ring struct {
	hash    Hash              // The hash function to use.
	vnodes  int               // Number of virtual nodes per actual node.
	keys    []uint32          // Sorted hash ring.
	hashMap map[uint32]string // Mapping from virtual node hash to the real node.
	nodes   map[string]bool
	sync.RWMutex
}

// NewRing returns an empty ring. A nil fn hashes with CRC32.
func NewRing(vnodes int, fn Hash) *Ring {
	if vnodes < 1 {
		vnodes = 1
	}
	r := &Ring{
		vnodes:  vnodes,
		hashMap: make(map[uint32]string),
		nodes:   make(map[string]bool),
		hash:    crc32.ChecksumIEEE,
	}
	if fn != nil {
		r.hash = fn
	}
	return r
}

func (r *Ring) vnodeHash(i int, node string) uint32 {
	return r.hash([]byte(strconv.Itoa(i) + node))
}

func (r *Ring) Add(nodes ...string) {
	r.Lock()
	defer r.Unlock()

	for _, node := range nodes {
		if r.nodes[node] {
			continue
		}
		r.nodes[node] = true
		for i := 0; i < r.vnodes; i++ {
			h := r.vnodeHash(i, node)
			// On a collision the first node keeps the point.
			if _, taken := r.hashMap[h]; taken {
				continue
			}
			r.keys = append(r.keys, h)
			r.hashMap[h] = node
		}
	}
	slices.Sort(r.keys)
}

func (r *Ring) Remove(node string) {
	r.Lock()
	defer r.Unlock()

	if !r.nodes[node] {
		return
	}
	delete(r.nodes, node)
	keys := r.keys[:0]
	for _, h := range r.keys {
		if r.hashMap[h] == node {
			delete(r.hashMap, h)
			continue
		}
		keys = append(keys, h)
	}
	r.keys = keys
}

// Nodes lists the members in address order.
func (r *Ring) Nodes() []string {
	r.RLock()
	defer r.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Get returns up to n distinct nodes owning key, walking clockwise from the
// first virtual node at or after the key's hash.
func (r *Ring) Get(key []byte, n int) []string {
	r.RLock()
	defer r.RUnlock()

	if len(r.keys) == 0 || n < 1 {
		return nil
	}
	n = min(n, len(r.nodes))

	h := r.hash(key)
	idx := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= h })

	out := make([]string, 0, n)
	for i := 0; i < len(r.keys) && len(out) < n; i++ {
		node := r.hashMap[r.keys[(idx+i)%len(r.keys)]]
		if !slices.Contains(out, node) {
			out = append(out, node)
		}
	}
	return out
}

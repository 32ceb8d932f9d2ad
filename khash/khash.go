// Package khash implements a generic bucketed hash table, the structure
// the supplemental page table (C6) is built on. It is grounded on
// biscuit's hashtable.Hashtable_t (biscuit/src/hashtable/hashtable.go):
// a fixed bucket array, chaining within a bucket, one lock per bucket
// rather than one lock for the whole table. biscuit's version stores
// interface{} keys/values and a bespoke hash/equal switch; this module
// uses Go generics (biscuit's own util.Int constraint in
// biscuit/src/util/util.go shows the teacher already leans on generics
// where the stdlib didn't have to be bent into doing the same job),
// which removes the type-switch boilerplate while keeping the same
// bucket-chaining shape and API (Get/Set/Del/Iter/Elems).
package khash

import "sync"

// Pair is one key/value entry, returned by Elems for snapshotting.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

type node[K comparable, V any] struct {
	key  K
	val  V
	next *node[K, V]
}

type bucket[K comparable, V any] struct {
	sync.RWMutex
	head *node[K, V]
}

// Table is a hash table mapping K to V.
type Table[K comparable, V any] struct {
	buckets []*bucket[K, V]
	hash    func(K) uint64
}

// New constructs a table with nbuckets buckets, hashed by hash.
func New[K comparable, V any](nbuckets int, hash func(K) uint64) *Table[K, V] {
	if nbuckets <= 0 {
		nbuckets = 64
	}
	t := &Table[K, V]{
		buckets: make([]*bucket[K, V], nbuckets),
		hash:    hash,
	}
	for i := range t.buckets {
		t.buckets[i] = &bucket[K, V]{}
	}
	return t
}

func (t *Table[K, V]) bucketFor(k K) *bucket[K, V] {
	h := t.hash(k) % uint64(len(t.buckets))
	return t.buckets[h]
}

// Get looks up k.
func (t *Table[K, V]) Get(k K) (V, bool) {
	b := t.bucketFor(k)
	b.RLock()
	defer b.RUnlock()
	for n := b.head; n != nil; n = n.next {
		if n.key == k {
			return n.val, true
		}
	}
	var zero V
	return zero, false
}

// Set inserts k/v, returning false without modifying the table if k
// already exists (the supplemental page table's insert must reject
// duplicates per spec.md §4.6).
func (t *Table[K, V]) Set(k K, v V) bool {
	b := t.bucketFor(k)
	b.Lock()
	defer b.Unlock()
	for n := b.head; n != nil; n = n.next {
		if n.key == k {
			return false
		}
	}
	b.head = &node[K, V]{key: k, val: v, next: b.head}
	return true
}

// Del removes k, reporting whether it was present.
func (t *Table[K, V]) Del(k K) bool {
	b := t.bucketFor(k)
	b.Lock()
	defer b.Unlock()
	var prev *node[K, V]
	for n := b.head; n != nil; n = n.next {
		if n.key == k {
			if prev == nil {
				b.head = n.next
			} else {
				prev.next = n.next
			}
			return true
		}
		prev = n
	}
	return false
}

// Len returns the total element count across all buckets.
func (t *Table[K, V]) Len() int {
	n := 0
	for _, b := range t.buckets {
		b.RLock()
		for e := b.head; e != nil; e = e.next {
			n++
		}
		b.RUnlock()
	}
	return n
}

// Iter visits every key/value pair; it stops early if f returns true.
func (t *Table[K, V]) Iter(f func(K, V) bool) bool {
	for _, b := range t.buckets {
		b.RLock()
		elems := make([]Pair[K, V], 0)
		for e := b.head; e != nil; e = e.next {
			elems = append(elems, Pair[K, V]{Key: e.key, Value: e.val})
		}
		b.RUnlock()
		for _, p := range elems {
			if f(p.Key, p.Value) {
				return true
			}
		}
	}
	return false
}

// Elems returns a snapshot of every key/value pair currently stored.
func (t *Table[K, V]) Elems() []Pair[K, V] {
	out := make([]Pair[K, V], 0, t.Len())
	t.Iter(func(k K, v V) bool {
		out = append(out, Pair[K, V]{Key: k, Value: v})
		return false
	})
	return out
}

// HashUintptr mixes uintptr keys (virtual addresses), the SPT's primary
// key type, with the MurmurHash3 64-bit finalizer (fmix64).
func HashUintptr(v uintptr) uint64 {
	x := uint64(v)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// HashInt hashes a plain int key (cluster/sector ids).
func HashInt(v int) uint64 {
	return HashUintptr(uintptr(v))
}

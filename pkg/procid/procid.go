// Package procid implements the kernel-wide process identifier allocator
// (spec.md §4.2). ProcIDs are minted from a monotonic counter and reused
// from a free list, lowest value first, so that repeated boot/fork/exit
// cycles produce deterministic PIDs under test.
package procid

import (
	"fmt"
	"sync"

	"github.com/google/btree"
)

// NoParent is the reserved sentinel parent PID for the init process.
const NoParent int32 = -1

// maxPID bounds the allocator; wraparound past it is a fatal condition,
// consistent with spec.md §4.2 ("Wraparound is a fatal error").
const maxPID = (1 << 30) - 1

// ID is an owning handle for a process identifier. Go has no destructors,
// so the "drop reclaims" discipline of spec.md §3 is expressed as an
// explicit call to (*Allocator).Free instead of an implicit Drop; callers
// must not use an ID after freeing it, and must never free the same ID
// twice.
type ID struct {
	v int32
}

// Int32 returns the numeric value of the ID. Copying this value for
// indexing (map keys, logging) is safe; only Allocator.Free reclaims it.
func (id ID) Int32() int32 { return id.v }

// Valid reports whether id holds a non-negative value. The zero value of
// ID is pid 0, so Valid does not tell an unallocated ID apart from pid 0.
func (id ID) Valid() bool { return id.v >= 0 }

// String implements fmt.Stringer.
func (id ID) String() string { return fmt.Sprintf("pid(%d)", id.v) }

type freeItem int32

func (a freeItem) Less(than btree.Item) bool { return a < than.(freeItem) }

// Allocator issues and reclaims ProcIDs. The zero value is not usable;
// construct with NewAllocator.
type Allocator struct {
	mu   sync.Mutex
	free *btree.BTree
	next int32
}

// NewAllocator returns an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{free: btree.New(8)}
}

// New mints a fresh ID, reusing the smallest reclaimed value if the free
// list is non-empty, otherwise incrementing the counter.
func (a *Allocator) New() (ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.free.Len() > 0 {
		min := a.free.Min().(freeItem)
		a.free.Delete(min)
		return ID{v: int32(min)}, nil
	}
	if a.next > maxPID {
		return ID{}, fmt.Errorf("procid: allocator exhausted at %d PIDs", maxPID)
	}
	id := a.next
	a.next++
	return ID{v: id}, nil
}

// Free returns id's value to the free list for reuse. Freeing a value
// this allocator has never issued, or freeing the same ID twice, is a
// programmer error and panics rather than corrupting allocator state.
func (a *Allocator) Free(id ID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id.v < 0 || id.v >= a.next {
		panic(fmt.Sprintf("procid: free of %s, never issued by this allocator", id))
	}
	item := freeItem(id.v)
	if a.free.Has(item) {
		panic(fmt.Sprintf("procid: double free of %s", id))
	}
	a.free.ReplaceOrInsert(item)
}

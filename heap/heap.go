// Package heap implements the VM's reference-counted object store: a
// slot allocator keyed by 32-bit ids, refcount bookkeeping, a liveness
// generation counter for weak references, and a "potential cycle" hint
// raised whenever a reference-bearing value is stored into a mutable
// container (spec §4.1, §5).
package heap

import (
	"fmt"
	"sync"
)

// ID is a stable 32-bit opaque identifier for a heap slot.
type ID uint32

// Payload is implemented by every heap object kind (Cell, Closure, List,
// Dict, Instance, Generator, ...). ChildRefs returns the ids this payload
// owns a reference to, so Heap.decRef can recursively drop them; payloads
// with no owned children return nil.
type Payload interface {
	Kind() string
	ChildRefs() []ID
}

// Slot is one heap entry: refcount, liveness generation, the
// "contains references" bit used by the opportunistic cycle hint, a cached
// hash for instances, and the payload itself.
type Slot struct {
	Refcount     int32
	Generation   uint32
	ContainsRefs bool
	CachedHash   *uint64
	Payload      Payload
	live         bool
}

// Heap is the single shared mutable object store. The VM is single-threaded
// (spec §5), but the teacher corpus guards shared manager state with a
// mutex defensively even in single-threaded call paths, and this store
// follows the same idiom so a future embedding that drives the VM from
// multiple goroutines (each holding its own VirtualMachine) can still share
// one Heap safely when the host serializes calls into it.
type Heap struct {
	mu    sync.Mutex
	slots []Slot
	free  []ID

	// PotentialCycle is raised whenever a reference-containing value is
	// written into a mutable container. Spec §5: an implementation is free
	// to run a tracing sweep opportunistically; this store only maintains
	// the hint.
	PotentialCycle bool
}

// New constructs an empty heap.
func New() *Heap {
	return &Heap{slots: make([]Slot, 0, 256)}
}

// Allocate stores payload in a fresh or recycled slot with refcount 1 and
// returns its id.
func (h *Heap) Allocate(payload Payload) ID {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.free); n > 0 {
		id := h.free[n-1]
		h.free = h.free[:n-1]
		slot := &h.slots[id]
		slot.Refcount = 1
		slot.Generation++
		slot.ContainsRefs = len(payload.ChildRefs()) > 0
		slot.CachedHash = nil
		slot.Payload = payload
		slot.live = true
		return id
	}

	id := ID(len(h.slots))
	h.slots = append(h.slots, Slot{
		Refcount:     1,
		Generation:   1,
		ContainsRefs: len(payload.ChildRefs()) > 0,
		Payload:      payload,
		live:         true,
	})
	return id
}

// IncRef bumps the refcount for id. Every live Value copy of Ref(id) must be
// paired with exactly one IncRef, per spec §3 invariant.
func (h *Heap) IncRef(id ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.incRefLocked(id)
}

func (h *Heap) incRefLocked(id ID) {
	if int(id) >= len(h.slots) || !h.slots[id].live {
		return
	}
	h.slots[id].Refcount++
}

// DecRef drops one reference to id. When the refcount reaches zero the slot
// is freed and, for payloads that contain references, child ids are
// recursively decremented — this is how a dropped List/Dict/Instance
// releases everything it owned.
func (h *Heap) DecRef(id ID) {
	h.mu.Lock()
	dead := h.decRefLocked(id)
	h.mu.Unlock()

	for _, childID := range dead {
		h.DecRef(childID)
	}
}

// decRefLocked performs one decrement and returns the child ids to release
// if the slot died, without recursing while still holding the lock (so a
// child's own drop logic, invoked via DecRef, can safely re-enter the heap).
func (h *Heap) decRefLocked(id ID) []ID {
	if int(id) >= len(h.slots) || !h.slots[id].live {
		return nil
	}
	slot := &h.slots[id]
	slot.Refcount--
	if slot.Refcount > 0 {
		return nil
	}
	if slot.Refcount < 0 {
		// Double-free would have corrupted accounting upstream; clamp and
		// treat as already dead rather than freeing twice.
		slot.Refcount = 0
	}
	children := slot.Payload.ChildRefs()
	slot.Payload = nil
	slot.live = false
	slot.ContainsRefs = false
	slot.CachedHash = nil
	h.free = append(h.free, id)
	return children
}

// Get returns the payload for id and whether the slot is live. The returned
// payload must not be retained past a call that might mutate or free the
// slot; use WithEntryMut for read-modify-write access.
func (h *Heap) Get(id ID) (Payload, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) >= len(h.slots) || !h.slots[id].live {
		return nil, false
	}
	return h.slots[id].Payload, true
}

// GetIfLive returns the payload only if the slot is live and has not been
// reused since generation gen was observed (weak reference liveness check).
func (h *Heap) GetIfLive(id ID, gen uint32) (Payload, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) >= len(h.slots) || !h.slots[id].live || h.slots[id].Generation != gen {
		return nil, false
	}
	return h.slots[id].Payload, true
}

// Generation returns the current liveness generation for id, used by
// WeakRef payloads to detect slot reuse (spec §3).
func (h *Heap) Generation(id ID) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) >= len(h.slots) {
		return 0
	}
	return h.slots[id].Generation
}

// WithEntryMut grants reentrant read-modify-write access to id's payload.
// The borrow is released before fn runs, and reacquired to commit fn's
// replacement — so fn may itself call back into the heap (allocate a
// child, drop another slot) without deadlocking, per spec §4.1 and §9's
// "borrow then callback" discipline. fn returns the (possibly mutated)
// payload to store back; returning nil leaves the slot untouched (useful
// when fn only reads).
func (h *Heap) WithEntryMut(id ID, fn func(p Payload) Payload) error {
	h.mu.Lock()
	if int(id) >= len(h.slots) || !h.slots[id].live {
		h.mu.Unlock()
		return fmt.Errorf("heap: entry %d is not live", id)
	}
	payload := h.slots[id].Payload
	h.mu.Unlock()

	updated := fn(payload)

	if updated == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) >= len(h.slots) || !h.slots[id].live {
		return fmt.Errorf("heap: entry %d freed during mutation", id)
	}
	h.slots[id].Payload = updated
	h.slots[id].ContainsRefs = len(updated.ChildRefs()) > 0
	return nil
}

// MarkPotentialCycle raises the opportunistic-collector hint. Called
// whenever a reference-bearing value is stored into a mutable container
// (List/Dict/Set/Instance slot/property).
func (h *Heap) MarkPotentialCycle() {
	h.mu.Lock()
	h.PotentialCycle = true
	h.mu.Unlock()
}

// CachedHash returns the cached __hash__ result for an instance slot, if any.
func (h *Heap) CachedHash(id ID) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) >= len(h.slots) || !h.slots[id].live || h.slots[id].CachedHash == nil {
		return 0, false
	}
	return *h.slots[id].CachedHash, true
}

// SetCachedHash stores the computed __hash__ result for an instance slot.
func (h *Heap) SetCachedHash(id ID, v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) >= len(h.slots) || !h.slots[id].live {
		return
	}
	h.slots[id].CachedHash = &v
}

// LiveCount reports the number of currently-allocated slots. Tests use this
// to assert refcount conservation (spec §8 property 1): executing a
// balanced opcode sequence must return LiveCount to its starting value.
func (h *Heap) LiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for i := range h.slots {
		if h.slots[i].live {
			n++
		}
	}
	return n
}

// Refcount returns the current refcount of id, or 0 if the slot is dead.
func (h *Heap) Refcount(id ID) int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id) >= len(h.slots) || !h.slots[id].live {
		return 0
	}
	return h.slots[id].Refcount
}

// PublicID returns a stable identity number for id, matching CPython's
// id()/object identity semantics: derived from the slot index and its
// current liveness generation so reused slots still yield distinct ids.
func (h *Heap) PublicID(id ID) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	gen := uint32(0)
	if int(id) < len(h.slots) {
		gen = h.slots[id].Generation
	}
	return int64(id)<<32 | int64(gen)
}

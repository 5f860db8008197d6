package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// leafPayload is a childless payload for basic allocate/free tests.
type leafPayload struct{ tag string }

func (leafPayload) Kind() string    { return "leaf" }
func (leafPayload) ChildRefs() []ID { return nil }

// containerPayload owns references to other slots, exercising recursive
// DecRef propagation.
type containerPayload struct{ children []ID }

func (c containerPayload) Kind() string    { return "container" }
func (c containerPayload) ChildRefs() []ID { return c.children }

func TestAllocateIncDecRef(t *testing.T) {
	h := New()
	id := h.Allocate(leafPayload{"a"})
	require.Equal(t, int32(1), h.Refcount(id))

	h.IncRef(id)
	require.Equal(t, int32(2), h.Refcount(id))

	h.DecRef(id)
	require.Equal(t, int32(1), h.Refcount(id))
	_, live := h.Get(id)
	require.True(t, live)

	h.DecRef(id)
	require.Equal(t, int32(0), h.Refcount(id))
	_, live = h.Get(id)
	require.False(t, live)
}

func TestDecRefRecursivelyDropsChildren(t *testing.T) {
	h := New()
	child := h.Allocate(leafPayload{"child"})
	parent := h.Allocate(containerPayload{children: []ID{child}})
	h.IncRef(child) // parent's container payload owns one ref to child

	require.Equal(t, 2, h.LiveCount())

	h.DecRef(child) // drop the test's own reference; only the parent's remains
	h.DecRef(parent)

	require.Equal(t, 0, h.LiveCount())
	_, live := h.Get(child)
	require.False(t, live)
}

func TestRefcountConservationAcrossBalancedSequence(t *testing.T) {
	h := New()
	baseline := h.LiveCount()

	// Simulate a balanced opcode sequence: allocate, duplicate, use, drop.
	id := h.Allocate(leafPayload{"x"})
	h.IncRef(id) // push a duplicate onto an imaginary operand stack
	h.DecRef(id) // pop and drop the duplicate
	h.DecRef(id) // pop and drop the original

	require.Equal(t, baseline, h.LiveCount())
}

func TestWeakRefLivenessTracksGeneration(t *testing.T) {
	h := New()
	target := h.Allocate(leafPayload{"t"})
	wr := NewWeakRef(h, target, false)

	require.False(t, wr.Cleared(h))
	_, ok := wr.Deref(h)
	require.True(t, ok)

	h.DecRef(target)
	require.True(t, wr.Cleared(h))
	_, ok = wr.Deref(h)
	require.False(t, ok)
}

func TestWeakRefClearedAfterSlotReuse(t *testing.T) {
	h := New()
	target := h.Allocate(leafPayload{"t"})
	wr := NewWeakRef(h, target, false)
	h.DecRef(target)

	// Reallocate; the free slot is recycled, bumping its generation.
	reused := h.Allocate(leafPayload{"new"})
	require.Equal(t, target, reused)
	require.True(t, wr.Cleared(h))
}

func TestWithEntryMutReentrantCallback(t *testing.T) {
	h := New()
	id := h.Allocate(containerPayload{})

	var nestedChild ID
	err := h.WithEntryMut(id, func(p Payload) Payload {
		// Reenter the heap while "holding" the logical borrow on id.
		nestedChild = h.Allocate(leafPayload{"nested"})
		h.IncRef(nestedChild)
		c := p.(containerPayload)
		c.children = append(c.children, nestedChild)
		return c
	})
	require.NoError(t, err)

	p, ok := h.Get(id)
	require.True(t, ok)
	require.Contains(t, p.(containerPayload).children, nestedChild)
}

func TestDoubleDecRefDoesNotUnderflow(t *testing.T) {
	h := New()
	id := h.Allocate(leafPayload{"x"})
	h.DecRef(id)
	// A second decrement on an already-dead id must not panic or corrupt
	// the free list.
	h.DecRef(id)
	_, live := h.Get(id)
	require.False(t, live)
}

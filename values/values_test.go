package values

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
)

func TestScalarTruthiness(t *testing.T) {
	require.False(t, NewNone().Truthy())
	require.False(t, NewBool(false).Truthy())
	require.True(t, NewBool(true).Truthy())
	require.False(t, NewInt(0).Truthy())
	require.True(t, NewInt(-1).Truthy())
	require.False(t, NewFloat(0).Truthy())
	require.True(t, NewFloat(0.0001).Truthy())
	require.True(t, NewNotImplemented().Truthy())
}

func TestScalarTypeNames(t *testing.T) {
	interns := intern.New()
	require.Equal(t, "NoneType", NewNone().TypeName(interns))
	require.Equal(t, "int", NewInt(3).TypeName(interns))
	require.Equal(t, "float", NewFloat(3).TypeName(interns))
	require.Equal(t, "bool", NewBool(true).TypeName(interns))
	require.Equal(t, "str", NewInternString(interns.Intern("x")).TypeName(interns))
	require.Equal(t, "function", NewDefFunction(1).TypeName(interns))
}

func TestListChildRefsTracksOnlyRefs(t *testing.T) {
	h := heap.New()
	child := h.Allocate(&Str{S: "child"})
	l := &List{Items: []Value{NewInt(1), NewRef(child), NewNone()}}
	require.Equal(t, []heap.ID{child}, l.ChildRefs())
}

func TestDictReindexFindsCandidatesByHash(t *testing.T) {
	d := &Dict{}
	keyA := NewInt(1)
	keyB := NewInt(2)
	d.Entries = []DictEntry{
		{Key: keyA, Val: NewInt(10), Alive: true},
		{Key: keyB, Val: NewInt(20), Alive: true},
	}
	hashFn := func(v Value) uint64 { return uint64(v.AsInt()) }
	d.ReindexWith(hashFn)

	cands := d.CandidatesForHash(1)
	require.Equal(t, []int{0}, cands)
	require.Empty(t, d.CandidatesForHash(99))
}

func TestDictTombstonesExcludedFromChildRefs(t *testing.T) {
	h := heap.New()
	ref := h.Allocate(&Str{S: "v"})
	d := &Dict{Entries: []DictEntry{
		{Key: NewInt(1), Val: NewRef(ref), Alive: false},
	}}
	require.Empty(t, d.ChildRefs())
}

// Diamond hierarchy: O <- A,B <- C(A,B). C3Linearize must produce
// [C, A, B, O] to match CPython's resolution order.
func TestC3LinearizeDiamond(t *testing.T) {
	classes := map[heap.ID]*ClassObject{}
	lookup := func(id heap.ID) (*ClassObject, bool) { c, ok := classes[id]; return c, ok }

	oID := heap.ID(1)
	classes[oID] = &ClassObject{Name: "object", MRO: []heap.ID{oID}}

	aID := heap.ID(2)
	aMRO, err := C3Linearize(aID, []heap.ID{oID}, lookup)
	require.NoError(t, err)
	classes[aID] = &ClassObject{Name: "A", Bases: []heap.ID{oID}, MRO: aMRO}

	bID := heap.ID(3)
	bMRO, err := C3Linearize(bID, []heap.ID{oID}, lookup)
	require.NoError(t, err)
	classes[bID] = &ClassObject{Name: "B", Bases: []heap.ID{oID}, MRO: bMRO}

	cID := heap.ID(4)
	cMRO, err := C3Linearize(cID, []heap.ID{aID, bID}, lookup)
	require.NoError(t, err)

	require.Equal(t, []heap.ID{cID, aID, bID, oID}, cMRO)
}

// X(A, B), Y(B, A): merging X and Y's base lists in a third class should
// fail since A and B disagree on relative order.
func TestC3LinearizeInconsistentHierarchyErrors(t *testing.T) {
	classes := map[heap.ID]*ClassObject{}
	lookup := func(id heap.ID) (*ClassObject, bool) { c, ok := classes[id]; return c, ok }

	oID := heap.ID(1)
	classes[oID] = &ClassObject{Name: "object", MRO: []heap.ID{oID}}
	aID := heap.ID(2)
	classes[aID] = &ClassObject{Name: "A", MRO: []heap.ID{aID, oID}}
	bID := heap.ID(3)
	classes[bID] = &ClassObject{Name: "B", MRO: []heap.ID{bID, oID}}

	xID := heap.ID(4)
	xMRO, err := C3Linearize(xID, []heap.ID{aID, bID}, lookup)
	require.NoError(t, err)
	classes[xID] = &ClassObject{Name: "X", Bases: []heap.ID{aID, bID}, MRO: xMRO}

	yID := heap.ID(5)
	yMRO, err := C3Linearize(yID, []heap.ID{bID, aID}, lookup)
	require.NoError(t, err)
	classes[yID] = &ClassObject{Name: "Y", Bases: []heap.ID{bID, aID}, MRO: yMRO}

	zID := heap.ID(6)
	_, err = C3Linearize(zID, []heap.ID{xID, yID}, lookup)
	require.Error(t, err)
}

func TestResolveAttrWalksMROInOrder(t *testing.T) {
	classes := map[heap.ID]*ClassObject{}
	lookup := func(id heap.ID) (*ClassObject, bool) { c, ok := classes[id]; return c, ok }

	interns := intern.New()
	greetID := interns.Intern("greet")

	baseID := heap.ID(1)
	classes[baseID] = &ClassObject{
		Name: "Base",
		MRO:  []heap.ID{baseID},
		Attrs: map[intern.StringID]Descriptor{
			greetID: {Kind: DescriptorPlainNonData, Value: NewDefFunction(1)},
		},
	}
	subID := heap.ID(2)
	classes[subID] = &ClassObject{Name: "Sub", Bases: []heap.ID{baseID}, MRO: []heap.ID{subID, baseID}}

	d, owner, ok := ResolveAttr(classes[subID].MRO, greetID, lookup)
	require.True(t, ok)
	require.Equal(t, baseID, owner)
	require.Equal(t, DescriptorPlainNonData, d.Kind)
}

func TestSuperProxyMRORemainderAfter(t *testing.T) {
	classes := map[heap.ID]*ClassObject{}
	lookup := func(id heap.ID) (*ClassObject, bool) { c, ok := classes[id]; return c, ok }

	oID, aID, bID := heap.ID(1), heap.ID(2), heap.ID(3)
	classes[oID] = &ClassObject{Name: "object", MRO: []heap.ID{oID}}
	classes[aID] = &ClassObject{Name: "A", Bases: []heap.ID{oID}, MRO: []heap.ID{aID, oID}}
	classes[bID] = &ClassObject{Name: "B", Bases: []heap.ID{aID}, MRO: []heap.ID{bID, aID, oID}}

	sp := &SuperProxy{StartClass: aID, BoundType: bID}
	rest, err := sp.MRORemainderAfter(lookup)
	require.NoError(t, err)
	require.Equal(t, []heap.ID{oID}, rest)
}

func TestExitStackPopAllReversesOrder(t *testing.T) {
	es := &ExitStack{}
	es.Push(ExitStackEntry{Callback: NewInt(1)})
	es.Push(ExitStackEntry{Callback: NewInt(2)})
	es.Push(ExitStackEntry{Callback: NewInt(3)})

	popped := es.PopAll()
	require.Len(t, popped, 3)
	require.Equal(t, int64(3), popped[0].Callback.AsInt())
	require.Equal(t, int64(1), popped[2].Callback.AsInt())
	require.Empty(t, es.Entries)
}

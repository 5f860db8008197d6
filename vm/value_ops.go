package vm

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/parcadei/pyrt/values"
)

// Equal implements spec §4.2 value equality: scalars compare directly,
// Ref-backed containers compare element-wise, and Instance routes through
// __eq__ dunder dispatch (see dunder.go). This synchronous form is used by
// dict/set hashing and builtins that cannot themselves suspend (an Instance
// __eq__ that triggers user code affecting equality will still work because
// Call() drains any pushed frame to completion before returning).
func (vmachine *VirtualMachine) Equal(a, b values.Value) (bool, error) {
	if a.Kind != values.KindRef && b.Kind != values.KindRef {
		return scalarEqual(a, b), nil
	}
	if a.Kind == values.KindRef && b.Kind == values.KindRef {
		if a.HeapID == b.HeapID {
			return true, nil
		}
		pa, liveA := vmachine.Heap.Get(a.HeapID)
		pb, liveB := vmachine.Heap.Get(b.HeapID)
		if !liveA || !liveB {
			return false, nil
		}
		switch pa := pa.(type) {
		case *values.Str:
			if pb, ok := pb.(*values.Str); ok {
				return pa.S == pb.S, nil
			}
			return false, nil
		case *values.List:
			if pb, ok := pb.(*values.List); ok {
				return vmachine.sequenceEqual(pa.Items, pb.Items)
			}
			return false, nil
		case *values.Tuple:
			if pb, ok := pb.(*values.Tuple); ok {
				return vmachine.sequenceEqual(pa.Items, pb.Items)
			}
			return false, nil
		case *values.Instance:
			return vmachine.instanceEqual(a, b)
		default:
			return false, nil
		}
	}
	return false, nil
}

func (vmachine *VirtualMachine) sequenceEqual(xs, ys []values.Value) (bool, error) {
	if len(xs) != len(ys) {
		return false, nil
	}
	for i := range xs {
		eq, err := vmachine.Equal(xs[i], ys[i])
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}

func scalarEqual(a, b values.Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		if a.Kind == values.KindFloat || b.Kind == values.KindFloat {
			return a.AsNumericFloat() == b.AsNumericFloat()
		}
		return a.AsInt() == b.AsInt()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case values.KindNone, values.KindNotImplemented, values.KindUndefined:
		return true
	case values.KindInternString, values.KindInternBytes:
		return a.I == b.I
	default:
		return false
	}
}

// Compare returns -1/0/1 when a and b are ordered, or (0, false, nil) when
// they are incomparable (spec: "ordering returns None when incomparable,
// and callers raise TypeError").
func (vmachine *VirtualMachine) Compare(a, b values.Value) (int, bool, error) {
	if a.IsNumeric() && b.IsNumeric() {
		af, bf := a.AsNumericFloat(), b.AsNumericFloat()
		switch {
		case af < bf:
			return -1, true, nil
		case af > bf:
			return 1, true, nil
		default:
			return 0, true, nil
		}
	}
	if a.Kind == values.KindInternString && b.Kind == values.KindInternString {
		sa, sb := vmachine.Interns.Text(a.AsStringID()), vmachine.Interns.Text(b.AsStringID())
		switch {
		case sa < sb:
			return -1, true, nil
		case sa > sb:
			return 1, true, nil
		default:
			return 0, true, nil
		}
	}
	if a.Kind == values.KindRef && b.Kind == values.KindRef {
		pa, liveA := vmachine.Heap.Get(a.HeapID)
		pb, liveB := vmachine.Heap.Get(b.HeapID)
		if liveA && liveB {
			if la, ok := pa.(*values.List); ok {
				if lb, ok := pb.(*values.List); ok {
					return vmachine.sequenceCompare(la.Items, lb.Items)
				}
			}
			if ta, ok := pa.(*values.Tuple); ok {
				if tb, ok := pb.(*values.Tuple); ok {
					return vmachine.sequenceCompare(ta.Items, tb.Items)
				}
			}
			if _, ok := pa.(*values.Instance); ok {
				return vmachine.instanceCompare(a, b)
			}
		}
	}
	return 0, false, nil
}

func (vmachine *VirtualMachine) sequenceCompare(xs, ys []values.Value) (int, bool, error) {
	for i := 0; i < len(xs) && i < len(ys); i++ {
		c, ok, err := vmachine.Compare(xs[i], ys[i])
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		if c != 0 {
			return c, true, nil
		}
	}
	switch {
	case len(xs) < len(ys):
		return -1, true, nil
	case len(xs) > len(ys):
		return 1, true, nil
	default:
		return 0, true, nil
	}
}

// Length implements len(), consulting __len__ for Instance via the
// synchronous Call() helper.
func (vmachine *VirtualMachine) Length(v values.Value) (int, error) {
	if v.Kind != values.KindRef {
		return 0, TypeErrorf("object of type '%s' has no len()", vmachine.TypeName(v))
	}
	payload, live := vmachine.Heap.Get(v.HeapID)
	if !live {
		return 0, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	switch p := payload.(type) {
	case *values.List:
		return len(p.Items), nil
	case *values.Tuple:
		return len(p.Items), nil
	case *values.Dict:
		return len(aliveDictEntries(p.Entries)), nil
	case *values.Set:
		return len(aliveDictEntries(p.Entries)), nil
	case *values.FrozenSet:
		return len(p.Entries), nil
	case *values.Str:
		return len([]rune(p.S)), nil
	case *values.Bytes:
		return len(p.B), nil
	case *values.Instance:
		return vmachine.instanceLen(v, p)
	default:
		return 0, TypeErrorf("object of type '%s' has no len()", vmachine.TypeName(v))
	}
}

// Hash implements spec's __hash__ protocol: scalars hash directly,
// containers are unhashable (TypeError) except tuple/frozenset (hashed
// element-wise), and Instance caches its computed hash on the heap slot
// (spec §4.1 "instances may cache their computed __hash__ result").
func (vmachine *VirtualMachine) Hash(v values.Value) (uint64, error) {
	switch v.Kind {
	case values.KindNone, values.KindNotImplemented, values.KindUndefined:
		return 0, nil
	case values.KindBool, values.KindInt:
		return xxhash.Sum64(encodeInt(v.AsInt())), nil
	case values.KindFloat:
		f := v.AsFloat()
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return xxhash.Sum64(encodeInt(int64(f))), nil
		}
		return xxhash.Sum64(encodeFloat(f)), nil
	case values.KindInternString, values.KindInternBytes:
		return xxhash.Sum64String(vmachine.Interns.Text(v.AsStringID())), nil
	case values.KindRef:
		return vmachine.hashRef(v)
	default:
		return 0, TypeErrorf("unhashable type: '%s'", vmachine.TypeName(v))
	}
}

// hashValueUnchecked is Hash without error propagation, for use as a
// Dict/Set ReindexWith callback where a hash failure is a pre-existing
// invariant violation (the key was already inserted once successfully).
func (vmachine *VirtualMachine) hashValueUnchecked(v values.Value) uint64 {
	h, _ := vmachine.Hash(v)
	return h
}

func (vmachine *VirtualMachine) hashRef(v values.Value) (uint64, error) {
	payload, live := vmachine.Heap.Get(v.HeapID)
	if !live {
		return 0, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	switch p := payload.(type) {
	case *values.Str:
		return xxhash.Sum64String(p.S), nil
	case *values.Bytes:
		return xxhash.Sum64(p.B), nil
	case *values.Tuple:
		h := uint64(0x345678)
		for _, item := range p.Items {
			ih, err := vmachine.Hash(item)
			if err != nil {
				return 0, err
			}
			h = h*1000003 ^ ih
		}
		return h, nil
	case *values.FrozenSet:
		var h uint64
		for _, e := range p.Entries {
			ih, err := vmachine.Hash(e.Key)
			if err != nil {
				return 0, err
			}
			h ^= ih
		}
		return h, nil
	case *values.Instance:
		return vmachine.instanceHash(v, p)
	default:
		return 0, TypeErrorf("unhashable type: '%s'", vmachine.TypeName(v))
	}
}

func encodeInt(i int64) []byte {
	var b [8]byte
	u := uint64(i)
	for idx := 0; idx < 8; idx++ {
		b[idx] = byte(u >> (8 * idx))
	}
	return b[:]
}

func encodeFloat(f float64) []byte {
	return encodeInt(int64(math.Float64bits(f)))
}

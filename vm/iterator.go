package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/values"
)

// Iterator is the VM-internal cursor GetIter produces: Next returns
// (value, true, nil) for each element, (zero, false, nil) on exhaustion,
// and propagates any error __next__ raises (other than StopIteration,
// which Next translates into the plain "exhausted" signal).
type Iterator interface {
	Next(vmachine *VirtualMachine) (values.Value, bool, error)
}

// sliceIterator walks a copied, refcounted snapshot of a sequence's
// elements, matching CPython's "mutating a list mid-iteration doesn't
// crash, it just skips/repeats" looseness via an up-front copy.
type sliceIterator struct {
	items []values.Value
	pos   int
}

func (it *sliceIterator) Next(vmachine *VirtualMachine) (values.Value, bool, error) {
	if it.pos >= len(it.items) {
		return values.Value{}, false, nil
	}
	v := it.items[it.pos]
	it.pos++
	return v, true, nil
}

// rangeIterator backs range(start, stop, step) iteration without ever
// materializing the whole sequence.
type rangeIterator struct {
	cur, stop, step int64
}

func (it *rangeIterator) Next(vmachine *VirtualMachine) (values.Value, bool, error) {
	if (it.step > 0 && it.cur >= it.stop) || (it.step < 0 && it.cur <= it.stop) {
		return values.Value{}, false, nil
	}
	v := values.NewInt(it.cur)
	it.cur += it.step
	return v, true, nil
}

// dictEntryIterator walks a Dict's alive entries in
// insertion order, snapshotted up front for the same reason as
// sliceIterator.
type dictEntryIterator struct {
	entries []values.DictEntry
	pos     int
	mode    dictIterMode
}

type dictIterMode byte

const (
	dictIterKeys dictIterMode = iota
	dictIterValues
	dictIterItems
)

func (it *dictEntryIterator) Next(vmachine *VirtualMachine) (values.Value, bool, error) {
	for it.pos < len(it.entries) {
		e := it.entries[it.pos]
		it.pos++
		if !e.Alive {
			continue
		}
		switch it.mode {
		case dictIterValues:
			return vmachine.dupValue(e.Val), true, nil
		case dictIterItems:
			k, v := vmachine.dupValue(e.Key), vmachine.dupValue(e.Val)
			return values.NewRef(vmachine.Heap.Allocate(&values.Tuple{Items: []values.Value{k, v}})), true, nil
		default:
			return vmachine.dupValue(e.Key), true, nil
		}
	}
	return values.Value{}, false, nil
}

// stringIterator yields one-character strings, iterating by rune (Python
// strings are code-point sequences, not byte sequences).
type stringIterator struct {
	runes []rune
	pos   int
}

func (it *stringIterator) Next(vmachine *VirtualMachine) (values.Value, bool, error) {
	if it.pos >= len(it.runes) {
		return values.Value{}, false, nil
	}
	r := it.runes[it.pos]
	it.pos++
	return vmachine.NewStr(string(r)), true, nil
}

// bytesIterator yields individual byte values as ints.
type bytesIterator struct {
	data []byte
	pos  int
}

func (it *bytesIterator) Next(vmachine *VirtualMachine) (values.Value, bool, error) {
	if it.pos >= len(it.data) {
		return values.Value{}, false, nil
	}
	b := it.data[it.pos]
	it.pos++
	return values.NewInt(int64(b)), true, nil
}

// generatorIterator adapts a Generator heap object to the Iterator
// interface by driving it through GeneratorAdvance(genOpNext).
type generatorIterator struct {
	genID heap.ID
}

func (it *generatorIterator) Next(vmachine *VirtualMachine) (values.Value, bool, error) {
	v, err := vmachine.GeneratorAdvance(it.genID, values.NewNone(), genOpNext)
	if err != nil {
		if IsStopIteration(err) {
			return values.Value{}, false, nil
		}
		return values.Value{}, false, err
	}
	return v, true, nil
}

// instanceIterator adapts an Instance exposing __next__ (either directly,
// for an object returned by a custom __iter__, or because the object is
// its own iterator) to the Iterator interface.
type instanceIterator struct {
	obj values.Value
}

func (it *instanceIterator) Next(vmachine *VirtualMachine) (values.Value, bool, error) {
	nameID := vmachine.Interns.Intern("__next__")
	fn, err := vmachine.GetAttr(it.obj, uint32(nameID))
	if err != nil {
		return values.Value{}, false, err
	}
	v, err := vmachine.Call(fn, nil, nil)
	if err != nil {
		if IsStopIteration(err) {
			return values.Value{}, false, nil
		}
		return values.Value{}, false, err
	}
	return v, true, nil
}

// GetIter implements iter(obj) (spec's iterator-protocol entry point):
// built-in containers get a native Iterator directly; an Instance with
// __iter__ is called to produce the real iterator object, which is then
// wrapped as an instanceIterator driving its __next__.
func (vmachine *VirtualMachine) GetIter(obj values.Value) (Iterator, error) {
	if obj.Kind != values.KindRef {
		return nil, TypeErrorf("'%s' object is not iterable", vmachine.TypeName(obj))
	}
	payload, live := vmachine.Heap.Get(obj.HeapID)
	if !live {
		return nil, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	switch p := payload.(type) {
	case *values.List:
		items := append([]values.Value(nil), p.Items...)
		for _, v := range items {
			vmachine.dupValue(v)
		}
		return &sliceIterator{items: items}, nil
	case *values.Tuple:
		items := append([]values.Value(nil), p.Items...)
		for _, v := range items {
			vmachine.dupValue(v)
		}
		return &sliceIterator{items: items}, nil
	case *values.Dict:
		return &dictEntryIterator{entries: append([]values.DictEntry(nil), p.Entries...), mode: dictIterKeys}, nil
	case *values.Set:
		return &dictEntryIterator{entries: append([]values.DictEntry(nil), p.Entries...), mode: dictIterKeys}, nil
	case *values.FrozenSet:
		return &dictEntryIterator{entries: append([]values.DictEntry(nil), p.Entries...), mode: dictIterKeys}, nil
	case *values.Str:
		return &stringIterator{runes: []rune(p.S)}, nil
	case *values.Bytes:
		return &bytesIterator{data: p.B}, nil
	case *values.Generator:
		vmachine.Heap.IncRef(obj.HeapID)
		return &generatorIterator{genID: obj.HeapID}, nil
	case *values.Instance:
		return vmachine.getInstanceIterator(obj, p)
	default:
		return nil, TypeErrorf("'%s' object is not iterable", vmachine.TypeName(obj))
	}
}

func (vmachine *VirtualMachine) getInstanceIterator(obj values.Value, inst *values.Instance) (Iterator, error) {
	iterID := vmachine.Interns.Intern("__iter__")
	if fn, _, found := vmachine.typeDunder(obj, iterID); found {
		result, err := vmachine.Call(fn, []values.Value{obj}, nil)
		if err != nil {
			return nil, err
		}
		return &instanceIterator{obj: result}, nil
	}
	nextID := vmachine.Interns.Intern("__next__")
	if _, found := vmachine.typeDunder(obj, nextID); found {
		return &instanceIterator{obj: vmachine.dupValue(obj)}, nil
	}
	return nil, TypeErrorf("'%s' object is not iterable", vmachine.classNameOf(inst))
}

// iteratorBox is the heap payload GET_ITER/FOR_ITER push onto the operand
// stack: Iterator implementations are plain Go values, not heap objects, so
// boxing one lets an iterator sit on the stack (and inside a for-loop's
// locals, if the compiler ever hoists it) like any other value. ChildRefs
// defers to ownedRefIterator when the wrapped iterator still holds
// unconsumed owned references (e.g. a list iterator abandoned by `break`
// partway through), so dropping the box releases them the same way dropping
// a List or Dict does.
type iteratorBox struct {
	it Iterator
}

func (b *iteratorBox) Kind() string { return "iterator" }

func (b *iteratorBox) ChildRefs() []heap.ID {
	if o, ok := b.it.(ownedRefIterator); ok {
		return o.OwnedHeapRefs()
	}
	return nil
}

// ownedRefIterator is implemented by Iterators that hold owned heap
// references beyond the current element (a pre-dup'd snapshot, or a
// generator they keep alive), so the box can release them if abandoned
// before exhaustion.
type ownedRefIterator interface {
	OwnedHeapRefs() []heap.ID
}

func (it *sliceIterator) OwnedHeapRefs() []heap.ID {
	var out []heap.ID
	for _, v := range it.items[it.pos:] {
		if v.Kind == values.KindRef {
			out = append(out, v.HeapID)
		}
	}
	return out
}

// dictEntryIterator holds an unowned snapshot (the source Dict's own
// references back the entries for as long as the Dict itself is alive;
// mutating the source mid-iteration is the same caveat CPython documents
// for "dictionary changed size during iteration"), so it has nothing of its
// own to release on early abandonment.

func (it *generatorIterator) OwnedHeapRefs() []heap.ID { return []heap.ID{it.genID} }

func (it *instanceIterator) OwnedHeapRefs() []heap.ID {
	if it.obj.Kind == values.KindRef {
		return []heap.ID{it.obj.HeapID}
	}
	return nil
}

// NewRangeIterator allocates the Iterator for a range() call directly (range
// objects themselves are lightweight and recomputed lazily rather than
// materialized as a heap object, since the continuation machine only ever
// needs sequential iteration over them).
func NewRangeIterator(start, stop, step int64) Iterator {
	return &rangeIterator{cur: start, stop: stop, step: step}
}
